package roster

import (
	"strings"
	"sync"
	"time"
)

// SearchDelay is the quiet period before a typed query takes effect.
const SearchDelay = 250 * time.Millisecond

// Debouncer delivers the last query set once no new query arrived for delay.
type Debouncer struct {
	delay time.Duration
	apply func(query string)

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer calls apply with the trimmed query after each quiet period.
func NewDebouncer(delay time.Duration, apply func(query string)) *Debouncer {
	if delay <= 0 {
		delay = SearchDelay
	}
	return &Debouncer{delay: delay, apply: apply}
}

// Set restarts the quiet period with query.
func (d *Debouncer) Set(query string) {
	query = strings.TrimSpace(query)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.apply(query) })
}

// Stop drops a pending query.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
