package changefeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventType mirrors the row operation that produced an event.
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// Event is one row change. New is empty for deletes and Old is empty for inserts.
type Event struct {
	Table     string          `json:"table"`
	Type      EventType       `json:"type"`
	Date      string          `json:"date,omitempty"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	At        time.Time       `json:"at"`
}

// Rows encodes the new and old row images of evt. Nil rows are left empty.
func (evt Event) Rows(newRow, oldRow any) (Event, error) {
	if newRow != nil {
		b, err := json.Marshal(newRow)
		if err != nil {
			return evt, err
		}
		evt.New = b
	}
	if oldRow != nil {
		b, err := json.Marshal(oldRow)
		if err != nil {
			return evt, err
		}
		evt.Old = b
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	return evt, nil
}

// Filter scopes a subscription to one table and optionally one date.
type Filter struct {
	Table string
	Date  string
}

// Matches reports whether evt falls inside the filter. Events without a date
// (members, assignments) pass a date filter.
func (f Filter) Matches(evt Event) bool {
	if f.Table != "" && f.Table != evt.Table {
		return false
	}
	if f.Date != "" && evt.Date != "" && f.Date != evt.Date {
		return false
	}
	return true
}

// Feed is the abstraction over different backends.
type Feed interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// InMemory fans events out to every live subscriber of this process.
type InMemory struct {
	mu     sync.Mutex
	size   int
	subs   map[chan Event]struct{}
	closed bool
}

// NewInMemory creates a broadcaster whose subscribers buffer up to size events.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{size: size, subs: make(map[chan Event]struct{})}
}

// Publish delivers evt to each subscriber. A subscriber whose buffer is full
// misses the event rather than blocking the publisher.
func (f *InMemory) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx is done.
func (f *InMemory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, f.size)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, nil
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}()
	return ch, nil
}

// Close ends every subscription.
func (f *InMemory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
