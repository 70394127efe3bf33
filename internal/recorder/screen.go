// Package recorder drives one attendance or visitation screen: the roster,
// the reconciler of the selected date and the realtime subscriptions feeding
// them.
package recorder

import (
	"context"
	"sync"
	"time"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/model"
	"leveltwo/internal/names"
	"leveltwo/internal/reconcile"
	"leveltwo/internal/remote"
	"leveltwo/internal/roster"
	"leveltwo/internal/visitation"
	"leveltwo/pkg/logger"
)

// Remote is what a screen needs from the server.
type Remote interface {
	roster.Source
	roster.AssignmentSource
	reconcile.Store
	reconcile.Identity
	Directory(ctx context.Context) ([]remote.DirectoryEntry, error)
	Subscribe(ctx context.Context, f changefeed.Filter) (<-chan changefeed.Event, error)
}

// Config wires a Screen. Notify receives the text of every notification and
// is called from Run's goroutine. SearchDelay defaults to roster.SearchDelay.
type Config struct {
	Kind        model.Kind
	Remote      Remote
	Confirm     reconcile.Confirmer
	Log         logger.Logger
	Notify      func(text string)
	SearchDelay time.Duration
}

// Row is one member with its entry, if any.
type Row struct {
	Member model.Member
	Record *model.Record
}

// Screen is a live recorder for one record book.
type Screen struct {
	kind   model.Kind
	remote Remote
	log    logger.Logger
	notify func(string)

	roster *roster.Cache
	rec    *reconcile.Reconciler
	search *roster.Debouncer
	events chan changefeed.Event

	mu         sync.Mutex
	base       context.Context
	cancelDate context.CancelFunc
	query      string
	users      map[string]remote.DirectoryEntry
}

// New builds a screen; call Open before anything else.
func New(cfg Config) *Screen {
	s := &Screen{
		kind:   cfg.Kind,
		remote: cfg.Remote,
		log:    cfg.Log,
		notify: cfg.Notify,
		roster: roster.New(cfg.Remote),
		events: make(chan changefeed.Event, 128),
		users:  make(map[string]remote.DirectoryEntry),
	}
	if s.kind == "" {
		s.kind = model.KindAttendance
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.notify == nil {
		s.notify = func(string) {}
	}
	s.rec = reconcile.New(reconcile.Config{
		Kind:     s.kind,
		Store:    cfg.Remote,
		Identity: cfg.Remote,
		Confirm:  cfg.Confirm,
		Names:    s,
	})
	s.search = roster.NewDebouncer(cfg.SearchDelay, s.SetQueryNow)
	return s
}

// Reconciler exposes the state of the selected date.
func (s *Screen) Reconciler() *reconcile.Reconciler { return s.rec }

// Roster exposes the member cache.
func (s *Screen) Roster() *roster.Cache { return s.roster }

// Open loads the roster, the user directory and the records of date, and
// subscribes to their changes. Load failures are logged and the screen
// carries on empty; the first one is returned.
func (s *Screen) Open(ctx context.Context, date string) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if _, err := s.roster.Load(ctx); err != nil {
		s.log.Error("load roster failed", "err", err)
		keep(err)
	}
	if err := s.loadDirectory(ctx); err != nil {
		s.log.Error("load user directory failed", "err", err)
		keep(err)
	}
	if s.kind == model.KindVisits {
		if err := s.roster.LoadAssignments(ctx, s.remote); err != nil {
			s.log.Error("load assignments failed", "err", err)
			keep(err)
		}
		keep(s.subscribe(ctx, changefeed.Filter{Table: "member_assignments"}))
	}
	keep(s.subscribe(ctx, changefeed.Filter{Table: "members"}))
	keep(s.SetDate(date))
	return first
}

func (s *Screen) loadDirectory(ctx context.Context) error {
	dir, err := s.remote.Directory(ctx)
	if err != nil {
		return err
	}
	users := make(map[string]remote.DirectoryEntry, len(dir))
	for _, u := range dir {
		users[u.ID] = u
	}
	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// SetDate switches to date: the previous date's subscription is torn down and
// a new one is opened before the records are reloaded, so writes landing
// during the load are not missed.
func (s *Screen) SetDate(date string) error {
	s.mu.Lock()
	if s.cancelDate != nil {
		s.cancelDate()
	}
	base := s.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	s.cancelDate = cancel
	s.mu.Unlock()

	serr := s.subscribe(ctx, changefeed.Filter{Table: s.kind.Table(), Date: date})
	err := s.rec.LoadForDate(ctx, date)
	if err != nil {
		s.log.Error("load records failed", "err", err, "date", date, "kind", s.kind)
		return err
	}
	return serr
}

func (s *Screen) subscribe(ctx context.Context, f changefeed.Filter) error {
	ch, err := s.remote.Subscribe(ctx, f)
	if err != nil {
		s.log.Error("subscribe failed", "err", err, "table", f.Table, "date", f.Date)
		return err
	}
	go func() {
		for evt := range ch {
			select {
			case s.events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Run applies incoming events one at a time until ctx is done.
func (s *Screen) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-s.events:
			s.handle(evt)
		}
	}
}

func (s *Screen) handle(evt changefeed.Event) {
	switch evt.Table {
	case "members", "member_assignments":
		n, ok := s.roster.Apply(evt)
		if !ok {
			return
		}
		if n.Removed {
			s.rec.Forget(n.MemberID)
		}
		s.notify(n.Text)
	default:
		if n, ok := s.rec.Apply(evt); ok {
			s.notify(n.Text)
		}
	}
}

// Close ends the date subscription and any pending search.
func (s *Screen) Close() {
	s.search.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelDate != nil {
		s.cancelDate()
		s.cancelDate = nil
	}
}

// MemberName implements reconcile.Names.
func (s *Screen) MemberName(id string) string { return s.roster.Name(id) }

// UserName implements reconcile.Names.
func (s *Screen) UserName(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok && u.Name != "" {
		return u.Name
	}
	return id
}

// SetQuery applies query after the search quiet period.
func (s *Screen) SetQuery(query string) { s.search.Set(query) }

// SetQueryNow applies query at once.
func (s *Screen) SetQueryNow(query string) {
	s.mu.Lock()
	s.query = query
	s.mu.Unlock()
}

// Query is the active search text.
func (s *Screen) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Filtered is the roster narrowed by the active query.
func (s *Screen) Filtered() []model.Member { return s.roster.Filter(s.Query()) }

// Rows pairs every filtered member with its entry.
func (s *Screen) Rows() []Row {
	ms := s.Filtered()
	recs := s.rec.Records()
	rows := make([]Row, len(ms))
	for i, m := range ms {
		rows[i] = Row{Member: m}
		if rec, ok := recs[m.ID]; ok {
			rows[i].Record = &rec
		}
	}
	return rows
}

// Sections groups the filtered members by servant.
func (s *Screen) Sections() []visitation.Section {
	s.mu.Lock()
	var servants []visitation.Servant
	for _, u := range s.users {
		if u.Role == model.RoleServant {
			servants = append(servants, visitation.Servant{ID: u.ID, Name: u.Name})
		}
	}
	s.mu.Unlock()
	names.SortBy(servants, func(v visitation.Servant) string { return v.Name })
	return visitation.Group(s.Filtered(), s.roster.Assignments(), servants)
}

// Toggle sets and saves one member's status.
func (s *Screen) Toggle(ctx context.Context, memberID string, status model.Status) error {
	return s.rec.Toggle(ctx, memberID, status)
}

// UpdateNotes edits notes locally.
func (s *Screen) UpdateNotes(memberID, text string) error {
	return s.rec.UpdateNotes(memberID, text)
}

// MarkAll applies status to every filtered member.
func (s *Screen) MarkAll(status model.Status) error {
	return s.rec.MarkAll(roster.IDs(s.Filtered()), status)
}

// MarkRemaining applies status to filtered members without an entry.
func (s *Screen) MarkRemaining(status model.Status) error {
	return s.rec.MarkRemaining(roster.IDs(s.Filtered()), status)
}

// Reset clears the entries of the filtered members.
func (s *Screen) Reset() error {
	return s.rec.ResetFiltered(roster.IDs(s.Filtered()))
}

// Save persists every entry of the date.
func (s *Screen) Save(ctx context.Context) (int, error) {
	return s.rec.SaveAll(ctx)
}

// Stats counts the filtered members by status.
func (s *Screen) Stats() reconcile.Stats {
	return s.rec.Stats(roster.IDs(s.Filtered()))
}
