// Package reconcile merges locally edited, saved and pushed records of one
// date into a single map per member.
package reconcile

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/model"
)

// tagHistory bounds how many request ids are remembered for echo matching.
const tagHistory = 256

// Store is the remote side of the records.
type Store interface {
	Records(ctx context.Context, kind model.Kind, date string) ([]model.Record, error)
	UpsertRecords(ctx context.Context, kind model.Kind, requestID string, recs []model.Record) ([]model.Record, error)
}

// Identity names the signed-in user; UserID is empty when signed out.
type Identity interface {
	UserID() string
}

// Confirmer asks the user before a save replaces the date's records.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) { return f(ctx, prompt) }

// SavePrompt is the question asked before SaveAll.
func SavePrompt(date string) string {
	return "سيتم استبدال سجلات يوم " + date + ". هل تريد المتابعة؟"
}

// Config wires a Reconciler. Confirm and Names are optional; a nil Confirm
// saves without asking.
type Config struct {
	Kind     model.Kind
	Store    Store
	Identity Identity
	Confirm  Confirmer
	Names    Names
}

// Stats counts the records of a set of members.
type Stats struct {
	Total      int `json:"total"`
	Positive   int `json:"positive"`
	Negative   int `json:"negative"`
	Unrecorded int `json:"unrecorded"`
}

// Reconciler holds the records of the selected date. It is safe for
// concurrent use; network calls run outside the lock.
type Reconciler struct {
	kind     model.Kind
	store    Store
	identity Identity
	confirm  Confirmer
	names    Names
	newID    func() string

	mu      sync.Mutex
	date    string
	records State
	seq     uint64
	unsaved bool
	tags    tagSet

	// changes seen while a load is in flight, replayed over its result;
	// a nil entry is a delete
	loading map[string]*model.Record
}

// New creates a reconciler with no date selected.
func New(cfg Config) *Reconciler {
	kind := cfg.Kind
	if kind == "" {
		kind = model.KindAttendance
	}
	return &Reconciler{
		kind:     kind,
		store:    cfg.Store,
		identity: cfg.Identity,
		confirm:  cfg.Confirm,
		names:    cfg.Names,
		newID:    uuid.NewString,
		records:  State{},
		tags:     tagSet{set: make(map[string]struct{})},
	}
}

// Kind is the record book this reconciler edits.
func (r *Reconciler) Kind() model.Kind { return r.kind }

// Date is the selected date.
func (r *Reconciler) Date() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.date
}

// Records returns a copy of the map.
func (r *Reconciler) Records() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.Clone()
}

// Get returns the entry of memberID.
func (r *Reconciler) Get(memberID string) (model.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[memberID]
	return rec, ok
}

// HasUnsavedChanges reports local edits that no save has persisted.
func (r *Reconciler) HasUnsavedChanges() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsaved
}

// LoadForDate selects date and replaces the map with the stored records.
// Switching date clears the map at once. A load overtaken by a later call is
// discarded when it returns.
func (r *Reconciler) LoadForDate(ctx context.Context, date string) error {
	if !model.ValidDate(date) {
		return &LoadError{Date: date, Err: errors.New("date must be YYYY-MM-DD")}
	}
	r.mu.Lock()
	r.seq++
	seq := r.seq
	if r.date != date {
		r.date = date
		r.records = State{}
		r.unsaved = false
	}
	r.loading = map[string]*model.Record{}
	r.mu.Unlock()

	recs, err := r.store.Records(ctx, r.kind, date)

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != r.seq {
		return nil
	}
	seen := r.loading
	r.loading = nil
	if err != nil {
		r.records = State{}
		return &LoadError{Date: date, Err: err}
	}
	st := make(State, len(recs))
	for _, rec := range recs {
		if rec.Date == "" {
			rec.Date = date
		}
		st[rec.MemberID] = rec
	}
	for id, rec := range seen {
		if rec == nil {
			delete(st, id)
			continue
		}
		st[id] = *rec
	}
	r.records = st
	r.unsaved = false
	return nil
}

// Toggle sets the status of one member and upserts it at once. If the write
// fails the entry goes back to its previous value, unless something else has
// replaced it meanwhile.
func (r *Reconciler) Toggle(ctx context.Context, memberID string, status model.Status) error {
	if !r.kind.Allows(status) {
		return ErrInvalidStatus
	}
	user := r.userID()

	r.mu.Lock()
	if r.date == "" {
		r.mu.Unlock()
		return ErrNoDate
	}
	date := r.date
	prev, had := r.records[memberID]
	next := prev
	if !had {
		next = model.Record{MemberID: memberID, Date: date}
	}
	next.Status = status
	if user != "" {
		next.RecordedBy = &user
	}
	r.records[memberID] = next
	reqID := r.tag()
	r.mu.Unlock()

	if _, err := r.store.UpsertRecords(ctx, r.kind, reqID, []model.Record{next}); err != nil {
		r.mu.Lock()
		if cur, ok := r.records[memberID]; ok && r.date == date && sameRecord(cur, next) {
			if had {
				r.records[memberID] = prev
			} else {
				delete(r.records, memberID)
			}
		}
		r.mu.Unlock()
		return &WriteError{Op: "toggle", MemberIDs: []string{memberID}, Err: err}
	}
	return nil
}

// UpdateNotes edits the notes locally. A member without an entry gets one
// with the negative status.
func (r *Reconciler) UpdateNotes(memberID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.date == "" {
		return ErrNoDate
	}
	rec, ok := r.records[memberID]
	if !ok {
		rec = model.Record{MemberID: memberID, Date: r.date, Status: r.kind.Negative()}
	}
	rec.Notes = text
	r.records[memberID] = rec
	r.unsaved = true
	return nil
}

// SaveAll upserts every entry as one batch. It returns the number of rows
// written; an empty map writes nothing and asks nothing.
func (r *Reconciler) SaveAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	date := r.date
	rows := make([]model.Record, 0, len(r.records))
	for _, rec := range r.records {
		rows = append(rows, rec)
	}
	r.mu.Unlock()

	if len(rows) == 0 {
		return 0, nil
	}
	user := r.userID()
	if user == "" {
		return 0, ErrUnauthenticated
	}
	if r.confirm != nil {
		ok, err := r.confirm.Confirm(ctx, SavePrompt(date))
		if err != nil {
			return 0, errors.Wrap(err, "confirm save")
		}
		if !ok {
			return 0, ErrCancelled
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].MemberID < rows[j].MemberID })
	ids := make([]string, len(rows))
	for i := range rows {
		rows[i].Date = date
		u := user
		rows[i].RecordedBy = &u
		ids[i] = rows[i].MemberID
	}

	r.mu.Lock()
	reqID := r.tag()
	r.mu.Unlock()

	saved, err := r.store.UpsertRecords(ctx, r.kind, reqID, rows)
	if err != nil {
		return 0, &WriteError{Op: "save", MemberIDs: ids, Err: err}
	}
	if len(saved) == 0 {
		saved = rows
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.date == date {
		for _, rec := range saved {
			r.records[rec.MemberID] = rec
		}
		r.unsaved = false
	}
	return len(rows), nil
}

// Apply merges a change event. Inserts and updates overwrite the entry with
// the pushed row; deletes remove it. Events of another table or date are
// ignored. A notification is returned unless the event echoes a write this
// reconciler made.
func (r *Reconciler) Apply(evt changefeed.Event) (Notification, bool) {
	if evt.Table != r.kind.Table() {
		return Notification{}, false
	}
	raw := evt.New
	if evt.Type == changefeed.Delete {
		raw = evt.Old
	}
	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.MemberID == "" {
		return Notification{}, false
	}
	date := rec.Date
	if date == "" {
		date = evt.Date
	}

	r.mu.Lock()
	if r.date == "" || (date != "" && date != r.date) {
		r.mu.Unlock()
		return Notification{}, false
	}
	switch evt.Type {
	case changefeed.Insert, changefeed.Update:
		if rec.Date == "" {
			rec.Date = r.date
		}
		r.records[rec.MemberID] = rec
		if r.loading != nil {
			cp := rec
			r.loading[rec.MemberID] = &cp
		}
	case changefeed.Delete:
		delete(r.records, rec.MemberID)
		if r.loading != nil {
			r.loading[rec.MemberID] = nil
		}
	default:
		r.mu.Unlock()
		return Notification{}, false
	}
	own := r.tags.has(evt.RequestID)
	r.mu.Unlock()

	if own {
		return Notification{}, false
	}
	actor := evt.Actor
	if actor == "" && rec.RecordedBy != nil {
		actor = *rec.RecordedBy
	}
	n := Notification{MemberID: rec.MemberID, Actor: actor, Deleted: evt.Type == changefeed.Delete}
	if !n.Deleted {
		n.Status = rec.Status
	}
	return r.describe(n), true
}

// Forget drops the entry of a member that no longer exists.
func (r *Reconciler) Forget(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, memberID)
}

// MarkAll sets status on every member of ids.
func (r *Reconciler) MarkAll(ids []string, status model.Status) error {
	return r.bulk(status, func(s State, date string) State { return MarkAll(s, ids, date, status) })
}

// MarkRemaining sets status on the members of ids without an entry.
func (r *Reconciler) MarkRemaining(ids []string, status model.Status) error {
	return r.bulk(status, func(s State, date string) State { return MarkRemaining(s, ids, date, status) })
}

// ResetFiltered removes the entries of ids locally.
func (r *Reconciler) ResetFiltered(ids []string) error {
	return r.bulk("", func(s State, _ string) State { return ResetFiltered(s, ids) })
}

func (r *Reconciler) bulk(status model.Status, op func(State, string) State) error {
	if status != "" && !r.kind.Allows(status) {
		return ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.date == "" {
		return ErrNoDate
	}
	r.records = op(r.records, r.date)
	r.unsaved = true
	return nil
}

// Stats counts positive, negative and missing entries among ids.
func (r *Reconciler) Stats(ids []string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{Total: len(ids)}
	for _, id := range ids {
		rec, ok := r.records[id]
		switch {
		case !ok:
			st.Unrecorded++
		case rec.Status == r.kind.Positive():
			st.Positive++
		default:
			st.Negative++
		}
	}
	return st
}

func (r *Reconciler) userID() string {
	if r.identity == nil {
		return ""
	}
	return r.identity.UserID()
}

// tag issues a request id and remembers it. Callers hold mu.
func (r *Reconciler) tag() string {
	id := r.newID()
	r.tags.add(id)
	return id
}

func sameRecord(a, b model.Record) bool {
	if a.Status != b.Status || a.Notes != b.Notes {
		return false
	}
	switch {
	case a.RecordedBy == nil && b.RecordedBy == nil:
		return true
	case a.RecordedBy == nil || b.RecordedBy == nil:
		return false
	}
	return *a.RecordedBy == *b.RecordedBy
}

// tagSet remembers the last tagHistory request ids. Echoes may arrive more
// than once, so ids are not removed when matched.
type tagSet struct {
	ring []string
	next int
	set  map[string]struct{}
}

func (t *tagSet) add(id string) {
	if len(t.ring) < tagHistory {
		t.ring = append(t.ring, id)
	} else {
		delete(t.set, t.ring[t.next])
		t.ring[t.next] = id
		t.next = (t.next + 1) % tagHistory
	}
	t.set[id] = struct{}{}
}

func (t *tagSet) has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := t.set[id]
	return ok
}
