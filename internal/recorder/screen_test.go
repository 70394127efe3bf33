package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/model"
	"leveltwo/internal/remote"
	"leveltwo/pkg/logger"
)

const day = "2024-01-05"

// fakeRemote keeps records in memory and publishes every write on feed, the
// way the server does.
type fakeRemote struct {
	feed *changefeed.InMemory
	user string

	mu          sync.Mutex
	members     []model.Member
	assignments []model.Assignment
	users       []remote.DirectoryEntry
	records     map[string]model.Record
	loadErr     error
	subs        []changefeed.Filter
	afterRead   func()
}

func newRemote() *fakeRemote {
	return &fakeRemote{
		feed: changefeed.NewInMemory(64),
		user: "u1",
		members: []model.Member{
			{ID: "1", Name: "Mina", Phones: []string{"0100 123"}},
			{ID: "2", Name: "Karim"},
		},
		users: []remote.DirectoryEntry{
			{ID: "u1", Name: "Marina", Role: model.RoleServant},
			{ID: "u2", Name: "Kero", Role: model.RoleServant},
		},
		records: make(map[string]model.Record),
	}
}

func (f *fakeRemote) UserID() string { return f.user }

func (f *fakeRemote) Members(context.Context) ([]model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Member(nil), f.members...), nil
}

func (f *fakeRemote) Assignments(context.Context) ([]model.Assignment, error) {
	return f.assignments, nil
}

func (f *fakeRemote) Directory(context.Context) ([]remote.DirectoryEntry, error) {
	return f.users, nil
}

func (f *fakeRemote) Records(_ context.Context, _ model.Kind, date string) ([]model.Record, error) {
	f.mu.Lock()
	if f.loadErr != nil {
		f.mu.Unlock()
		return nil, f.loadErr
	}
	var out []model.Record
	for _, r := range f.records {
		if r.Date == date {
			out = append(out, r)
		}
	}
	hook := f.afterRead
	f.afterRead = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeRemote) UpsertRecords(ctx context.Context, kind model.Kind, requestID string, recs []model.Record) ([]model.Record, error) {
	for _, r := range recs {
		f.write(ctx, kind, requestID, f.user, r)
	}
	return recs, nil
}

func (f *fakeRemote) write(ctx context.Context, kind model.Kind, requestID, actor string, r model.Record) {
	f.mu.Lock()
	f.records[r.MemberID+"|"+r.Date] = r
	f.mu.Unlock()
	evt, _ := changefeed.Event{Table: kind.Table(), Type: changefeed.Update, Date: r.Date, RequestID: requestID, Actor: actor}.Rows(r, nil)
	_ = f.feed.Publish(ctx, evt)
}

func (f *fakeRemote) Subscribe(ctx context.Context, filter changefeed.Filter) (<-chan changefeed.Event, error) {
	f.mu.Lock()
	f.subs = append(f.subs, filter)
	f.mu.Unlock()
	src, err := f.feed.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan changefeed.Event, 64)
	go func() {
		defer close(out)
		for evt := range src {
			if filter.Matches(evt) {
				out <- evt
			}
		}
	}()
	return out, nil
}

func (f *fakeRemote) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type notes struct {
	mu   sync.Mutex
	list []string
}

func (n *notes) add(text string) {
	n.mu.Lock()
	n.list = append(n.list, text)
	n.mu.Unlock()
}

func (n *notes) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.list...)
}

func openScreen(t *testing.T, rem *fakeRemote, kind model.Kind) (*Screen, *notes) {
	t.Helper()
	got := &notes{}
	s := New(Config{Kind: kind, Remote: rem, Log: logger.Discard(), Notify: got.add, SearchDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		s.Close()
		cancel()
	})
	require.NoError(t, s.Open(ctx, day))
	go func() { _ = s.Run(ctx) }()
	return s, got
}

func publishRecord(t *testing.T, rem *fakeRemote, actor string, rec model.Record) {
	t.Helper()
	rem.write(context.Background(), model.KindAttendance, "", actor, rec)
}

func TestOtherWritersAreMergedAndAnnounced(t *testing.T) {
	rem := newRemote()
	s, got := openScreen(t, rem, model.KindAttendance)

	publishRecord(t, rem, "u2", model.Record{MemberID: "2", Date: day, Status: model.StatusPresent})
	require.Eventually(t, func() bool {
		_, ok := s.Reconciler().Get("2")
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(got.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Kero سجّل Karim: حاضر", got.all()[0])
}

func TestOwnToggleEchoIsSilent(t *testing.T) {
	rem := newRemote()
	s, got := openScreen(t, rem, model.KindAttendance)

	require.NoError(t, s.Toggle(context.Background(), "1", model.StatusPresent))
	publishRecord(t, rem, "u2", model.Record{MemberID: "2", Date: day, Status: model.StatusAbsent})

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, got.all()[0], "Karim")
	rec, ok := s.Reconciler().Get("1")
	require.True(t, ok)
	assert.Equal(t, model.StatusPresent, rec.Status)
}

func TestMemberDeletePurgesRecord(t *testing.T) {
	rem := newRemote()
	s, got := openScreen(t, rem, model.KindAttendance)
	require.NoError(t, s.MarkAll(model.StatusPresent))

	evt, err := changefeed.Event{Table: "members", Type: changefeed.Delete}.Rows(nil, model.Member{ID: "1", Name: "Mina"})
	require.NoError(t, err)
	require.NoError(t, rem.feed.Publish(context.Background(), evt))

	require.Eventually(t, func() bool {
		_, ok := s.Reconciler().Get("1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, s.Rows(), 1)
	require.Eventually(t, func() bool { return len(got.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "تم حذف Mina", got.all()[0])
}

func TestSetDateResubscribes(t *testing.T) {
	rem := newRemote()
	s, _ := openScreen(t, rem, model.KindAttendance)
	before := rem.subscriptions()

	next := "2024-01-12"
	require.NoError(t, s.SetDate(next))
	assert.Equal(t, before+1, rem.subscriptions())
	assert.Equal(t, next, s.Reconciler().Date())

	publishRecord(t, rem, "u2", model.Record{MemberID: "1", Date: day, Status: model.StatusPresent})
	publishRecord(t, rem, "u2", model.Record{MemberID: "2", Date: next, Status: model.StatusPresent})
	require.Eventually(t, func() bool {
		_, ok := s.Reconciler().Get("2")
		return ok
	}, time.Second, 5*time.Millisecond)
	_, ok := s.Reconciler().Get("1")
	assert.False(t, ok)
}

func TestWriteDuringDateLoadIsMerged(t *testing.T) {
	rem := newRemote()
	s, _ := openScreen(t, rem, model.KindAttendance)

	next := "2024-01-12"
	rem.mu.Lock()
	rem.afterRead = func() {
		publishRecord(t, rem, "u2", model.Record{MemberID: "2", Date: next, Status: model.StatusPresent})
	}
	rem.mu.Unlock()

	require.NoError(t, s.SetDate(next))
	require.Eventually(t, func() bool {
		rec, ok := s.Reconciler().Get("2")
		return ok && rec.Status == model.StatusPresent
	}, time.Second, 5*time.Millisecond)
}

func TestSearchNarrowsBulkOperations(t *testing.T) {
	rem := newRemote()
	s, _ := openScreen(t, rem, model.KindAttendance)
	require.NoError(t, s.MarkAll(model.StatusPresent))

	s.SetQuery("kar")
	require.Eventually(t, func() bool { return s.Query() == "kar" }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.MarkAll(model.StatusAbsent))

	recs := s.Reconciler().Records()
	assert.Equal(t, model.StatusPresent, recs["1"].Status)
	assert.Equal(t, model.StatusAbsent, recs["2"].Status)
	assert.Equal(t, 1, s.Stats().Total)

	require.NoError(t, s.Reset())
	s.SetQueryNow("")
	assert.Len(t, s.Reconciler().Records(), 1)
	assert.Equal(t, 2, s.Stats().Total)
}

func TestSaveAndReload(t *testing.T) {
	rem := newRemote()
	s, _ := openScreen(t, rem, model.KindAttendance)
	require.NoError(t, s.MarkAll(model.StatusPresent))
	require.NoError(t, s.UpdateNotes("2", "arrived late"))

	n, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.SetDate(day))
	rows := s.Rows()
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Record)
	assert.Equal(t, "arrived late", rows[0].Record.Notes)
}

func TestVisitationSections(t *testing.T) {
	rem := newRemote()
	rem.assignments = []model.Assignment{{MemberID: "1", ServantID: "u2"}}
	s, _ := openScreen(t, rem, model.KindVisits)

	sections := s.Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, "Kero", sections[0].ServantName)
	assert.Equal(t, "Mina", sections[0].Members[0].Name)
	assert.Empty(t, sections[1].ServantID)
	assert.Equal(t, "Karim", sections[1].Members[0].Name)

	evt, err := changefeed.Event{Table: "member_assignments", Type: changefeed.Insert}.Rows(model.Assignment{MemberID: "2", ServantID: "u1"}, nil)
	require.NoError(t, err)
	require.NoError(t, rem.feed.Publish(context.Background(), evt))
	require.Eventually(t, func() bool { return len(s.Sections()) == 2 && s.Sections()[1].ServantID == "u1" }, time.Second, 5*time.Millisecond)
}

func TestLoadFailureDegradesToEmpty(t *testing.T) {
	rem := newRemote()
	rem.loadErr = errors.New("offline")
	s := New(Config{Kind: model.KindAttendance, Remote: rem})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.Close()

	err := s.Open(ctx, day)
	require.Error(t, err)
	assert.Empty(t, s.Reconciler().Records())
	assert.Len(t, s.Rows(), 2)
}
