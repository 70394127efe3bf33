// Package roster keeps the client's sorted copy of the members and their
// servant assignments in step with the change feed.
package roster

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/model"
	"leveltwo/internal/names"
)

const (
	membersTable     = "members"
	assignmentsTable = "member_assignments"
)

// Source loads the roster.
type Source interface {
	Members(ctx context.Context) ([]model.Member, error)
}

// AssignmentSource loads servant assignments.
type AssignmentSource interface {
	Assignments(ctx context.Context) ([]model.Assignment, error)
}

// Notification describes an applied member change. Removed asks the screen to
// purge the member's record for the selected date.
type Notification struct {
	MemberID string
	Text     string
	Removed  bool
}

// Cache is safe for concurrent use.
type Cache struct {
	src Source

	mu          sync.RWMutex
	members     []model.Member
	assignments map[string]string
}

// New creates an empty cache over src.
func New(src Source) *Cache {
	return &Cache{src: src, assignments: make(map[string]string)}
}

// Load replaces the cache with the server's roster, sorted by name.
func (c *Cache) Load(ctx context.Context) ([]model.Member, error) {
	ms, err := c.src.Members(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load roster")
	}
	ms = append([]model.Member(nil), ms...)
	names.SortBy(ms, func(m model.Member) string { return m.Name })

	c.mu.Lock()
	c.members = ms
	c.mu.Unlock()
	return c.Members(), nil
}

// LoadAssignments replaces the servant assignments.
func (c *Cache) LoadAssignments(ctx context.Context, src AssignmentSource) error {
	as, err := src.Assignments(ctx)
	if err != nil {
		return errors.Wrap(err, "load assignments")
	}
	m := make(map[string]string, len(as))
	for _, a := range as {
		m[a.MemberID] = a.ServantID
	}
	c.mu.Lock()
	c.assignments = m
	c.mu.Unlock()
	return nil
}

// Members returns a copy of the sorted roster.
func (c *Cache) Members() []model.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Member(nil), c.members...)
}

// Assignments returns member id to servant id.
func (c *Cache) Assignments() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.assignments))
	for k, v := range c.assignments {
		out[k] = v
	}
	return out
}

// Member looks a member up by id.
func (c *Cache) Member(id string) (model.Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		if m.ID == id {
			return m, true
		}
	}
	return model.Member{}, false
}

// Name is the member's name, or the id when unknown.
func (c *Cache) Name(id string) string {
	if m, ok := c.Member(id); ok {
		return m.Name
	}
	return id
}

// Filter returns the members whose name contains query.
func (c *Cache) Filter(query string) []model.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Member
	for _, m := range c.members {
		if names.Contains(m.Name, query) {
			out = append(out, m)
		}
	}
	return out
}

// IDs lists the ids of ms.
func IDs(ms []model.Member) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

// Apply merges a members or member_assignments event. Member events yield a
// notification; other tables and undecodable rows are ignored.
func (c *Cache) Apply(evt changefeed.Event) (Notification, bool) {
	switch evt.Table {
	case membersTable:
		return c.applyMember(evt)
	case assignmentsTable:
		c.applyAssignment(evt)
	}
	return Notification{}, false
}

func (c *Cache) applyMember(evt changefeed.Event) (Notification, bool) {
	var m model.Member
	raw := evt.New
	if evt.Type == changefeed.Delete {
		raw = evt.Old
	}
	if err := json.Unmarshal(raw, &m); err != nil || m.ID == "" {
		return Notification{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := -1
	for i := range c.members {
		if c.members[i].ID == m.ID {
			idx = i
			break
		}
	}

	switch evt.Type {
	case changefeed.Insert, changefeed.Update:
		if idx >= 0 {
			c.members[idx] = m
		} else {
			c.members = append(c.members, m)
		}
		names.SortBy(c.members, func(m model.Member) string { return m.Name })
		if evt.Type == changefeed.Insert {
			return Notification{MemberID: m.ID, Text: "تمت إضافة " + m.Name}, true
		}
		return Notification{MemberID: m.ID, Text: "تم تحديث بيانات " + m.Name}, true
	case changefeed.Delete:
		name := m.Name
		if idx >= 0 {
			if name == "" {
				name = c.members[idx].Name
			}
			c.members = append(c.members[:idx], c.members[idx+1:]...)
		}
		delete(c.assignments, m.ID)
		return Notification{MemberID: m.ID, Text: "تم حذف " + name, Removed: true}, true
	}
	return Notification{}, false
}

func (c *Cache) applyAssignment(evt changefeed.Event) {
	var a model.Assignment
	raw := evt.New
	if evt.Type == changefeed.Delete {
		raw = evt.Old
	}
	if err := json.Unmarshal(raw, &a); err != nil || a.MemberID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if evt.Type == changefeed.Delete {
		delete(c.assignments, a.MemberID)
		return
	}
	c.assignments[a.MemberID] = a.ServantID
}
