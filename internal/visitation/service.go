package visitation

import (
	"context"
	"errors"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/model"
	"leveltwo/internal/users"
	"leveltwo/pkg/logger"
)

const assignmentsTable = "member_assignments"

var ErrNoServants = errors.New("no servant accounts to distribute to")

// Store persists assignments.
type Store interface {
	List(ctx context.Context) ([]model.Assignment, error)
	Upsert(ctx context.Context, as []model.Assignment) ([]bool, error)
}

// Roster lists members.
type Roster interface {
	List(ctx context.Context) ([]model.Member, error)
}

// Directory lists users in display order.
type Directory interface {
	Directory(ctx context.Context) ([]users.DirectoryEntry, error)
}

// Service manages servant assignments.
type Service struct {
	store     Store
	roster    Roster
	directory Directory
	feed      changefeed.Feed
	log       logger.Logger
}

// NewService wires the assignment service.
func NewService(store Store, roster Roster, directory Directory, feed changefeed.Feed, log logger.Logger) *Service {
	return &Service{store: store, roster: roster, directory: directory, feed: feed, log: log}
}

// List returns every assignment.
func (s *Service) List(ctx context.Context) ([]model.Assignment, error) {
	return s.store.List(ctx)
}

// Distribute spreads the whole roster across the first MaxServants servants
// of the directory and persists the result.
func (s *Service) Distribute(ctx context.Context, actor string) ([]model.Assignment, error) {
	members, err := s.roster.List(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := s.directory.Directory(ctx)
	if err != nil {
		return nil, err
	}
	var servantIDs []string
	for _, u := range dir {
		if u.Role == model.RoleServant {
			servantIDs = append(servantIDs, u.ID)
		}
	}
	if len(servantIDs) == 0 {
		return nil, ErrNoServants
	}

	as := Distribute(members, servantIDs)
	if len(as) == 0 {
		return as, nil
	}
	inserted, err := s.store.Upsert(ctx, as)
	if err != nil {
		return nil, err
	}
	for i, a := range as {
		typ := changefeed.Update
		if i < len(inserted) && inserted[i] {
			typ = changefeed.Insert
		}
		evt, err := changefeed.Event{Table: assignmentsTable, Type: typ, Actor: actor}.Rows(a, nil)
		if err != nil {
			s.log.InternalError("encode assignment event", err)
			continue
		}
		if err := s.feed.Publish(ctx, evt); err != nil {
			s.log.InternalError("publish assignment event", err)
		}
	}
	s.log.Info("roster distributed", "members", len(as), "servants", min(len(servantIDs), MaxServants), "by", actor)
	return as, nil
}
