package members

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/model"
	"leveltwo/internal/validation"
	"leveltwo/pkg/logger"
)

const table = "members"

// Repository is the storage the service needs.
type Repository interface {
	List(ctx context.Context) ([]model.Member, error)
	Get(ctx context.Context, id string) (model.Member, error)
	Create(ctx context.Context, ms []model.Member) ([]model.Member, error)
	Update(ctx context.Context, m model.Member) (model.Member, error)
	Delete(ctx context.Context, id string) (model.Member, error)
}

// Input is the editable part of a member.
type Input struct {
	Name   string   `json:"name" validate:"notblank"`
	Phones []string `json:"phones"`
	Notes  string   `json:"notes"`
}

// Service manages the roster and publishes every change.
type Service struct {
	repo     Repository
	feed     changefeed.Feed
	validate *validation.Validator
	log      logger.Logger
}

// NewService wires a roster service.
func NewService(repo Repository, feed changefeed.Feed, validate *validation.Validator, log logger.Logger) *Service {
	return &Service{repo: repo, feed: feed, validate: validate, log: log}
}

// NormalizePhones trims numbers and drops empties and duplicates, keeping order.
func NormalizePhones(phones []string) []string {
	out := make([]string, 0, len(phones))
	seen := make(map[string]bool, len(phones))
	for _, p := range phones {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (s *Service) build(id string, in Input) (model.Member, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return model.Member{}, err
	}
	return model.Member{
		ID:     id,
		Name:   in.Name,
		Phones: NormalizePhones(in.Phones),
		Notes:  strings.TrimSpace(in.Notes),
	}, nil
}

// List returns the roster.
func (s *Service) List(ctx context.Context) ([]model.Member, error) {
	return s.repo.List(ctx)
}

// Create adds one member.
func (s *Service) Create(ctx context.Context, actor string, in Input) (model.Member, error) {
	created, err := s.createMany(ctx, actor, []Input{in})
	if err != nil {
		return model.Member{}, err
	}
	return created[0], nil
}

// Import parses text and inserts every line, or nothing when a line is invalid.
func (s *Service) Import(ctx context.Context, actor, text string) ([]model.Member, error) {
	inputs, err := ParseImport(text)
	if err != nil {
		return nil, err
	}
	return s.createMany(ctx, actor, inputs)
}

func (s *Service) createMany(ctx context.Context, actor string, inputs []Input) ([]model.Member, error) {
	ms := make([]model.Member, 0, len(inputs))
	for _, in := range inputs {
		m, err := s.build(uuid.NewString(), in)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	created, err := s.repo.Create(ctx, ms)
	if err != nil {
		return nil, err
	}
	for _, m := range created {
		s.publish(ctx, changefeed.Insert, actor, &m, nil)
	}
	return created, nil
}

// Update replaces the editable fields of member id.
func (s *Service) Update(ctx context.Context, actor, id string, in Input) (model.Member, error) {
	m, err := s.build(id, in)
	if err != nil {
		return model.Member{}, err
	}
	old, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Member{}, err
	}
	saved, err := s.repo.Update(ctx, m)
	if err != nil {
		return model.Member{}, err
	}
	s.publish(ctx, changefeed.Update, actor, &saved, &old)
	return saved, nil
}

// Delete removes member id.
func (s *Service) Delete(ctx context.Context, actor, id string) error {
	old, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, changefeed.Delete, actor, nil, &old)
	return nil
}

func (s *Service) publish(ctx context.Context, typ changefeed.EventType, actor string, newRow, oldRow *model.Member) {
	var nr, or any
	if newRow != nil {
		nr = newRow
	}
	if oldRow != nil {
		or = oldRow
	}
	evt, err := changefeed.Event{Table: table, Type: typ, Actor: actor}.Rows(nr, or)
	if err != nil {
		s.log.InternalError("encode member event", err)
		return
	}
	if err := s.feed.Publish(ctx, evt); err != nil {
		s.log.InternalError("publish member event", err, "type", typ)
	}
}
