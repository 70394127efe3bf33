package attendance

import (
	"context"
	"errors"
	"fmt"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/metrics"
	"leveltwo/internal/model"
	"leveltwo/pkg/logger"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("invalid record")
)

// Store is the persistence the service needs.
type Store interface {
	List(ctx context.Context, kind model.Kind, date string) ([]model.Record, error)
	Upsert(ctx context.Context, kind model.Kind, recs []model.Record) ([]Change, error)
	Delete(ctx context.Context, kind model.Kind, memberID, date string) (model.Record, error)
}

// Service validates record writes and publishes them on the change feed after
// they commit.
type Service struct {
	store   Store
	feed    changefeed.Feed
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewService creates a service; m may be nil.
func NewService(store Store, feed changefeed.Feed, m *metrics.Metrics, log logger.Logger) *Service {
	return &Service{store: store, feed: feed, metrics: m, log: log}
}

// List returns the records of one date.
func (s *Service) List(ctx context.Context, kind model.Kind, date string) ([]model.Record, error) {
	if !model.ValidDate(date) {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRecord)
	}
	return s.store.List(ctx, kind, date)
}

func validate(kind model.Kind, rec model.Record) error {
	switch {
	case rec.MemberID == "":
		return fmt.Errorf("%w: member_id required", ErrInvalidRecord)
	case !model.ValidDate(rec.Date):
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRecord)
	case !kind.Allows(rec.Status):
		return fmt.Errorf("%w: status %q not allowed for %s", ErrInvalidRecord, rec.Status, kind)
	}
	return nil
}

// Upsert saves the batch atomically. Records without an actor are attributed
// to the caller. Each resulting change event carries requestID so the writer
// can recognise its own echo.
func (s *Service) Upsert(ctx context.Context, kind model.Kind, actor, requestID string, recs []model.Record) ([]model.Record, error) {
	if len(recs) == 0 {
		return []model.Record{}, nil
	}
	for i := range recs {
		if err := validate(kind, recs[i]); err != nil {
			return nil, err
		}
		if recs[i].RecordedBy == nil && actor != "" {
			recs[i].RecordedBy = model.StringPtr(actor)
		}
	}

	changes, err := s.store.Upsert(ctx, kind, recs)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordsWritten.WithLabelValues(string(kind), "upsert").Add(float64(len(changes)))
	}

	out := make([]model.Record, 0, len(changes))
	for _, ch := range changes {
		typ := changefeed.Update
		if ch.Inserted {
			typ = changefeed.Insert
		}
		s.publish(ctx, kind, typ, actor, requestID, ch.Record.Date, &ch.Record, nil)
		out = append(out, ch.Record)
	}
	return out, nil
}

// Delete removes one record.
func (s *Service) Delete(ctx context.Context, kind model.Kind, actor, requestID, memberID, date string) error {
	if memberID == "" || !model.ValidDate(date) {
		return fmt.Errorf("%w: member_id and date required", ErrInvalidRecord)
	}
	old, err := s.store.Delete(ctx, kind, memberID, date)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordsWritten.WithLabelValues(string(kind), "delete").Inc()
	}
	s.publish(ctx, kind, changefeed.Delete, actor, requestID, date, nil, &old)
	return nil
}

func (s *Service) publish(ctx context.Context, kind model.Kind, typ changefeed.EventType, actor, requestID, date string, newRow, oldRow *model.Record) {
	var nr, or any
	if newRow != nil {
		nr = newRow
	}
	if oldRow != nil {
		or = oldRow
	}
	evt, err := changefeed.Event{
		Table:     kind.Table(),
		Type:      typ,
		Date:      date,
		RequestID: requestID,
		Actor:     actor,
	}.Rows(nr, or)
	if err != nil {
		s.log.InternalError("encode record event", err)
		return
	}
	if err := s.feed.Publish(ctx, evt); err != nil {
		s.log.InternalError("publish record event", err, "kind", kind, "type", typ)
	}
}
