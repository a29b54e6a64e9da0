package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/metrics"
	"merchant-guard/internal/storage"
)

// Draft is an event as received from upstream, before it is appended.
type Draft struct {
	StoreID    uuid.UUID
	Type       domain.EventType
	Payload    domain.Document
	ReceivedAt time.Time
	Source     string
}

// Range bounds a query by creation time. Zero bounds are open; both bounds are exclusive.
type Range struct {
	After  time.Time
	Before time.Time
}

// Since returns the trailing window ending at now.
func Since(now time.Time, window time.Duration) Range {
	return Range{After: now.Add(-window)}
}

// Options tune the event log.
type Options struct {
	Now func() time.Time
}

// Log is the append-only event log of every store.
type Log struct {
	store  storage.EventStore
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Log on top of an event store.
func New(store storage.EventStore, opts Options, logger zerolog.Logger) *Log {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Log{
		store:  store,
		now:    now,
		logger: logger.With().Str("component", "eventlog").Logger(),
	}
}

// Append stores the event with its metadata projection merged and marks it processed.
// Both happen in one storage write, so a failed Append stores nothing.
func (l *Log) Append(ctx context.Context, draft Draft) (domain.Event, error) {
	source := draft.Source
	if source == "" {
		source = "api"
	}

	event := domain.Event{
		StoreID:   draft.StoreID,
		Type:      draft.Type,
		Payload:   draft.Payload.Clone(),
		Metadata:  domain.Document{},
		CreatedAt: draft.ReceivedAt,
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now()
	}

	projection := Project(event.Type, event.Payload)
	if err := l.store.AppendEvent(ctx, &event, projection, l.now()); err != nil {
		metrics.EventsRejected.WithLabelValues(source, rejectReason(err)).Inc()
		return domain.Event{}, fmt.Errorf("append event: %w", err)
	}

	metrics.EventsIngested.WithLabelValues(string(event.Type), source).Inc()
	l.logger.Debug().
		Str("store_id", event.StoreID.String()).
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Int("projected_fields", len(projection)).
		Msg("event appended")
	return event, nil
}

// Query returns a store's events of the given types ordered by creation time ascending.
// An empty type list matches every type. Each call re-reads the log.
func (l *Log) Query(ctx context.Context, storeID uuid.UUID, types []domain.EventType, r Range) ([]domain.Event, error) {
	events, err := l.store.ListEvents(ctx, storage.EventQuery{
		StoreID: storeID,
		Types:   types,
		After:   r.After,
		Before:  r.Before,
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

func rejectReason(err error) string {
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &invalid):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "unknown_store"
	default:
		return "storage"
	}
}
