package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"merchant-guard/internal/domain"
)

const (
	eventColumns = `id, seq, store_id, event_type, payload, metadata, processed, processed_at, created_at`

	insertEventSQL = `INSERT INTO events (id, store_id, event_type, payload, metadata, processed, created_at)
    VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, false, $6)
    RETURNING seq;`

	markEventProcessedSQL = `UPDATE events
    SET metadata = metadata || $2::jsonb,
        processed = true,
        processed_at = $3
    WHERE id = $1 AND processed = false;`

	storeExistsSQL = `SELECT EXISTS (SELECT 1 FROM stores WHERE id = $1);`
)

// AppendEvent inserts the event with its projected metadata already merged and the
// processed flag set, in one transaction. Either both land or neither does.
func (s *Store) AppendEvent(ctx context.Context, event *domain.Event, projection domain.Document, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	payload, err := encodeDocument(event.Payload)
	if err != nil {
		return err
	}
	metadata, err := encodeDocument(event.Metadata)
	if err != nil {
		return err
	}
	patch, err := encodeDocument(projection)
	if err != nil {
		return err
	}

	var seq int64
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, storeExistsSQL, event.StoreID).Scan(&exists); err != nil {
			return fmt.Errorf("check store: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}

		if err := tx.QueryRow(ctx, insertEventSQL,
			event.ID,
			event.StoreID,
			string(event.Type),
			payload,
			metadata,
			event.CreatedAt,
		).Scan(&seq); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		tag, err := tx.Exec(ctx, markEventProcessedSQL, event.ID, patch, at)
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return &domain.TransitionError{Entity: "event", ID: event.ID.String(), From: "processed", To: "processed"}
		}
		return nil
	})
	if err != nil {
		return err
	}

	processedAt := at
	event.Seq = seq
	event.Metadata = event.Metadata.Merge(projection)
	event.Processed = true
	event.ProcessedAt = &processedAt
	return nil
}

// ListEvents returns a store's events ordered by creation time, then append order.
func (s *Store) ListEvents(ctx context.Context, q EventQuery) ([]domain.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var where whereBuilder
	where.add("store_id = ?", q.StoreID)
	if len(q.Types) > 0 {
		types := make([]string, 0, len(q.Types))
		for _, t := range q.Types {
			types = append(types, string(t))
		}
		where.add("event_type = ANY(?)", types)
	}
	if !q.After.IsZero() {
		where.add("created_at > ?", q.After)
	}
	if !q.Before.IsZero() {
		where.add("created_at < ?", q.Before)
	}

	query := `SELECT ` + eventColumns + ` FROM events` + where.String() + ` ORDER BY created_at, seq;`
	rows, err := pool.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanEvent(row scanner) (domain.Event, error) {
	var (
		event     domain.Event
		eventType string
		payload   []byte
		metadata  []byte
	)
	if err := row.Scan(
		&event.ID,
		&event.Seq,
		&event.StoreID,
		&eventType,
		&payload,
		&metadata,
		&event.Processed,
		&event.ProcessedAt,
		&event.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("scan event: %w", err)
	}
	event.Type = domain.EventType(eventType)

	var err error
	if event.Payload, err = decodeDocument(payload); err != nil {
		return domain.Event{}, err
	}
	if event.Metadata, err = decodeDocument(metadata); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}
