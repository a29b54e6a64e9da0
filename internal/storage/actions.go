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
	actionColumns = `id, alert_id, action_type, status, metadata, executed_at, created_at, updated_at`

	insertActionSQL = `INSERT INTO alert_actions (id, alert_id, action_type, status, metadata, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5::jsonb, $6, $6);`

	countActionSQL = `UPDATE alerts SET actions_total = actions_total + 1, updated_at = now() WHERE id = $1;`

	getActionSQL = `SELECT ` + actionColumns + ` FROM alert_actions WHERE id = $1;`

	listActionsSQL = `SELECT ` + actionColumns + ` FROM alert_actions WHERE alert_id = $1 ORDER BY created_at, seq;`

	transitionActionSQL = `UPDATE alert_actions
    SET status = $3,
        metadata = metadata || $4::jsonb,
        executed_at = COALESCE($5, executed_at),
        updated_at = now()
    WHERE id = $1 AND status = $2
    RETURNING ` + actionColumns + `;`

	countSuccessSQL = `UPDATE alerts SET actions_succeeded = actions_succeeded + 1, updated_at = now() WHERE id = $1;`
)

// InsertAction stores a pending action and counts it on its alert in one transaction.
func (s *Store) InsertAction(ctx context.Context, action *domain.Action) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := action.Validate(); err != nil {
		return err
	}
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	action.UpdatedAt = action.CreatedAt

	metadata, err := encodeDocument(action.Metadata)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, countActionSQL, action.AlertID)
		if err != nil {
			return fmt.Errorf("count action: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		if _, err := tx.Exec(ctx, insertActionSQL,
			action.ID,
			action.AlertID,
			string(action.Type),
			string(action.Status),
			metadata,
			action.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		return nil
	})
}

// GetAction loads an action.
func (s *Store) GetAction(ctx context.Context, id uuid.UUID) (domain.Action, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Action{}, err
	}
	return scanAction(pool.QueryRow(ctx, getActionSQL, id))
}

// ListActions lists an alert's actions oldest first.
func (s *Store) ListActions(ctx context.Context, alertID uuid.UUID) ([]domain.Action, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listActionsSQL, alertID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]domain.Action, 0)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return actions, nil
}

// TransitionAction compare-and-sets the action status; a successful outcome also bumps the alert counter.
func (s *Store) TransitionAction(ctx context.Context, id uuid.UUID, from, to domain.ActionStatus, patch domain.Document, executedAt *time.Time) (domain.Action, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Action{}, err
	}
	if err := domain.CheckActionTransition(id, from, to); err != nil {
		return domain.Action{}, err
	}
	encoded, err := encodeDocument(patch)
	if err != nil {
		return domain.Action{}, err
	}

	var action domain.Action
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var err error
		action, err = scanAction(tx.QueryRow(ctx, transitionActionSQL, id, string(from), string(to), encoded, executedAt))
		if err != nil {
			return err
		}
		if to == domain.ActionSuccessful {
			if _, err := tx.Exec(ctx, countSuccessSQL, action.AlertID); err != nil {
				return fmt.Errorf("count success: %w", err)
			}
		}
		return nil
	})
	if err == nil {
		return action, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Action{}, err
	}

	current, getErr := s.GetAction(ctx, id)
	if getErr != nil {
		return domain.Action{}, getErr
	}
	return domain.Action{}, &domain.TransitionError{Entity: "action", ID: id.String(), From: string(current.Status), To: string(to)}
}

func scanAction(row scanner) (domain.Action, error) {
	var (
		action     domain.Action
		actionType string
		status     string
		metadata   []byte
	)
	if err := row.Scan(
		&action.ID,
		&action.AlertID,
		&actionType,
		&status,
		&metadata,
		&action.ExecutedAt,
		&action.CreatedAt,
		&action.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Action{}, domain.ErrNotFound
		}
		return domain.Action{}, fmt.Errorf("scan action: %w", err)
	}
	action.Type = domain.ActionType(actionType)
	action.Status = domain.ActionStatus(status)

	var err error
	if action.Metadata, err = decodeDocument(metadata); err != nil {
		return domain.Action{}, err
	}
	return action, nil
}
