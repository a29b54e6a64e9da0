package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"merchant-guard/internal/domain"
)

const (
	alertColumns = `id, store_id, rule_type, status, severity, title, description, metadata,
        resolved_at, resolved_by, money_saved::text, time_saved, action_rate,
        actions_total, actions_succeeded, created_at, updated_at`

	insertAlertSQL = `INSERT INTO alerts (id, store_id, rule_type, status, severity, title, description, metadata, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $9);`

	getAlertSQL = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`

	closeAlertSQL = `UPDATE alerts
    SET status = $2, resolved_at = $3, resolved_by = $4, updated_at = $3
    WHERE id = $1 AND status = 'active'
    RETURNING ` + alertColumns + `;`

	setAlertSavingsSQL = `UPDATE alerts
    SET money_saved = $2::numeric, time_saved = $3, updated_at = now()
    WHERE id = $1
    RETURNING ` + alertColumns + `;`

	recomputeActionRateSQL = `UPDATE alerts
    SET action_rate = actions_succeeded * 100.0 / actions_total, updated_at = now()
    WHERE id = $1 AND actions_total > 0
    RETURNING ` + alertColumns + `;`

	averageActionRateSQL = `SELECT COALESCE(AVG(action_rate), 0), COUNT(*)
    FROM alerts
    WHERE store_id = $1 AND rule_type = $2 AND actions_total > 0;`

	storeSummarySQL = `SELECT
        COALESCE(SUM(money_saved), 0)::text,
        COALESCE(SUM(time_saved), 0),
        COALESCE(AVG(action_rate), 0),
        COUNT(*) FILTER (WHERE status = 'active'),
        COUNT(*) FILTER (WHERE status = 'resolved'),
        COUNT(*) FILTER (WHERE status = 'dismissed')
    FROM alerts
    WHERE store_id = $1;`
)

// InsertAlert stores an alert for an existing store.
func (s *Store) InsertAlert(ctx context.Context, alert *domain.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := alert.Validate(); err != nil {
		return err
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.UpdatedAt = alert.CreatedAt

	metadata, err := encodeDocument(alert.Metadata)
	if err != nil {
		return err
	}

	var exists bool
	if err := pool.QueryRow(ctx, storeExistsSQL, alert.StoreID).Scan(&exists); err != nil {
		return fmt.Errorf("check store: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}

	if _, err := pool.Exec(ctx, insertAlertSQL,
		alert.ID,
		alert.StoreID,
		string(alert.RuleType),
		string(alert.Status),
		string(alert.Severity),
		alert.Title,
		alert.Description,
		metadata,
		alert.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetAlert loads an alert.
func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Alert{}, err
	}
	return scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
}

// ListAlerts lists alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var where whereBuilder
	if filter.StoreID != uuid.Nil {
		where.add("store_id = ?", filter.StoreID)
	}
	if filter.Status != "" {
		where.add("status = ?", string(filter.Status))
	}
	if filter.RuleType != "" {
		where.add("rule_type = ?", string(filter.RuleType))
	}
	if !filter.Since.IsZero() {
		where.add("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		where.add("created_at < ?", filter.Until)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts` + where.String() + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := pool.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// CloseAlert moves an active alert to a terminal status in one conditional update.
func (s *Store) CloseAlert(ctx context.Context, id uuid.UUID, to domain.AlertStatus, actor string, at time.Time) (domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Alert{}, err
	}
	if err := domain.CheckAlertTransition(id, domain.AlertActive, to); err != nil {
		return domain.Alert{}, err
	}

	alert, err := scanAlert(pool.QueryRow(ctx, closeAlertSQL, id, string(to), at, actor))
	if !errors.Is(err, domain.ErrNotFound) {
		return alert, err
	}

	current, err := s.GetAlert(ctx, id)
	if err != nil {
		return domain.Alert{}, err
	}
	if err := domain.CheckAlertTransition(id, current.Status, to); err != nil {
		return domain.Alert{}, err
	}
	return domain.Alert{}, &domain.TransitionError{Entity: "alert", ID: id.String(), From: string(current.Status), To: string(to)}
}

// SetAlertSavings stores computed savings.
func (s *Store) SetAlertSavings(ctx context.Context, id uuid.UUID, money decimal.Decimal, minutes int) (domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Alert{}, err
	}
	return scanAlert(pool.QueryRow(ctx, setAlertSavingsSQL, id, money.StringFixed(2), minutes))
}

// RecomputeActionRate derives the rate from the alert's counters; ok is false when it has no actions.
func (s *Store) RecomputeActionRate(ctx context.Context, id uuid.UUID) (domain.Alert, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Alert{}, false, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, recomputeActionRateSQL, id))
	if err == nil {
		return alert, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Alert{}, false, err
	}
	current, err := s.GetAlert(ctx, id)
	if err != nil {
		return domain.Alert{}, false, err
	}
	return current, false, nil
}

// AverageActionRate averages the rate over a store's alerts of one rule type that have actions.
func (s *Store) AverageActionRate(ctx context.Context, storeID uuid.UUID, ruleType domain.RuleType) (float64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}
	var (
		avg   float64
		count int64
	)
	if err := pool.QueryRow(ctx, averageActionRateSQL, storeID, string(ruleType)).Scan(&avg, &count); err != nil {
		return 0, false, fmt.Errorf("average action rate: %w", err)
	}
	return avg, count > 0, nil
}

// StoreSummary totals savings and outcome counts for a store.
func (s *Store) StoreSummary(ctx context.Context, storeID uuid.UUID) (Summary, error) {
	pool, err := s.getPool()
	if err != nil {
		return Summary{}, err
	}
	var (
		money                       string
		timeSaved                   int64
		active, resolved, dismissed int64
		sum                         Summary
	)
	if err := pool.QueryRow(ctx, storeSummarySQL, storeID).Scan(
		&money,
		&timeSaved,
		&sum.AverageActionRate,
		&active,
		&resolved,
		&dismissed,
	); err != nil {
		return Summary{}, fmt.Errorf("store summary: %w", err)
	}
	parsed, err := decimal.NewFromString(money)
	if err != nil {
		return Summary{}, fmt.Errorf("parse money saved: %w", err)
	}
	sum.MoneySaved = parsed
	sum.TimeSaved = int(timeSaved)
	sum.Active = int(active)
	sum.Resolved = int(resolved)
	sum.Dismissed = int(dismissed)
	return sum, nil
}

func scanAlert(row scanner) (domain.Alert, error) {
	var (
		alert      domain.Alert
		ruleType   string
		status     string
		severity   string
		metadata   []byte
		resolvedBy sql.NullString
		money      sql.NullString
		timeSaved  sql.NullInt32
		total      int32
		succeeded  int32
	)
	if err := row.Scan(
		&alert.ID,
		&alert.StoreID,
		&ruleType,
		&status,
		&severity,
		&alert.Title,
		&alert.Description,
		&metadata,
		&alert.ResolvedAt,
		&resolvedBy,
		&money,
		&timeSaved,
		&alert.ActionRate,
		&total,
		&succeeded,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Alert{}, domain.ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("scan alert: %w", err)
	}
	alert.RuleType = domain.RuleType(ruleType)
	alert.Status = domain.AlertStatus(status)
	alert.Severity = domain.Severity(severity)
	alert.ResolvedBy = resolvedBy.String
	alert.ActionsTotal = int(total)
	alert.ActionsSucceeded = int(succeeded)

	if money.Valid {
		parsed, err := decimal.NewFromString(money.String)
		if err != nil {
			return domain.Alert{}, fmt.Errorf("parse money_saved: %w", err)
		}
		alert.MoneySaved = decimal.NewNullDecimal(parsed)
	}
	if timeSaved.Valid {
		minutes := int(timeSaved.Int32)
		alert.TimeSaved = &minutes
	}

	var err error
	if alert.Metadata, err = decodeDocument(metadata); err != nil {
		return domain.Alert{}, err
	}
	return alert, nil
}
