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
	ruleColumns = `id, store_id, rule_type, name, description, conditions, enabled, action_rate, last_triggered_at, created_at, updated_at`

	insertRuleSQL = `INSERT INTO rules (id, store_id, rule_type, name, description, conditions, enabled, action_rate, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10);`

	getRuleSQL = `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1;`

	markRuleTriggeredSQL = `UPDATE rules SET last_triggered_at = $2, updated_at = now() WHERE id = $1;`

	disableRuleSQL = `WITH target AS (
        SELECT id, enabled FROM rules WHERE id = $1 FOR UPDATE
    )
    UPDATE rules r
    SET enabled = false, updated_at = CASE WHEN t.enabled THEN now() ELSE r.updated_at END
    FROM target t
    WHERE r.id = t.id
    RETURNING t.enabled;`

	setRuleActionRateSQL = `UPDATE rules SET action_rate = $2, updated_at = now() WHERE id = $1;`
)

// InsertRule stores a rule for an existing store.
func (s *Store) InsertRule(ctx context.Context, rule *domain.Rule) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	conditions, err := encodeDocument(rule.Conditions)
	if err != nil {
		return err
	}

	var exists bool
	if err := pool.QueryRow(ctx, storeExistsSQL, rule.StoreID).Scan(&exists); err != nil {
		return fmt.Errorf("check store: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}

	if _, err := pool.Exec(ctx, insertRuleSQL,
		rule.ID,
		rule.StoreID,
		string(rule.Type),
		rule.Name,
		rule.Description,
		conditions,
		rule.Enabled,
		rule.ActionRate,
		rule.CreatedAt,
		rule.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// GetRule loads a rule.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Rule{}, err
	}
	return scanRule(pool.QueryRow(ctx, getRuleSQL, id))
}

// ListRules lists rules ordered by creation.
func (s *Store) ListRules(ctx context.Context, filter RuleFilter) ([]domain.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var where whereBuilder
	if filter.StoreID != uuid.Nil {
		where.add("store_id = ?", filter.StoreID)
	}
	if filter.Type != "" {
		where.add("rule_type = ?", string(filter.Type))
	}
	if filter.EnabledOnly {
		where.add("enabled = ?", true)
	}

	query := `SELECT ` + ruleColumns + ` FROM rules` + where.String() + ` ORDER BY created_at;`
	rows, err := pool.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// MarkRuleTriggered stamps last_triggered_at.
func (s *Store) MarkRuleTriggered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.execRule(ctx, "mark rule triggered", markRuleTriggeredSQL, id, at)
}

// DisableRule clears the enabled flag and reports whether it was set before.
func (s *Store) DisableRule(ctx context.Context, id uuid.UUID) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var wasEnabled bool
	err = pool.QueryRow(ctx, disableRuleSQL, id).Scan(&wasEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("disable rule: %w", err)
	}
	return wasEnabled, nil
}

// SetRuleActionRate stores the rule's aggregate action rate.
func (s *Store) SetRuleActionRate(ctx context.Context, id uuid.UUID, rate float64) error {
	return s.execRule(ctx, "set rule action rate", setRuleActionRateSQL, id, rate)
}

func (s *Store) execRule(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRule(row scanner) (domain.Rule, error) {
	var (
		rule       domain.Rule
		ruleType   string
		conditions []byte
	)
	if err := row.Scan(
		&rule.ID,
		&rule.StoreID,
		&ruleType,
		&rule.Name,
		&rule.Description,
		&conditions,
		&rule.Enabled,
		&rule.ActionRate,
		&rule.LastTriggeredAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rule{}, domain.ErrNotFound
		}
		return domain.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	rule.Type = domain.RuleType(ruleType)

	var err error
	if rule.Conditions, err = decodeDocument(conditions); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}
