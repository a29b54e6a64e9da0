package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"merchant-guard/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EventQuery selects events of one store. Zero bounds are open; bounds are exclusive.
type EventQuery struct {
	StoreID uuid.UUID
	Types   []domain.EventType
	After   time.Time
	Before  time.Time
}

// RuleFilter narrows ListRules. A nil StoreID lists across stores.
type RuleFilter struct {
	StoreID     uuid.UUID
	Type        domain.RuleType
	EnabledOnly bool
}

// AlertFilter narrows ListAlerts. Results are newest first.
type AlertFilter struct {
	StoreID  uuid.UUID
	Status   domain.AlertStatus
	RuleType domain.RuleType
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Summary aggregates a store's alert outcomes.
type Summary struct {
	MoneySaved        decimal.Decimal
	TimeSaved         int
	AverageActionRate float64
	Active            int
	Resolved          int
	Dismissed         int
}

// TenantStore persists stores.
type TenantStore interface {
	InsertStore(ctx context.Context, store *domain.Store) error
	GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error)
	ListStores(ctx context.Context, activeOnly bool) ([]domain.Store, error)
}

// EventStore is the append-only event log backend. AppendEvent stores an event already
// processed: its projection is merged and the flag set in the same write.
type EventStore interface {
	AppendEvent(ctx context.Context, event *domain.Event, projection domain.Document, at time.Time) error
	ListEvents(ctx context.Context, q EventQuery) ([]domain.Event, error)
}

// RuleStore persists rules and their lifecycle fields.
type RuleStore interface {
	InsertRule(ctx context.Context, rule *domain.Rule) error
	GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]domain.Rule, error)
	MarkRuleTriggered(ctx context.Context, id uuid.UUID, at time.Time) error
	DisableRule(ctx context.Context, id uuid.UUID) (bool, error)
	SetRuleActionRate(ctx context.Context, id uuid.UUID, rate float64) error
}

// AlertStore persists alerts. Status and counter updates are atomic per row.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *domain.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (domain.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]domain.Alert, error)
	CloseAlert(ctx context.Context, id uuid.UUID, to domain.AlertStatus, actor string, at time.Time) (domain.Alert, error)
	SetAlertSavings(ctx context.Context, id uuid.UUID, money decimal.Decimal, minutes int) (domain.Alert, error)
	RecomputeActionRate(ctx context.Context, id uuid.UUID) (domain.Alert, bool, error)
	AverageActionRate(ctx context.Context, storeID uuid.UUID, ruleType domain.RuleType) (float64, bool, error)
	StoreSummary(ctx context.Context, storeID uuid.UUID) (Summary, error)
}

// ActionStore persists actions. InsertAction also counts the action on its alert.
type ActionStore interface {
	InsertAction(ctx context.Context, action *domain.Action) error
	GetAction(ctx context.Context, id uuid.UUID) (domain.Action, error)
	ListActions(ctx context.Context, alertID uuid.UUID) ([]domain.Action, error)
	TransitionAction(ctx context.Context, id uuid.UUID, from, to domain.ActionStatus, patch domain.Document, executedAt *time.Time) (domain.Action, error)
}

// Repository bundles every store interface.
type Repository interface {
	TenantStore
	EventStore
	RuleStore
	AlertStore
	ActionStore
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// whereBuilder accumulates positional predicates.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
