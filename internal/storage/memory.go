package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"merchant-guard/internal/domain"
)

// Memory is an in-process Repository. A single mutex makes every
// read-modify-write atomic, which is what the Postgres row updates guarantee.
type Memory struct {
	mu        sync.RWMutex
	seq       int64
	stores    map[uuid.UUID]domain.Store
	events    map[uuid.UUID][]domain.Event
	rules     map[uuid.UUID]domain.Rule
	alerts    map[uuid.UUID]domain.Alert
	actions   map[uuid.UUID]domain.Action
	actionSeq map[uuid.UUID]int64 // append order, breaks created_at ties
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		stores:    make(map[uuid.UUID]domain.Store),
		events:    make(map[uuid.UUID][]domain.Event),
		rules:     make(map[uuid.UUID]domain.Rule),
		alerts:    make(map[uuid.UUID]domain.Alert),
		actions:   make(map[uuid.UUID]domain.Action),
		actionSeq: make(map[uuid.UUID]int64),
	}
}

// InsertStore stores a tenant.
func (m *Memory) InsertStore(ctx context.Context, store *domain.Store) error {
	if err := store.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if store.ID == uuid.Nil {
		store.ID = uuid.New()
	}
	for _, existing := range m.stores {
		if existing.ShopDomain == store.ShopDomain {
			return &domain.ValidationError{Entity: "store", Field: "shop_domain", Reason: "is already taken"}
		}
	}
	now := time.Now().UTC()
	if store.CreatedAt.IsZero() {
		store.CreatedAt = now
	}
	store.UpdatedAt = now
	m.stores[store.ID] = *store
	return nil
}

// GetStore loads a tenant.
func (m *Memory) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.stores[id]
	if !ok {
		return domain.Store{}, domain.ErrNotFound
	}
	return store, nil
}

// ListStores lists tenants ordered by creation.
func (m *Memory) ListStores(ctx context.Context, activeOnly bool) ([]domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Store, 0, len(m.stores))
	for _, s := range m.stores {
		if activeOnly && s.Status != domain.StoreActive {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AppendEvent appends an event to its store's log with its projection merged and
// the processed flag set, under one lock.
func (m *Memory) AppendEvent(ctx context.Context, event *domain.Event, projection domain.Document, at time.Time) error {
	if err := event.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[event.StoreID]; !ok {
		return domain.ErrNotFound
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.seq++
	processedAt := at
	event.Seq = m.seq
	event.Metadata = event.Metadata.Merge(projection)
	event.Processed = true
	event.ProcessedAt = &processedAt

	stored := *event
	stored.Payload = event.Payload.Clone()
	stored.Metadata = event.Metadata.Clone()
	m.events[event.StoreID] = append(m.events[event.StoreID], stored)
	return nil
}

// ListEvents returns matching events ordered by creation time, then append order.
func (m *Memory) ListEvents(ctx context.Context, q EventQuery) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[domain.EventType]bool, len(q.Types))
	for _, t := range q.Types {
		wanted[t] = true
	}
	out := make([]domain.Event, 0)
	for _, ev := range m.events[q.StoreID] {
		if len(wanted) > 0 && !wanted[ev.Type] {
			continue
		}
		if !q.After.IsZero() && !ev.CreatedAt.After(q.After) {
			continue
		}
		if !q.Before.IsZero() && !ev.CreatedAt.Before(q.Before) {
			continue
		}
		copied := ev
		copied.Payload = ev.Payload.Clone()
		copied.Metadata = ev.Metadata.Clone()
		out = append(out, copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// InsertRule stores a rule.
func (m *Memory) InsertRule(ctx context.Context, rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[rule.StoreID]; !ok {
		return domain.ErrNotFound
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	stored := *rule
	stored.Conditions = rule.Conditions.Clone()
	m.rules[rule.ID] = stored
	return nil
}

// GetRule loads a rule.
func (m *Memory) GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return domain.Rule{}, domain.ErrNotFound
	}
	return rule, nil
}

// ListRules lists rules ordered by creation.
func (m *Memory) ListRules(ctx context.Context, filter RuleFilter) ([]domain.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Rule, 0)
	for _, r := range m.rules {
		if filter.StoreID != uuid.Nil && r.StoreID != filter.StoreID {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.EnabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkRuleTriggered stamps last_triggered_at.
func (m *Memory) MarkRuleTriggered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.updateRule(id, func(r *domain.Rule) bool {
		ts := at
		r.LastTriggeredAt = &ts
		return true
	})
}

// DisableRule clears the enabled flag and reports whether it changed.
func (m *Memory) DisableRule(ctx context.Context, id uuid.UUID) (bool, error) {
	changed := false
	err := m.updateRule(id, func(r *domain.Rule) bool {
		changed = r.Enabled
		r.Enabled = false
		return changed
	})
	return changed, err
}

// SetRuleActionRate stores the rule's trailing action rate.
func (m *Memory) SetRuleActionRate(ctx context.Context, id uuid.UUID, rate float64) error {
	return m.updateRule(id, func(r *domain.Rule) bool {
		r.ActionRate = rate
		return true
	})
}

func (m *Memory) updateRule(id uuid.UUID, fn func(*domain.Rule) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	if fn(&rule) {
		rule.UpdatedAt = time.Now().UTC()
	}
	m.rules[id] = rule
	return nil
}

// InsertAlert stores an alert.
func (m *Memory) InsertAlert(ctx context.Context, alert *domain.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[alert.StoreID]; !ok {
		return domain.ErrNotFound
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	now := time.Now().UTC()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = alert.CreatedAt
	stored := *alert
	stored.Metadata = alert.Metadata.Clone()
	m.alerts[alert.ID] = stored
	return nil
}

// GetAlert loads an alert.
func (m *Memory) GetAlert(ctx context.Context, id uuid.UUID) (domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrNotFound
	}
	return alert, nil
}

// ListAlerts lists alerts newest first.
func (m *Memory) ListAlerts(ctx context.Context, filter AlertFilter) ([]domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, a := range m.alerts {
		if filter.StoreID != uuid.Nil && a.StoreID != filter.StoreID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.RuleType != "" && a.RuleType != filter.RuleType {
			continue
		}
		if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !a.CreatedAt.Before(filter.Until) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CloseAlert moves an active alert to resolved or dismissed.
func (m *Memory) CloseAlert(ctx context.Context, id uuid.UUID, to domain.AlertStatus, actor string, at time.Time) (domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrNotFound
	}
	if err := domain.CheckAlertTransition(id, alert.Status, to); err != nil {
		return domain.Alert{}, err
	}
	ts := at
	alert.Status = to
	alert.ResolvedAt = &ts
	alert.ResolvedBy = actor
	alert.UpdatedAt = at
	m.alerts[id] = alert
	return alert, nil
}

// SetAlertSavings stores computed savings.
func (m *Memory) SetAlertSavings(ctx context.Context, id uuid.UUID, money decimal.Decimal, minutes int) (domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrNotFound
	}
	mins := minutes
	alert.MoneySaved = decimal.NewNullDecimal(money)
	alert.TimeSaved = &mins
	alert.UpdatedAt = time.Now().UTC()
	m.alerts[id] = alert
	return alert, nil
}

// RecomputeActionRate derives the rate from the alert's counters; ok is false for 0 actions.
func (m *Memory) RecomputeActionRate(ctx context.Context, id uuid.UUID) (domain.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return domain.Alert{}, false, domain.ErrNotFound
	}
	rate, ok := domain.RateFromCounters(alert.ActionsSucceeded, alert.ActionsTotal)
	if !ok {
		return alert, false, nil
	}
	alert.ActionRate = rate
	alert.UpdatedAt = time.Now().UTC()
	m.alerts[id] = alert
	return alert, true, nil
}

// AverageActionRate averages the rate over alerts that have at least one action.
func (m *Memory) AverageActionRate(ctx context.Context, storeID uuid.UUID, ruleType domain.RuleType) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, n := 0.0, 0
	for _, a := range m.alerts {
		if a.StoreID != storeID || a.RuleType != ruleType || a.ActionsTotal == 0 {
			continue
		}
		sum += a.ActionRate
		n++
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// StoreSummary totals savings and outcome counts for a store.
func (m *Memory) StoreSummary(ctx context.Context, storeID uuid.UUID) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := Summary{MoneySaved: decimal.Zero}
	rates, n := 0.0, 0
	for _, a := range m.alerts {
		if a.StoreID != storeID {
			continue
		}
		if a.MoneySaved.Valid {
			sum.MoneySaved = sum.MoneySaved.Add(a.MoneySaved.Decimal)
		}
		if a.TimeSaved != nil {
			sum.TimeSaved += *a.TimeSaved
		}
		rates += a.ActionRate
		n++
		switch a.Status {
		case domain.AlertActive:
			sum.Active++
		case domain.AlertResolved:
			sum.Resolved++
		case domain.AlertDismissed:
			sum.Dismissed++
		}
	}
	if n > 0 {
		sum.AverageActionRate = rates / float64(n)
	}
	return sum, nil
}

// InsertAction stores a pending action and counts it on its alert.
func (m *Memory) InsertAction(ctx context.Context, action *domain.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[action.AlertID]
	if !ok {
		return domain.ErrNotFound
	}
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	now := time.Now().UTC()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	action.UpdatedAt = action.CreatedAt
	stored := *action
	stored.Metadata = action.Metadata.Clone()
	m.actions[action.ID] = stored
	m.seq++
	m.actionSeq[action.ID] = m.seq
	alert.ActionsTotal++
	m.alerts[alert.ID] = alert
	return nil
}

// GetAction loads an action.
func (m *Memory) GetAction(ctx context.Context, id uuid.UUID) (domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	action, ok := m.actions[id]
	if !ok {
		return domain.Action{}, domain.ErrNotFound
	}
	return action, nil
}

// ListActions lists an alert's actions oldest first.
func (m *Memory) ListActions(ctx context.Context, alertID uuid.UUID) ([]domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Action, 0)
	for _, a := range m.actions {
		if a.AlertID == alertID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return m.actionSeq[out[i].ID] < m.actionSeq[out[j].ID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// TransitionAction compare-and-sets the action status; success also bumps the alert counter.
func (m *Memory) TransitionAction(ctx context.Context, id uuid.UUID, from, to domain.ActionStatus, patch domain.Document, executedAt *time.Time) (domain.Action, error) {
	if err := domain.CheckActionTransition(id, from, to); err != nil {
		return domain.Action{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return domain.Action{}, domain.ErrNotFound
	}
	if action.Status != from {
		return domain.Action{}, &domain.TransitionError{Entity: "action", ID: id.String(), From: string(action.Status), To: string(to)}
	}
	action.Status = to
	action.Metadata = action.Metadata.Merge(patch)
	if executedAt != nil {
		ts := *executedAt
		action.ExecutedAt = &ts
	}
	action.UpdatedAt = time.Now().UTC()
	m.actions[id] = action
	if to == domain.ActionSuccessful {
		if alert, ok := m.alerts[action.AlertID]; ok {
			alert.ActionsSucceeded++
			m.alerts[alert.ID] = alert
		}
	}
	return action, nil
}

var _ Repository = (*Memory)(nil)
