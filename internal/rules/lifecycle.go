package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/metrics"
	"merchant-guard/internal/storage"
)

const (
	// DisableBelowRate is the action rate under which a stale rule is disabled.
	DisableBelowRate = 50.0
	// StaleAfter is how long ago a rule must have last triggered to be considered stale.
	StaleAfter = 7 * 24 * time.Hour
)

// ShouldDisable reports whether a rule's trailing action rate and trigger age call for disabling it.
func ShouldDisable(rule domain.Rule, now time.Time) bool {
	if rule.ActionRate >= DisableBelowRate {
		return false
	}
	if rule.LastTriggeredAt == nil {
		return false
	}
	return rule.LastTriggeredAt.Before(now.Add(-StaleAfter))
}

// Review summarises one lifecycle pass over a store's rules.
type Review struct {
	StoreID   uuid.UUID
	Reviewed  int
	Refreshed int
	Disabled  []uuid.UUID
}

// Manager applies the rule lifecycle policy.
type Manager struct {
	rules  storage.RuleStore
	alerts storage.AlertStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewManager constructs a Manager. now defaults to the wall clock.
func NewManager(rules storage.RuleStore, alerts storage.AlertStore, now func() time.Time, logger zerolog.Logger) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		rules:  rules,
		alerts: alerts,
		now:    now,
		logger: logger.With().Str("component", "rule_lifecycle").Logger(),
	}
}

// DisableIfNeeded disables the rule when ShouldDisable holds. It is a no-op for disabled rules.
func (m *Manager) DisableIfNeeded(ctx context.Context, rule domain.Rule) (bool, error) {
	if !rule.Enabled || !ShouldDisable(rule, m.now()) {
		return false, nil
	}
	changed, err := m.rules.DisableRule(ctx, rule.ID)
	if err != nil {
		return false, fmt.Errorf("disable rule %s: %w", rule.ID, err)
	}
	if changed {
		metrics.RulesDisabled.WithLabelValues(string(rule.Type)).Inc()
		m.logger.Info().
			Str("store_id", rule.StoreID.String()).
			Str("rule_id", rule.ID.String()).
			Str("rule_type", string(rule.Type)).
			Float64("action_rate", rule.ActionRate).
			Msg("rule disabled after low action rate")
	}
	return changed, nil
}

// Review refreshes every enabled rule's aggregate action rate from its alerts, then
// disables the rules that qualify.
func (m *Manager) Review(ctx context.Context, storeID uuid.UUID) (Review, error) {
	report := Review{StoreID: storeID}
	enabled, err := m.rules.ListRules(ctx, storage.RuleFilter{StoreID: storeID, EnabledOnly: true})
	if err != nil {
		return report, fmt.Errorf("list rules: %w", err)
	}

	for _, rule := range enabled {
		report.Reviewed++
		if m.alerts != nil {
			rate, ok, err := m.alerts.AverageActionRate(ctx, storeID, rule.Type)
			if err != nil {
				return report, fmt.Errorf("aggregate action rate for %s: %w", rule.Type, err)
			}
			if ok {
				if err := m.rules.SetRuleActionRate(ctx, rule.ID, rate); err != nil {
					return report, fmt.Errorf("store action rate for rule %s: %w", rule.ID, err)
				}
				rule.ActionRate = rate
				report.Refreshed++
			}
		}

		disabled, err := m.DisableIfNeeded(ctx, rule)
		if err != nil {
			return report, err
		}
		if disabled {
			report.Disabled = append(report.Disabled, rule.ID)
		}
	}
	return report, nil
}
