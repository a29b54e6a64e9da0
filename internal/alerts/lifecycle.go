package alerts

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

// Lifecycle owns alert creation, closing and the derived metrics.
type Lifecycle struct {
	alerts storage.AlertStore
	rules  storage.RuleStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewLifecycle constructs a Lifecycle. now defaults to the wall clock.
func NewLifecycle(alerts storage.AlertStore, rules storage.RuleStore, now func() time.Time, logger zerolog.Logger) *Lifecycle {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Lifecycle{
		alerts: alerts,
		rules:  rules,
		now:    now,
		logger: logger.With().Str("component", "alert_lifecycle").Logger(),
	}
}

// Touch stamps the rule's last-triggered time without creating an alert.
func (l *Lifecycle) Touch(ctx context.Context, rule domain.Rule) error {
	if err := l.rules.MarkRuleTriggered(ctx, rule.ID, l.now()); err != nil {
		return fmt.Errorf("mark rule %s triggered: %w", rule.ID, err)
	}
	return nil
}

// CreateFromTrigger persists an active alert carrying the evidence, then stamps the rule.
// A rule is never stamped for an alert that was not stored.
// It does not create actions; those are selected later from Menu.
func (l *Lifecycle) CreateFromTrigger(ctx context.Context, rule domain.Rule, evidence domain.Document) (domain.Alert, error) {
	tpl := TemplateFor(rule, evidence)
	metadata := evidence.Clone()
	metadata["rule_id"] = rule.ID.String()
	metadata["rule_name"] = rule.Name

	alert := domain.Alert{
		StoreID:     rule.StoreID,
		RuleType:    rule.Type,
		Status:      domain.AlertActive,
		Severity:    tpl.Severity,
		Title:       tpl.Title,
		Description: tpl.Description,
		Metadata:    metadata,
		CreatedAt:   l.now(),
	}
	if err := alert.Validate(); err != nil {
		return domain.Alert{}, err
	}

	if err := l.alerts.InsertAlert(ctx, &alert); err != nil {
		return domain.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	// the alert is stored; a stamp failure is logged, not returned
	if err := l.Touch(ctx, rule); err != nil {
		l.logger.Error().Err(err).
			Str("alert_id", alert.ID.String()).
			Str("rule_id", rule.ID.String()).
			Msg("alert created but rule not stamped")
	}

	metrics.AlertsCreated.WithLabelValues(string(alert.RuleType), string(alert.Severity)).Inc()
	l.logger.Info().
		Str("store_id", alert.StoreID.String()).
		Str("alert_id", alert.ID.String()).
		Str("rule_id", rule.ID.String()).
		Str("rule_type", string(alert.RuleType)).
		Str("severity", string(alert.Severity)).
		Msg("alert created")
	return alert, nil
}

// Resolve moves an active alert to resolved.
func (l *Lifecycle) Resolve(ctx context.Context, id uuid.UUID, actor string) (domain.Alert, error) {
	return l.close(ctx, id, domain.AlertResolved, actor)
}

// Dismiss moves an active alert to dismissed.
func (l *Lifecycle) Dismiss(ctx context.Context, id uuid.UUID, actor string) (domain.Alert, error) {
	return l.close(ctx, id, domain.AlertDismissed, actor)
}

func (l *Lifecycle) close(ctx context.Context, id uuid.UUID, to domain.AlertStatus, actor string) (domain.Alert, error) {
	alert, err := l.alerts.CloseAlert(ctx, id, to, actor, l.now())
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%s alert %s: %w", verb(to), id, err)
	}
	metrics.AlertsClosed.WithLabelValues(string(alert.RuleType), string(to)).Inc()
	l.logger.Info().
		Str("store_id", alert.StoreID.String()).
		Str("alert_id", alert.ID.String()).
		Str("status", string(to)).
		Str("actor", actor).
		Msg("alert closed")
	return alert, nil
}

func verb(to domain.AlertStatus) string {
	if to == domain.AlertDismissed {
		return "dismiss"
	}
	return "resolve"
}

// CalculateSavings stores the money and time saved, derived from the alert's evidence.
func (l *Lifecycle) CalculateSavings(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	money, minutes := Savings(alert.RuleType, alert.Metadata)
	updated, err := l.alerts.SetAlertSavings(ctx, alert.ID, money, minutes)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("store savings for alert %s: %w", alert.ID, err)
	}
	l.logger.Debug().
		Str("alert_id", alert.ID.String()).
		Str("money_saved", money.StringFixed(2)).
		Int("time_saved", minutes).
		Msg("alert savings calculated")
	return updated, nil
}

// RecomputeActionRate refreshes the alert's action rate from its counters.
// An alert without actions keeps its current rate.
func (l *Lifecycle) RecomputeActionRate(ctx context.Context, id uuid.UUID) (domain.Alert, error) {
	alert, changed, err := l.alerts.RecomputeActionRate(ctx, id)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("recompute action rate for alert %s: %w", id, err)
	}
	if changed {
		l.logger.Debug().
			Str("alert_id", id.String()).
			Float64("action_rate", alert.ActionRate).
			Int("actions_total", alert.ActionsTotal).
			Int("actions_succeeded", alert.ActionsSucceeded).
			Msg("action rate recomputed")
	}
	return alert, nil
}
