package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/config"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/notify"
)

// SimulateOptions describe the alert to send through the configured channels.
type SimulateOptions struct {
	RuleType   domain.RuleType
	StoreName  string
	WebhookURL string
}

// SimulateAlert sends a synthetic alert through the notification channels without
// touching storage.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	note, err := simulatedNotification(opts, time.Now().UTC())
	if err != nil {
		return err
	}
	if note.Store.NotificationURL == "" && a.Config.ChannelEnabled(config.ChannelSlack) {
		a.Logger.Warn().Msg("no --webhook given; slack delivery is skipped")
	}

	ctx, cancel := context.WithTimeout(ctx, a.Config.Alerting.NotifyTimeout)
	defer cancel()
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	a.Logger.Info().Str("alert_id", note.Alert.ID.String()).Str("channels", notifier.Channel()).Msg("simulated alert dispatched")
	return nil
}

func simulatedNotification(opts SimulateOptions, now time.Time) (notify.Notification, error) {
	evidence, ok := sampleEvidence[opts.RuleType]
	if !ok {
		return notify.Notification{}, &domain.ValidationError{Entity: "simulation", Field: "rule_type", Reason: "is not supported"}
	}
	name := opts.StoreName
	if name == "" {
		name = "Demo Store"
	}

	store := domain.Store{
		ID:              uuid.New(),
		Name:            name,
		ShopDomain:      "demo.myshopify.com",
		NotificationURL: opts.WebhookURL,
		Status:          domain.StoreActive,
	}
	rule := domain.Rule{ID: uuid.New(), StoreID: store.ID, Type: opts.RuleType, Name: "Simulated " + string(opts.RuleType)}
	tpl := alerts.TemplateFor(rule, evidence)
	alert := domain.Alert{
		ID:          uuid.New(),
		StoreID:     store.ID,
		RuleType:    rule.Type,
		Status:      domain.AlertActive,
		Severity:    tpl.Severity,
		Title:       tpl.Title,
		Description: tpl.Description,
		Metadata:    evidence.Clone(),
		CreatedAt:   now,
	}
	return notify.Build(store, alert), nil
}

var sampleEvidence = map[domain.RuleType]domain.Document{
	domain.RuleRefundSpike: {
		"refund_count":    6,
		"order_count":     40,
		"rate":            0.15,
		"threshold":       0.05,
		"time_window":     "24h0m0s",
		"minimum_refunds": 3,
		"refund_amount":   "412.50",
		"order_id":        "5012",
	},
	domain.RulePaymentFailureStreak: {
		"failure_count":     4,
		"consecutive_run":   4,
		"failed_amount":     "289.00",
		"payment_intent_id": "pi_simulated",
		"customer_email":    "customer@example.com",
	},
	domain.RuleUnfulfilled72h: {
		"orders_checked":   12,
		"violating_orders": 2,
		"order_id":         "4820",
		"order_value":      "180.00",
		"days_unfulfilled": 4,
		"customer_email":   "customer@example.com",
	},
}
