package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/metrics"
)

// ErrNoEndpoint marks a store without a notification endpoint; delivery is skipped.
var ErrNoEndpoint = errors.New("store has no notification endpoint")

// Notification is the outbound message for a newly created alert.
type Notification struct {
	Alert       domain.Alert
	Store       domain.Store
	MoneyAtRisk decimal.Decimal
	TimeSaved   int
	Buttons     []alerts.Button
}

// Build assembles the notification for an alert. Money at risk and time saved are the
// estimates the alert would record when resolved.
func Build(store domain.Store, alert domain.Alert) Notification {
	money, minutes := alerts.Savings(alert.RuleType, alert.Metadata)
	if alert.MoneySaved.Valid {
		money = alert.MoneySaved.Decimal
	}
	if alert.TimeSaved != nil {
		minutes = *alert.TimeSaved
	}
	return Notification{
		Alert:       alert,
		Store:       store,
		MoneyAtRisk: money,
		TimeSaved:   minutes,
		Buttons:     alerts.Menu(alert.RuleType),
	}
}

// Notifier delivers alert notifications to one channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, note Notification) error
}

// InteractionValue encodes a button value as alertID_actionType.
func InteractionValue(alertID uuid.UUID, action domain.ActionType) string {
	return alertID.String() + "_" + string(action)
}

// ParseInteractionValue decodes a button value produced by InteractionValue.
func ParseInteractionValue(value string) (uuid.UUID, domain.ActionType, error) {
	parts := strings.SplitN(strings.TrimSpace(value), "_", 2)
	if len(parts) != 2 {
		return uuid.Nil, "", &domain.ValidationError{Entity: "interaction", Field: "value", Reason: "must be alertId_actionType"}
	}
	alertID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", &domain.ValidationError{Entity: "interaction", Field: "value", Reason: "has an invalid alert id"}
	}
	action, err := domain.ParseActionType(parts[1])
	if err != nil {
		return uuid.Nil, "", err
	}
	return alertID, action, nil
}

// Multi fans a notification out to every channel. A failing channel does not stop the others.
type Multi struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMulti combines notifiers; nil entries are ignored.
func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	list := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			list = append(list, n)
		}
	}
	return &Multi{notifiers: list, logger: logger.With().Str("component", "notify").Logger()}
}

// Channel implements Notifier.
func (m *Multi) Channel() string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Channel())
	}
	return strings.Join(names, ",")
}

// Len reports the number of channels.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify delivers to every channel and joins the failures.
func (m *Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		err := n.Notify(ctx, note)
		switch {
		case err == nil:
			metrics.NotificationsSent.WithLabelValues(n.Channel(), "sent").Inc()
		case errors.Is(err, ErrNoEndpoint):
			metrics.NotificationsSent.WithLabelValues(n.Channel(), "skipped").Inc()
			m.logger.Debug().Str("channel", n.Channel()).Str("store_id", note.Store.ID.String()).Msg("notification skipped")
		default:
			metrics.NotificationsSent.WithLabelValues(n.Channel(), "failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", n.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Multi)(nil)
