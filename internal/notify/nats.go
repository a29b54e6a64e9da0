package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"merchant-guard/internal/alerts"
)

// Publisher publishes a JSON payload to a subject.
type Publisher interface {
	Publish(subject string, payload any) error
}

// NATSPublisher is a Publisher on a NATS connection.
type NATSPublisher struct {
	Conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("merchantguard"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{Conn: conn}, nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.Conn != nil {
		_ = p.Conn.Drain()
		p.Conn.Close()
	}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// AlertMessage is the JSON document published for every new alert.
type AlertMessage struct {
	AlertID     string         `json:"alert_id"`
	StoreID     string         `json:"store_id"`
	StoreName   string         `json:"store_name"`
	RuleType    string         `json:"rule_type"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	MoneyAtRisk string         `json:"money_at_risk"`
	TimeSaved   int            `json:"time_saved"`
	Evidence    map[string]any `json:"evidence"`
	Buttons     []AlertButton  `json:"buttons"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AlertButton is one offered action with its interaction value.
type AlertButton struct {
	alerts.Button
	Value string `json:"value"`
}

// NATSNotifier fans alerts out on a NATS subject for downstream consumers.
type NATSNotifier struct {
	pub     Publisher
	subject string
	logger  zerolog.Logger
}

// NewNATSNotifier constructs a NATSNotifier.
func NewNATSNotifier(pub Publisher, subject string, logger zerolog.Logger) *NATSNotifier {
	return &NATSNotifier{
		pub:     pub,
		subject: subject,
		logger:  logger.With().Str("component", "notify_nats").Logger(),
	}
}

// Channel implements Notifier.
func (n *NATSNotifier) Channel() string { return "nats" }

// Notify publishes the alert message.
func (n *NATSNotifier) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := NewAlertMessage(note)
	if err := n.pub.Publish(n.subject, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}
	n.logger.Debug().Str("subject", n.subject).Str("alert_id", msg.AlertID).Msg("alert published")
	return nil
}

// NewAlertMessage converts a notification into its wire form.
func NewAlertMessage(note Notification) AlertMessage {
	buttons := make([]AlertButton, 0, len(note.Buttons))
	for _, b := range note.Buttons {
		buttons = append(buttons, AlertButton{Button: b, Value: InteractionValue(note.Alert.ID, b.Action)})
	}
	return AlertMessage{
		AlertID:     note.Alert.ID.String(),
		StoreID:     note.Store.ID.String(),
		StoreName:   note.Store.Name,
		RuleType:    string(note.Alert.RuleType),
		Severity:    string(note.Alert.Severity),
		Title:       note.Alert.Title,
		Description: note.Alert.Description,
		MoneyAtRisk: note.MoneyAtRisk.StringFixed(2),
		TimeSaved:   note.TimeSaved,
		Evidence:    note.Alert.Metadata,
		Buttons:     buttons,
		CreatedAt:   note.Alert.CreatedAt,
	}
}

var _ Notifier = (*NATSNotifier)(nil)
