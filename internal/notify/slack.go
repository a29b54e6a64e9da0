package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"merchant-guard/internal/alerts"
)

// SlackNotifier posts Block Kit messages to the store's incoming webhook.
type SlackNotifier struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

// NewSlackNotifier constructs a Slack webhook notifier.
func NewSlackNotifier(timeout time.Duration, userAgent string, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger.With().Str("component", "notify_slack").Logger(),
	}
}

// Channel implements Notifier.
func (n *SlackNotifier) Channel() string { return "slack" }

// Notify posts the alert to note.Store.NotificationURL.
func (n *SlackNotifier) Notify(ctx context.Context, note Notification) error {
	url := strings.TrimSpace(note.Store.NotificationURL)
	if url == "" {
		return ErrNoEndpoint
	}

	body, err := json.Marshal(renderSlack(note))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	n.logger.Info().
		Str("store_id", note.Store.ID.String()).
		Str("alert_id", note.Alert.ID.String()).
		Int("status", resp.StatusCode).
		Msg("slack notification sent")
	return nil
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackElement struct {
	Type     string    `json:"type"`
	Text     slackText `json:"text"`
	Style    string    `json:"style,omitempty"`
	Value    string    `json:"value"`
	ActionID string    `json:"action_id"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func renderSlack(note Notification) slackMessage {
	alert := note.Alert
	buttons := make([]slackElement, 0, len(note.Buttons))
	for _, b := range note.Buttons {
		el := slackElement{
			Type:     "button",
			Text:     slackText{Type: "plain_text", Text: b.Text, Emoji: true},
			Value:    InteractionValue(alert.ID, b.Action),
			ActionID: string(b.Action),
		}
		// Slack only accepts primary and danger; the default style renders secondary buttons.
		if b.Style == alerts.StylePrimary || b.Style == alerts.StyleDanger {
			el.Style = b.Style
		}
		buttons = append(buttons, el)
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: alert.Title, Emoji: true}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: alert.Description}},
		{Type: "section", Fields: []slackText{
			{Type: "mrkdwn", Text: "*Store:*\n" + note.Store.Name},
			{Type: "mrkdwn", Text: "*Severity:*\n" + humanize(string(alert.Severity))},
			{Type: "mrkdwn", Text: "*Money at Risk:*\n$" + note.MoneyAtRisk.StringFixed(2)},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Time Saved:*\n%d minutes", note.TimeSaved)},
		}},
	}
	if len(buttons) > 0 {
		blocks = append(blocks, slackBlock{Type: "actions", Elements: buttons})
	}
	return slackMessage{Text: alert.Title, Blocks: blocks}
}

func humanize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

var _ Notifier = (*SlackNotifier)(nil)
