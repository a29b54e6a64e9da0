package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-guard/internal/domain"
)

func sampleNote(url string) Notification {
	store := domain.Store{ID: uuid.New(), Name: "Acme Outfitters", NotificationURL: url}
	alert := domain.Alert{
		ID:          uuid.New(),
		StoreID:     store.ID,
		RuleType:    domain.RuleRefundSpike,
		Severity:    domain.SeverityHigh,
		Title:       "High Refund Rate Detected",
		Description: "Refund rate has exceeded 5% in the last 24 hours",
		Metadata:    domain.Document{"refund_amount": "129.50"},
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	return Build(store, alert)
}

func TestBuildEstimatesMoneyAtRisk(t *testing.T) {
	note := sampleNote("")
	assert.Equal(t, "129.50", note.MoneyAtRisk.StringFixed(2))
	assert.Equal(t, 30, note.TimeSaved)
	require.Len(t, note.Buttons, 3)
	assert.Equal(t, domain.ActionRefreshOrder, note.Buttons[0].Action)
}

func TestSlackNotifierPostsBlocks(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "merchantguard-test", r.Header.Get("User-Agent"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	note := sampleNote(srv.URL)
	notifier := NewSlackNotifier(time.Second, "merchantguard-test", zerolog.Nop())
	require.NoError(t, notifier.Notify(context.Background(), note))

	assert.Equal(t, note.Alert.Title, received["text"])
	blocks := received["blocks"].([]any)
	require.Len(t, blocks, 4)
	assert.Equal(t, "header", blocks[0].(map[string]any)["type"])

	fields := blocks[2].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 4)
	assert.Equal(t, "*Store:*\nAcme Outfitters", fields[0].(map[string]any)["text"])
	assert.Equal(t, "*Severity:*\nHigh", fields[1].(map[string]any)["text"])
	assert.Equal(t, "*Money at Risk:*\n$129.50", fields[2].(map[string]any)["text"])
	assert.Equal(t, "*Time Saved:*\n30 minutes", fields[3].(map[string]any)["text"])

	actions := blocks[3].(map[string]any)
	assert.Equal(t, "actions", actions["type"])
	elements := actions["elements"].([]any)
	require.Len(t, elements, 3)
	first := elements[0].(map[string]any)
	assert.Equal(t, note.Alert.ID.String()+"_refresh_order", first["value"])
	assert.Equal(t, "refresh_order", first["action_id"])
	assert.Equal(t, "primary", first["style"])
	_, styled := elements[1].(map[string]any)["style"]
	assert.False(t, styled, "secondary buttons use the default style")
	assert.Equal(t, "danger", elements[2].(map[string]any)["style"])
}

func TestSlackNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	notifier := NewSlackNotifier(time.Second, "", zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNote(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSlackNotifierSkipsWithoutURL(t *testing.T) {
	notifier := NewSlackNotifier(time.Second, "", zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNote(""))
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

type recordingPublisher struct {
	subject string
	payload any
	err     error
}

func (p *recordingPublisher) Publish(subject string, payload any) error {
	p.subject = subject
	p.payload = payload
	return p.err
}

func TestNATSNotifierPublishesMessage(t *testing.T) {
	pub := &recordingPublisher{}
	note := sampleNote("")
	notifier := NewNATSNotifier(pub, "merchantguard.alerts", zerolog.Nop())

	require.NoError(t, notifier.Notify(context.Background(), note))
	assert.Equal(t, "merchantguard.alerts", pub.subject)

	msg, ok := pub.payload.(AlertMessage)
	require.True(t, ok)
	assert.Equal(t, note.Alert.ID.String(), msg.AlertID)
	assert.Equal(t, "refund_spike", msg.RuleType)
	assert.Equal(t, "129.50", msg.MoneyAtRisk)
	require.Len(t, msg.Buttons, 3)
	assert.Equal(t, note.Alert.ID.String()+"_mark_resolved", msg.Buttons[2].Value)
}

func TestMultiContinuesPastFailures(t *testing.T) {
	failing := NewNATSNotifier(&recordingPublisher{err: errors.New("no responders")}, "alerts", zerolog.Nop())
	ok := &recordingPublisher{}
	multi := NewMulti(zerolog.Nop(),
		NewSlackNotifier(time.Second, "", zerolog.Nop()),
		failing,
		NewNATSNotifier(ok, "alerts", zerolog.Nop()),
		nil,
	)
	assert.Equal(t, 3, multi.Len())

	err := multi.Notify(context.Background(), sampleNote(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.NotErrorIs(t, err, ErrNoEndpoint)
	assert.Equal(t, "alerts", ok.subject)
}

func TestParseInteractionValue(t *testing.T) {
	id := uuid.New()
	gotID, action, err := ParseInteractionValue(InteractionValue(id, domain.ActionContactCustomer))
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, domain.ActionContactCustomer, action)

	_, _, err = ParseInteractionValue("garbage")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, _, err = ParseInteractionValue(id.String() + "_launch_rockets")
	assert.Error(t, err)
}
