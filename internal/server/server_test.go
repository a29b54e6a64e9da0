package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-guard/internal/actions"
	"merchant-guard/internal/alerts"
	"merchant-guard/internal/config"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/rules"
	"merchant-guard/internal/service"
	"merchant-guard/internal/storage"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	handler  http.Handler
	pipeline *service.Pipeline
	store    domain.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repo := storage.NewMemory()
	clock := func() time.Time { return now }
	lifecycle := alerts.NewLifecycle(repo, repo, clock, zerolog.Nop())
	executor := actions.NewExecutor(repo, lifecycle, actions.NewSimulated(zerolog.Nop()).Remediation(), actions.ExecutorOptions{Now: clock}, zerolog.Nop())
	svc := actions.NewService(repo, actions.QueueFunc(actions.ExecuteHandler(executor, zerolog.Nop())), executor, zerolog.Nop())
	p := service.New(repo, service.Components{
		Events:    eventlog.New(repo, eventlog.Options{Now: clock}, zerolog.Nop()),
		Lifecycle: lifecycle,
		Rules:     rules.NewManager(repo, repo, clock, zerolog.Nop()),
		Actions:   svc,
	}, service.Options{DedupeActive: true, Now: clock}, zerolog.Nop())

	store := &domain.Store{Name: "Demo", ShopDomain: "demo.myshopify.com", PaymentAccountID: "acct_1"}
	_, err := p.Bootstrap(context.Background(), store)
	require.NoError(t, err)

	srv := New(p, config.ServerConfig{Addr: ":0"}, zerolog.Nop())
	return &testAPI{handler: srv.Handler(), pipeline: p, store: *store}
}

func (a *testAPI) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

// raise seeds a refund spike and returns the alert it produced.
func (a *testAPI) raise(t *testing.T) alertView {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := a.pipeline.Ingest(ctx, eventlog.Draft{StoreID: a.store.ID, Type: domain.EventOrderCreated, Payload: domain.Document{"id": fmt.Sprint(i)}, ReceivedAt: now.Add(-time.Hour)}, service.IngestOptions{})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := a.pipeline.Ingest(ctx, eventlog.Draft{StoreID: a.store.ID, Type: domain.EventRefundCreated, Payload: domain.Document{"id": fmt.Sprint(i), "amount": "15.00"}, ReceivedAt: now.Add(-time.Minute)}, service.IngestOptions{})
		require.NoError(t, err)
	}

	rec := a.do(t, http.MethodPost, "/stores/"+a.store.ID.String()+"/events", map[string]any{
		"event_type":  "refund.created",
		"payload":     map[string]any{"id": "r-9", "order_id": "7", "amount": "15.00"},
		"received_at": now.Add(-time.Minute),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Event.Processed)
	assert.Equal(t, "7", resp.Event.Metadata["order_id"])
	require.Len(t, resp.Alerts, 1)
	return resp.Alerts[0]
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	rec = api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "merchantguard_http_requests_total")
}

func TestIngestRejections(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/stores/"+api.store.ID.String()+"/events", map[string]any{"event_type": "cart.abandoned"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "event_type")

	rec = api.do(t, http.MethodPost, "/stores/"+uuid.NewString()+"/events", map[string]any{"event_type": "order.created", "payload": map[string]any{}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/stores/not-a-uuid/events", map[string]any{"event_type": "order.created"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodPost, "/stores/"+api.store.ID.String()+"/events?evaluate=maybe", map[string]any{"event_type": "order.created"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/stores/"+api.store.ID.String()+"/events", strings.NewReader("{"))
	out := httptest.NewRecorder()
	api.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestAlertEndpoints(t *testing.T) {
	api := newTestAPI(t)
	alert := api.raise(t)
	assert.Equal(t, "refund_spike", alert.RuleType)
	assert.Nil(t, alert.MoneySaved)

	rec := api.do(t, http.MethodGet, "/stores/"+api.store.ID.String()+"/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Alerts []alertView `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Alerts, 1)

	rec = api.do(t, http.MethodGet, "/stores/"+api.store.ID.String()+"/alerts?status=open", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodGet, "/alerts/"+alert.ID+"/menu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var menu menuView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &menu))
	require.Len(t, menu.Buttons, 3)
	assert.Equal(t, domain.ActionRefreshOrder, menu.Buttons[0].Action)

	rec = api.do(t, http.MethodGet, "/stores/"+api.store.ID.String()+"/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rule_type":"refund_spike"`)

	rec = api.do(t, http.MethodPost, "/alerts/"+alert.ID+"/resolve", map[string]any{"actor": "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved alertView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, "resolved", resolved.Status)
	assert.Equal(t, "ops", resolved.ResolvedBy)
	require.NotNil(t, resolved.MoneySaved)
	assert.Equal(t, "45.00", *resolved.MoneySaved)

	rec = api.do(t, http.MethodPost, "/alerts/"+alert.ID+"/dismiss", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/alerts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/stores/"+api.store.ID.String()+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"money_saved":"45.00"`)
}

func TestActionEndpoints(t *testing.T) {
	api := newTestAPI(t)
	alert := api.raise(t)

	rec := api.do(t, http.MethodPost, "/alerts/"+alert.ID+"/actions", map[string]any{"action_type": "contact_customer"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var action actionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &action))
	assert.Equal(t, "failed", action.Status)
	assert.Equal(t, "No customer email found", action.Metadata["error"])

	rec = api.do(t, http.MethodPost, "/alerts/"+alert.ID+"/actions", map[string]any{"action_type": "launch"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodGet, "/alerts/"+alert.ID+"/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Actions []actionView `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Actions, 1)

	rec = api.do(t, http.MethodGet, "/alerts/"+alert.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got alertView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Zero(t, got.ActionRate)
}

func TestInteractionJSON(t *testing.T) {
	api := newTestAPI(t)
	alert := api.raise(t)

	rec := api.do(t, http.MethodPost, "/interactions", map[string]any{"value": alert.ID + "_refresh_order", "actor": "jane"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var action actionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &action))
	assert.Equal(t, "refresh_order", action.Type)
	assert.Equal(t, "successful", action.Status)
	assert.Equal(t, "jane", action.Metadata["actor"])

	rec = api.do(t, http.MethodPost, "/interactions", map[string]any{"value": "nonsense"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInteractionSlackForm(t *testing.T) {
	api := newTestAPI(t)
	alert := api.raise(t)

	payload := fmt.Sprintf(`{"type":"block_actions","user":{"id":"U1","username":"sam"},"actions":[{"action_id":"mark_resolved","value":"%s_mark_resolved"}]}`, alert.ID)
	form := url.Values{"payload": {payload}}
	req := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	got, err := api.pipeline.Alert(context.Background(), uuid.MustParse(alert.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.AlertResolved, got.Status)
	assert.Equal(t, "sam", got.ResolvedBy)
}
