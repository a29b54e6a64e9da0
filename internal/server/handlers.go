package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/notify"
	"merchant-guard/internal/service"
	"merchant-guard/internal/storage"
	"merchant-guard/internal/version"
)

type ingestRequest struct {
	EventType  string          `json:"event_type"`
	Payload    domain.Document `json:"payload"`
	ReceivedAt *time.Time      `json:"received_at"`
}

type ingestResponse struct {
	Event  eventView   `json:"event"`
	Alerts []alertView `json:"alerts"`
}

type actionRequest struct {
	ActionType string          `json:"action_type"`
	Metadata   domain.Document `json:"metadata"`
}

type closeRequest struct {
	Actor string `json:"actor"`
}

type interactionRequest struct {
	Value string `json:"value"`
	Actor string `json:"actor"`
}

// slackInteraction is the subset of a Slack block_actions payload the API reads.
type slackInteraction struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version.Version})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "storeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	eventType, err := domain.ParseEventType(req.EventType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	evaluate, err := queryBool(r, "evaluate", true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	notifyNew, err := queryBool(r, "notify", true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	draft := eventlog.Draft{StoreID: storeID, Type: eventType, Payload: req.Payload, Source: "http"}
	if req.ReceivedAt != nil {
		draft.ReceivedAt = req.ReceivedAt.UTC()
	}
	res, err := s.pipeline.Ingest(r.Context(), draft, service.IngestOptions{Evaluate: evaluate, Notify: notifyNew})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{Event: newEventView(res.Event), Alerts: newAlertViews(res.Alerts)})
}

func (s *Server) handleStoreAlerts(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "storeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := storage.AlertFilter{StoreID: storeID}
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status := domain.AlertStatus(raw)
		if !status.Valid() {
			s.writeError(w, r, &domain.ValidationError{Entity: "request", Field: "status", Reason: "is not an alert status"})
			return
		}
		filter.Status = status
	}
	if raw := q.Get("rule_type"); raw != "" {
		ruleType, err := domain.ParseRuleType(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filter.RuleType = ruleType
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := cast.ToIntE(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, &domain.ValidationError{Entity: "request", Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	list, err := s.pipeline.Alerts(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": newAlertViews(list)})
}

func (s *Server) handleStoreRules(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "storeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.pipeline.Rules(r.Context(), storeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]ruleView, 0, len(list))
	for _, rule := range list {
		out = append(out, newRuleView(rule))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (s *Server) handleStoreSummary(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r, "storeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.pipeline.Summary(r.Context(), storeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryView(summary))
}

func (s *Server) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	alertID, err := pathID(r, "alertID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alert, err := s.pipeline.Alert(r.Context(), alertID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAlertView(alert))
}

func (s *Server) handleAlertMenu(w http.ResponseWriter, r *http.Request) {
	alertID, err := pathID(r, "alertID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	buttons, err := s.pipeline.ActionMenu(r.Context(), alertID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, menuView{AlertID: alertID.String(), Buttons: buttons})
}

func (s *Server) handleActionsList(w http.ResponseWriter, r *http.Request) {
	alertID, err := pathID(r, "alertID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.pipeline.Actions(r.Context(), alertID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]actionView, 0, len(list))
	for _, a := range list {
		out = append(out, newActionView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (s *Server) handleActionCreate(w http.ResponseWriter, r *http.Request) {
	alertID, err := pathID(r, "alertID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	actionType, err := domain.ParseActionType(req.ActionType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	action, err := s.pipeline.CreateAction(r.Context(), alertID, actionType, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newActionView(action))
}

func (s *Server) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	s.closeAlert(w, r, s.pipeline.ResolveAlert)
}

func (s *Server) handleAlertDismiss(w http.ResponseWriter, r *http.Request) {
	s.closeAlert(w, r, s.pipeline.DismissAlert)
}

func (s *Server) closeAlert(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, string) (domain.Alert, error)) {
	alertID, err := pathID(r, "alertID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "api"
	}
	alert, err := fn(r.Context(), alertID, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAlertView(alert))
}

// handleInteraction accepts either a JSON body or a Slack form-encoded block_actions payload
// and schedules the clicked action.
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeBadRequest(w, "invalid form body")
			return
		}
		var payload slackInteraction
		if err := json.Unmarshal([]byte(r.PostForm.Get("payload")), &payload); err != nil || len(payload.Actions) == 0 {
			writeBadRequest(w, "invalid interaction payload")
			return
		}
		req.Value = payload.Actions[0].Value
		req.Actor = payload.User.Username
		if req.Actor == "" {
			req.Actor = payload.User.ID
		}
	} else if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	alertID, actionType, err := notify.ParseInteractionValue(req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metadata := domain.Document{"source": "interaction"}
	if actor := strings.TrimSpace(req.Actor); actor != "" {
		metadata["actor"] = actor
	}
	action, err := s.pipeline.CreateAction(r.Context(), alertID, actionType, metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newActionView(action))
}

func queryBool(r *http.Request, key string, fallback bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		return false, &domain.ValidationError{Entity: "request", Field: key, Reason: "must be a boolean"}
	}
	return v, nil
}
