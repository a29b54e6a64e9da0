package server

import (
	"time"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/storage"
)

type eventView struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	Type        string          `json:"event_type"`
	Payload     domain.Document `json:"payload"`
	Metadata    domain.Document `json:"metadata"`
	Processed   bool            `json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newEventView(e domain.Event) eventView {
	return eventView{
		ID:          e.ID.String(),
		StoreID:     e.StoreID.String(),
		Type:        string(e.Type),
		Payload:     e.Payload,
		Metadata:    e.Metadata,
		Processed:   e.Processed,
		ProcessedAt: e.ProcessedAt,
		CreatedAt:   e.CreatedAt,
	}
}

type ruleView struct {
	ID              string          `json:"id"`
	StoreID         string          `json:"store_id"`
	Type            string          `json:"rule_type"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Conditions      domain.Document `json:"conditions"`
	Enabled         bool            `json:"enabled"`
	ActionRate      float64         `json:"action_rate"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func newRuleView(r domain.Rule) ruleView {
	return ruleView{
		ID:              r.ID.String(),
		StoreID:         r.StoreID.String(),
		Type:            string(r.Type),
		Name:            r.Name,
		Description:     r.Description,
		Conditions:      r.Conditions,
		Enabled:         r.Enabled,
		ActionRate:      r.ActionRate,
		LastTriggeredAt: r.LastTriggeredAt,
		CreatedAt:       r.CreatedAt,
	}
}

type alertView struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	RuleType    string          `json:"rule_type"`
	Status      string          `json:"status"`
	Severity    string          `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Metadata    domain.Document `json:"metadata"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`
	MoneySaved  *string         `json:"money_saved"`
	TimeSaved   *int            `json:"time_saved"`
	ActionRate  float64         `json:"action_rate"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newAlertView(a domain.Alert) alertView {
	v := alertView{
		ID:          a.ID.String(),
		StoreID:     a.StoreID.String(),
		RuleType:    string(a.RuleType),
		Status:      string(a.Status),
		Severity:    string(a.Severity),
		Title:       a.Title,
		Description: a.Description,
		Metadata:    a.Metadata,
		ResolvedAt:  a.ResolvedAt,
		ResolvedBy:  a.ResolvedBy,
		TimeSaved:   a.TimeSaved,
		ActionRate:  a.ActionRate,
		CreatedAt:   a.CreatedAt,
	}
	if a.MoneySaved.Valid {
		money := a.MoneySaved.Decimal.StringFixed(2)
		v.MoneySaved = &money
	}
	return v
}

func newAlertViews(list []domain.Alert) []alertView {
	out := make([]alertView, 0, len(list))
	for _, a := range list {
		out = append(out, newAlertView(a))
	}
	return out
}

type actionView struct {
	ID         string          `json:"id"`
	AlertID    string          `json:"alert_id"`
	Type       string          `json:"action_type"`
	Status     string          `json:"status"`
	Metadata   domain.Document `json:"metadata"`
	ExecutedAt *time.Time      `json:"executed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newActionView(a domain.Action) actionView {
	return actionView{
		ID:         a.ID.String(),
		AlertID:    a.AlertID.String(),
		Type:       string(a.Type),
		Status:     string(a.Status),
		Metadata:   a.Metadata,
		ExecutedAt: a.ExecutedAt,
		CreatedAt:  a.CreatedAt,
	}
}

type summaryView struct {
	MoneySaved        string  `json:"money_saved"`
	TimeSaved         int     `json:"time_saved"`
	AverageActionRate float64 `json:"average_action_rate"`
	Active            int     `json:"active"`
	Resolved          int     `json:"resolved"`
	Dismissed         int     `json:"dismissed"`
}

func newSummaryView(s storage.Summary) summaryView {
	return summaryView{
		MoneySaved:        s.MoneySaved.StringFixed(2),
		TimeSaved:         s.TimeSaved,
		AverageActionRate: s.AverageActionRate,
		Active:            s.Active,
		Resolved:          s.Resolved,
		Dismissed:         s.Dismissed,
	}
}

type menuView struct {
	AlertID string          `json:"alert_id"`
	Buttons []alerts.Button `json:"buttons"`
}
