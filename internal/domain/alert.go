package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertStatus: active, then exactly one of resolved or dismissed.
type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertResolved  AlertStatus = "resolved"
	AlertDismissed AlertStatus = "dismissed"
)

// Valid reports whether s is a known alert status.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertActive, AlertResolved, AlertDismissed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave s.
func (s AlertStatus) Terminal() bool {
	switch s {
	case AlertResolved, AlertDismissed:
		return true
	case AlertActive:
		return false
	default:
		return false
	}
}

// CheckAlertTransition allows only active→resolved and active→dismissed.
func CheckAlertTransition(id uuid.UUID, from, to AlertStatus) error {
	if from == AlertActive && to.Terminal() {
		return nil
	}
	return &TransitionError{Entity: "alert", ID: id.String(), From: string(from), To: string(to)}
}

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Alert records a rule trigger and tracks it to resolution.
// RuleType is copied from the rule at creation and never follows later rule edits.
type Alert struct {
	ID               uuid.UUID
	StoreID          uuid.UUID
	RuleType         RuleType
	Status           AlertStatus
	Severity         Severity
	Title            string
	Description      string
	Metadata         Document
	ResolvedAt       *time.Time
	ResolvedBy       string
	MoneySaved       decimal.NullDecimal
	TimeSaved        *int
	ActionRate       float64
	ActionsTotal     int
	ActionsSucceeded int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate applies creation defaults and checks required fields.
func (a *Alert) Validate() error {
	if a.Status == "" {
		a.Status = AlertActive
	}
	if a.Severity == "" {
		a.Severity = SeverityMedium
	}
	if a.StoreID == uuid.Nil {
		return invalid("alert", "store_id", "is required")
	}
	if !a.RuleType.Valid() {
		return invalid("alert", "rule_type", fmt.Sprintf("%q is not supported", a.RuleType))
	}
	if a.Title == "" {
		return invalid("alert", "title", "is required")
	}
	if !a.Status.Valid() {
		return invalid("alert", "status", fmt.Sprintf("%q is not supported", a.Status))
	}
	if !a.Severity.Valid() {
		return invalid("alert", "severity", fmt.Sprintf("%q is not supported", a.Severity))
	}
	return nil
}

// RateFromCounters returns succeeded/total*100; ok is false when total is zero.
func RateFromCounters(succeeded, total int) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	return float64(succeeded) / float64(total) * 100, true
}
