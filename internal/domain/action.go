package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType is the closed set of remediation operations.
type ActionType string

const (
	ActionRefreshOrder      ActionType = "refresh_order"
	ActionSendEmail         ActionType = "send_email"
	ActionMarkResolved      ActionType = "mark_resolved"
	ActionRetryPayment      ActionType = "retry_payment"
	ActionContactCustomer   ActionType = "contact_customer"
	ActionUpdateFulfillment ActionType = "update_fulfillment"
)

// ParseActionType maps a wire name onto an ActionType.
func ParseActionType(s string) (ActionType, error) {
	t := ActionType(s)
	if !t.Valid() {
		return "", invalid("action", "action_type", fmt.Sprintf("%q is not supported", s))
	}
	return t, nil
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionRefreshOrder, ActionSendEmail, ActionMarkResolved,
		ActionRetryPayment, ActionContactCustomer, ActionUpdateFulfillment:
		return true
	default:
		return false
	}
}

// ActionStatus: pending → processing → successful | failed.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionProcessing ActionStatus = "processing"
	ActionSuccessful ActionStatus = "successful"
	ActionFailed     ActionStatus = "failed"
)

// Valid reports whether s is a known action status.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionPending, ActionProcessing, ActionSuccessful, ActionFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is successful or failed.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionSuccessful, ActionFailed:
		return true
	case ActionPending, ActionProcessing:
		return false
	default:
		return false
	}
}

// CheckActionTransition enforces the monotonic action state machine.
func CheckActionTransition(id uuid.UUID, from, to ActionStatus) error {
	ok := false
	switch from {
	case ActionPending:
		ok = to == ActionProcessing
	case ActionProcessing:
		ok = to.Terminal()
	case ActionSuccessful, ActionFailed:
		ok = false
	}
	if !ok {
		return &TransitionError{Entity: "action", ID: id.String(), From: string(from), To: string(to)}
	}
	return nil
}

// Action is one remediation unit attached to an alert.
type Action struct {
	ID         uuid.UUID
	AlertID    uuid.UUID
	Type       ActionType
	Status     ActionStatus
	Metadata   Document
	ExecutedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate applies creation defaults and checks required fields.
func (a *Action) Validate() error {
	if a.Status == "" {
		a.Status = ActionPending
	}
	if a.AlertID == uuid.Nil {
		return invalid("action", "alert_id", "is required")
	}
	if !a.Type.Valid() {
		return invalid("action", "action_type", fmt.Sprintf("%q is not supported", a.Type))
	}
	if a.Status != ActionPending {
		return invalid("action", "status", "must be pending on creation")
	}
	return nil
}

// FailureReason returns the recorded error of a failed action.
func (a Action) FailureReason() string {
	return a.Metadata.String("error")
}
