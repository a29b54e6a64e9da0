package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RuleType is the closed set of rule condition shapes.
type RuleType string

const (
	RuleRefundSpike          RuleType = "refund_spike"
	RulePaymentFailureStreak RuleType = "payment_failure_streak"
	RuleUnfulfilled72h       RuleType = "unfulfilled_72h"
)

// RuleTypes lists every supported rule type.
var RuleTypes = []RuleType{RuleRefundSpike, RulePaymentFailureStreak, RuleUnfulfilled72h}

// ParseRuleType maps a stored name onto a RuleType.
func ParseRuleType(s string) (RuleType, error) {
	t := RuleType(s)
	if !t.Valid() {
		return "", invalid("rule", "rule_type", fmt.Sprintf("%q is not supported", s))
	}
	return t, nil
}

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleRefundSpike, RulePaymentFailureStreak, RuleUnfulfilled72h:
		return true
	default:
		return false
	}
}

// Rule is a configured condition evaluated against a store's event log.
type Rule struct {
	ID              uuid.UUID
	StoreID         uuid.UUID
	Type            RuleType
	Name            string
	Description     string
	Conditions      Document
	Enabled         bool
	ActionRate      float64
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the fields required to persist a rule.
func (r Rule) Validate() error {
	if r.StoreID == uuid.Nil {
		return invalid("rule", "store_id", "is required")
	}
	if !r.Type.Valid() {
		return invalid("rule", "rule_type", fmt.Sprintf("%q is not supported", r.Type))
	}
	if r.Name == "" {
		return invalid("rule", "name", "is required")
	}
	if r.ActionRate < 0 || r.ActionRate > 100 {
		return invalid("rule", "action_rate", "must be within 0..100")
	}
	return nil
}
