package rules

import (
	"github.com/google/uuid"

	"merchant-guard/internal/domain"
)

// DefaultRules returns the enabled rule set provisioned for a new store.
func DefaultRules(storeID uuid.UUID) []domain.Rule {
	return []domain.Rule{
		{
			StoreID:     storeID,
			Type:        domain.RuleRefundSpike,
			Name:        "Refund Spike Alert",
			Description: "Triggers when refund rate exceeds 5% in 24 hours",
			Conditions: domain.Document{
				"threshold":       0.05,
				"time_window":     "24h",
				"minimum_refunds": 3,
			},
			Enabled: true,
		},
		{
			StoreID:     storeID,
			Type:        domain.RulePaymentFailureStreak,
			Name:        "Payment Failure Streak",
			Description: "Triggers when 3+ consecutive payment failures occur",
			Conditions: domain.Document{
				"consecutive_failures": 3,
				"time_window":          "1h",
			},
			Enabled: true,
		},
		{
			StoreID:     storeID,
			Type:        domain.RuleUnfulfilled72h,
			Name:        "Unfulfilled Orders > 72h",
			Description: "Triggers when orders remain unfulfilled for over 72 hours",
			Conditions: domain.Document{
				"hours_threshold": 72,
				"minimum_value":   "50.00",
			},
			Enabled: true,
		},
	}
}
