package alerts

import "merchant-guard/internal/domain"

// Button styles understood by the UI layer.
const (
	StylePrimary   = "primary"
	StyleSecondary = "secondary"
	StyleDanger    = "danger"
)

// Button is one remediation choice offered for an alert.
type Button struct {
	Text   string            `json:"text"`
	Action domain.ActionType `json:"action"`
	Style  string            `json:"style"`
}

var markResolved = Button{Text: "Mark Resolved", Action: domain.ActionMarkResolved, Style: StyleDanger}

// Menu returns the ordered buttons offered for an alert of the given rule type.
func Menu(ruleType domain.RuleType) []Button {
	switch ruleType {
	case domain.RuleRefundSpike:
		return []Button{
			{Text: "Refresh Order", Action: domain.ActionRefreshOrder, Style: StylePrimary},
			{Text: "Send Email", Action: domain.ActionSendEmail, Style: StyleSecondary},
			markResolved,
		}
	case domain.RulePaymentFailureStreak:
		return []Button{
			{Text: "Retry Payment", Action: domain.ActionRetryPayment, Style: StylePrimary},
			{Text: "Contact Customer", Action: domain.ActionContactCustomer, Style: StyleSecondary},
			markResolved,
		}
	case domain.RuleUnfulfilled72h:
		return []Button{
			{Text: "Update Fulfillment", Action: domain.ActionUpdateFulfillment, Style: StylePrimary},
			{Text: "Contact Customer", Action: domain.ActionContactCustomer, Style: StyleSecondary},
			markResolved,
		}
	default:
		return []Button{markResolved}
	}
}
