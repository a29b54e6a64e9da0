package alerts

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/rules"
)

// Template is the presentation of a new alert.
type Template struct {
	Title       string
	Description string
	Severity    domain.Severity
}

// TemplateFor builds the alert title, description and severity for a rule trigger.
func TemplateFor(rule domain.Rule, evidence domain.Document) Template {
	switch rule.Type {
	case domain.RuleRefundSpike:
		cond, _ := rules.DecodeRefundSpike(rule.Conditions)
		pct := decimal.NewFromFloat(cond.Threshold).Mul(decimal.NewFromInt(100))
		return Template{
			Title:       "Refund Spike Detected",
			Description: fmt.Sprintf("Refund rate has exceeded %s%% in the last %s", pct.String(), humanWindow(cond.TimeWindow.Hours())),
			Severity:    domain.SeverityHigh,
		}
	case domain.RulePaymentFailureStreak:
		desc := "Multiple consecutive payment failures detected"
		if run, ok := evidence.Int("consecutive_run"); ok && run > 0 {
			desc = fmt.Sprintf("%d consecutive payment failures detected", run)
		}
		return Template{
			Title:       "Payment Failure Streak",
			Description: desc,
			Severity:    domain.SeverityCritical,
		}
	case domain.RuleUnfulfilled72h:
		cond, _ := rules.DecodeUnfulfilled(rule.Conditions)
		desc := fmt.Sprintf("Order has been unfulfilled for over %s hours", decimal.NewFromFloat(cond.HoursThreshold).String())
		if id := evidence.String("order_id"); id != "" {
			desc = fmt.Sprintf("Order %s has been unfulfilled for over %s hours", id, decimal.NewFromFloat(cond.HoursThreshold).String())
		}
		return Template{
			Title:       "Unfulfilled Order > 72h",
			Description: desc,
			Severity:    domain.SeverityMedium,
		}
	default:
		return Template{
			Title:       strings.TrimSpace(rule.Name),
			Description: rule.Description,
			Severity:    domain.SeverityMedium,
		}
	}
}

func humanWindow(hours float64) string {
	switch {
	case hours == 1:
		return "hour"
	case hours > 0 && hours == float64(int64(hours)):
		return fmt.Sprintf("%d hours", int64(hours))
	default:
		return fmt.Sprintf("%s hours", decimal.NewFromFloat(hours).StringFixed(1))
	}
}

// Savings returns the money and minutes an alert saved, by rule type.
func Savings(ruleType domain.RuleType, evidence domain.Document) (decimal.Decimal, int) {
	switch ruleType {
	case domain.RuleRefundSpike:
		amount, _ := evidence.Decimal("refund_amount")
		return amount, 30
	case domain.RulePaymentFailureStreak:
		amount, _ := evidence.Decimal("failed_amount")
		return amount, 45
	case domain.RuleUnfulfilled72h:
		value, _ := evidence.Decimal("order_value")
		return value.Mul(decimal.NewFromFloat(0.1)), 60
	default:
		return decimal.Zero, 0
	}
}
