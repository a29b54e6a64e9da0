package eventlog

import "merchant-guard/internal/domain"

type field struct {
	key  string
	path []string
}

var (
	orderFields = []field{
		{"order_id", []string{"id"}},
		{"customer_email", []string{"customer", "email"}},
		{"total_price", []string{"total_price"}},
		{"currency", []string{"currency"}},
		{"created_at", []string{"created_at"}},
	}
	refundFields = []field{
		{"refund_id", []string{"id"}},
		{"order_id", []string{"order_id"}},
		{"amount", []string{"amount"}},
		{"reason", []string{"reason"}},
	}
	paymentFailureFields = []field{
		{"payment_intent_id", []string{"id"}},
		{"amount", []string{"amount"}},
		{"failure_reason", []string{"last_payment_error", "message"}},
		{"customer_email", []string{"customer", "email"}},
	}
	fulfillmentFields = []field{
		{"fulfillment_id", []string{"id"}},
		{"order_id", []string{"order_id"}},
		{"status", []string{"status"}},
		{"tracking_number", []string{"tracking_number"}},
	}
)

// Project extracts the derived metadata for an event type. Missing payload keys are
// left out, so the projection of a malformed payload is partial rather than an error.
func Project(eventType domain.EventType, payload domain.Document) domain.Document {
	var fields []field
	switch eventType {
	case domain.EventOrderCreated, domain.EventOrderUpdated:
		fields = orderFields
	case domain.EventRefundCreated:
		fields = refundFields
	case domain.EventPaymentFailed:
		fields = paymentFailureFields
	case domain.EventFulfillmentCreated:
		fields = fulfillmentFields
	}

	out := domain.Document{}
	for _, f := range fields {
		v := payload.Dig(f.path...)
		if v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, domain.Document, []any:
			continue
		}
		if id, ok := identifier(f.key, v); ok {
			out[f.key] = id
			continue
		}
		out[f.key] = v
	}

	if eventType == domain.EventPaymentFailed {
		if _, ok := out["customer_email"]; !ok {
			if email := payload.String("receipt_email"); email != "" {
				out["customer_email"] = email
			}
		}
	}
	return out
}

// identifier normalises id-like keys to strings so numeric and string ids compare equal.
func identifier(key string, v any) (string, bool) {
	switch key {
	case "order_id", "refund_id", "fulfillment_id", "payment_intent_id":
		s := domain.ScalarString(v)
		return s, s != ""
	}
	return "", false
}
