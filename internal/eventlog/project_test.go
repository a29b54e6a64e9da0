package eventlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"merchant-guard/internal/domain"
)

func TestProject(t *testing.T) {
	tests := []struct {
		name      string
		eventType domain.EventType
		payload   domain.Document
		want      domain.Document
	}{
		{
			name:      "refund",
			eventType: domain.EventRefundCreated,
			payload:   domain.Document{"id": json.Number("77"), "order_id": json.Number("1001"), "amount": "25.00", "reason": "damaged"},
			want:      domain.Document{"refund_id": "77", "order_id": "1001", "amount": "25.00", "reason": "damaged"},
		},
		{
			name:      "payment failure",
			eventType: domain.EventPaymentFailed,
			payload: domain.Document{
				"id":                 "pi_123",
				"amount":             json.Number("4500"),
				"last_payment_error": map[string]any{"message": "card declined"},
				"customer":           map[string]any{"email": "a@example.com"},
			},
			want: domain.Document{"payment_intent_id": "pi_123", "amount": json.Number("4500"), "failure_reason": "card declined", "customer_email": "a@example.com"},
		},
		{
			name:      "payment failure falls back to receipt email",
			eventType: domain.EventPaymentFailed,
			payload:   domain.Document{"id": "pi_9", "receipt_email": "r@example.com"},
			want:      domain.Document{"payment_intent_id": "pi_9", "customer_email": "r@example.com"},
		},
		{
			name:      "fulfillment",
			eventType: domain.EventFulfillmentCreated,
			payload:   domain.Document{"id": "f1", "order_id": json.Number("1001"), "status": "success", "tracking_number": "1Z"},
			want:      domain.Document{"fulfillment_id": "f1", "order_id": "1001", "status": "success", "tracking_number": "1Z"},
		},
		{
			name:      "order update with nested customer missing",
			eventType: domain.EventOrderUpdated,
			payload:   domain.Document{"id": json.Number("5"), "customer": "not-an-object"},
			want:      domain.Document{"order_id": "5"},
		},
		{
			name:      "object where scalar expected is dropped",
			eventType: domain.EventRefundCreated,
			payload:   domain.Document{"amount": map[string]any{"value": 1}},
			want:      domain.Document{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(tt.eventType, tt.payload))
		})
	}
}
