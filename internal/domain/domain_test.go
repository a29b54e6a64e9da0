package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertTransitions(t *testing.T) {
	id := uuid.New()

	assert.NoError(t, CheckAlertTransition(id, AlertActive, AlertResolved))
	assert.NoError(t, CheckAlertTransition(id, AlertActive, AlertDismissed))

	err := CheckAlertTransition(id, AlertResolved, AlertDismissed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "alert", te.Entity)
	assert.Equal(t, "resolved", te.From)

	assert.Error(t, CheckAlertTransition(id, AlertActive, AlertActive))
	assert.Error(t, CheckAlertTransition(id, AlertDismissed, AlertResolved))
}

func TestActionTransitions(t *testing.T) {
	id := uuid.New()

	assert.NoError(t, CheckActionTransition(id, ActionPending, ActionProcessing))
	assert.NoError(t, CheckActionTransition(id, ActionProcessing, ActionSuccessful))
	assert.NoError(t, CheckActionTransition(id, ActionProcessing, ActionFailed))

	assert.ErrorIs(t, CheckActionTransition(id, ActionPending, ActionSuccessful), ErrInvalidTransition)
	assert.ErrorIs(t, CheckActionTransition(id, ActionSuccessful, ActionFailed), ErrInvalidTransition)
	assert.ErrorIs(t, CheckActionTransition(id, ActionFailed, ActionProcessing), ErrInvalidTransition)
	assert.ErrorIs(t, CheckActionTransition(id, ActionProcessing, ActionPending), ErrInvalidTransition)
}

func TestRateFromCounters(t *testing.T) {
	_, ok := RateFromCounters(0, 0)
	assert.False(t, ok)

	rate, ok := RateFromCounters(1, 4)
	require.True(t, ok)
	assert.InDelta(t, 25.0, rate, 1e-9)

	rate, ok = RateFromCounters(3, 3)
	require.True(t, ok)
	assert.InDelta(t, 100.0, rate, 1e-9)
}

func TestValidateDefaults(t *testing.T) {
	store := Store{Name: "Acme", ShopDomain: "acme.myshopify.com", PaymentAccountID: "acct_1"}
	require.NoError(t, store.Validate())
	assert.Equal(t, StoreActive, store.Status)
	assert.Equal(t, "https://acme.myshopify.com", store.ShopURL())
	assert.Equal(t, "https://dashboard.stripe.com/accounts/acct_1", store.PaymentDashboardURL())

	alert := Alert{StoreID: uuid.New(), RuleType: RuleRefundSpike, Title: "Refund spike"}
	require.NoError(t, alert.Validate())
	assert.Equal(t, AlertActive, alert.Status)
	assert.Equal(t, SeverityMedium, alert.Severity)

	action := Action{AlertID: uuid.New(), Type: ActionSendEmail}
	require.NoError(t, action.Validate())
	assert.Equal(t, ActionPending, action.Status)
}

func TestValidateRejects(t *testing.T) {
	var ve *ValidationError

	store := Store{Name: "Acme", PaymentAccountID: "acct_1"}
	require.ErrorAs(t, store.Validate(), &ve)
	assert.Equal(t, "shop_domain", ve.Field)

	ev := Event{StoreID: uuid.New(), Type: "order.deleted"}
	require.ErrorAs(t, ev.Validate(), &ve)
	assert.Equal(t, "event_type", ve.Field)

	rule := Rule{StoreID: uuid.New(), Type: RuleRefundSpike, Name: "r", ActionRate: 101}
	require.ErrorAs(t, rule.Validate(), &ve)
	assert.Equal(t, "action_rate", ve.Field)

	alert := Alert{StoreID: uuid.New(), RuleType: RuleUnfulfilled72h, Title: "x", Severity: "urgent"}
	require.ErrorAs(t, alert.Validate(), &ve)
	assert.Equal(t, "severity", ve.Field)

	action := Action{AlertID: uuid.New(), Type: ActionSendEmail, Status: ActionSuccessful}
	require.ErrorAs(t, action.Validate(), &ve)
	assert.Equal(t, "status", ve.Field)

	_, err := ParseActionType("call_customer")
	assert.Error(t, err)
	_, err = ParseRuleType("chargeback_spike")
	assert.Error(t, err)
	got, err := ParseEventType("refund.created")
	require.NoError(t, err)
	assert.Equal(t, EventRefundCreated, got)
}

func TestDocumentAccessors(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(`{
		"customer": {"email": "a@example.com", "orders": 3},
		"amount": 1250.5,
		"id": 12345678901,
		"tags": ["x"]
	}`), &doc))

	assert.Equal(t, "a@example.com", doc.String("customer", "email"))
	assert.Equal(t, "12345678901", doc.String("id"))
	assert.Equal(t, "", doc.String("tags"))
	assert.Equal(t, "", doc.String("customer", "email", "domain"))
	assert.Nil(t, doc.Dig("missing", "path"))

	amount, ok := doc.Decimal("amount")
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("1250.5")))

	orders, ok := doc.Int("customer", "orders")
	require.True(t, ok)
	assert.Equal(t, 3, orders)

	_, ok = doc.Decimal("customer")
	assert.False(t, ok)
}

func TestDocumentCloneAndMerge(t *testing.T) {
	var nilDoc Document
	assert.NotNil(t, nilDoc.Clone())

	base := Document{"a": 1, "b": 2}
	merged := base.Merge(Document{"b": 3, "c": 4})
	assert.Equal(t, Document{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, Document{"a": 1, "b": 2}, base)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "No customer email found", (&MissingEvidenceError{Field: "customer_email"}).Error())

	cause := errors.New("timeout")
	err := &ExternalCallError{Operation: "refresh order", Err: cause}
	assert.Equal(t, "refresh order failed: timeout", err.Error())
	assert.ErrorIs(t, err, cause)
}
