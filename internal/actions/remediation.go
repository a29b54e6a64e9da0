package actions

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-guard/internal/domain"
)

// CallResult is the outcome of one remediation API call.
type CallResult struct {
	Success   bool
	Reference string
}

// Orders is the e-commerce platform API used by order remediations.
type Orders interface {
	RefreshOrder(ctx context.Context, store domain.Store, orderID string) (CallResult, error)
	UpdateFulfillment(ctx context.Context, store domain.Store, orderID string) (CallResult, error)
}

// Payments is the payment processor API.
type Payments interface {
	RetryPayment(ctx context.Context, store domain.Store, paymentIntentID string) (CallResult, error)
}

// Mailer sends operator and customer email.
type Mailer interface {
	SendAlertEmail(ctx context.Context, store domain.Store, alert domain.Alert) (CallResult, error)
	ContactCustomer(ctx context.Context, store domain.Store, email string, alert domain.Alert) (CallResult, error)
}

// Remediation bundles the external collaborators actions call into.
type Remediation struct {
	Orders   Orders
	Payments Payments
	Mailer   Mailer
}

// Simulated stands in for every remediation API: calls are logged and succeed.
type Simulated struct {
	logger zerolog.Logger
}

// NewSimulated constructs the simulated remediation clients.
func NewSimulated(logger zerolog.Logger) *Simulated {
	return &Simulated{logger: logger.With().Str("component", "remediation").Logger()}
}

// Remediation exposes s through every remediation interface.
func (s *Simulated) Remediation() Remediation {
	return Remediation{Orders: s, Payments: s, Mailer: s}
}

// RefreshOrder implements Orders.
func (s *Simulated) RefreshOrder(ctx context.Context, store domain.Store, orderID string) (CallResult, error) {
	s.logger.Info().Str("store", store.Name).Str("order_id", orderID).Msg("refreshed order")
	return CallResult{Success: true, Reference: orderID}, nil
}

// UpdateFulfillment implements Orders.
func (s *Simulated) UpdateFulfillment(ctx context.Context, store domain.Store, orderID string) (CallResult, error) {
	s.logger.Info().Str("store", store.Name).Str("order_id", orderID).Msg("updated fulfillment")
	return CallResult{Success: true, Reference: orderID}, nil
}

// RetryPayment implements Payments.
func (s *Simulated) RetryPayment(ctx context.Context, store domain.Store, paymentIntentID string) (CallResult, error) {
	s.logger.Info().Str("store", store.Name).Str("payment_intent_id", paymentIntentID).Msg("retried payment")
	return CallResult{Success: true, Reference: paymentIntentID}, nil
}

// SendAlertEmail implements Mailer.
func (s *Simulated) SendAlertEmail(ctx context.Context, store domain.Store, alert domain.Alert) (CallResult, error) {
	id := uuid.NewString()
	s.logger.Info().Str("store", store.Name).Str("alert_id", alert.ID.String()).Str("message_id", id).Msg("sent alert email")
	return CallResult{Success: true, Reference: id}, nil
}

// ContactCustomer implements Mailer.
func (s *Simulated) ContactCustomer(ctx context.Context, store domain.Store, email string, alert domain.Alert) (CallResult, error) {
	id := uuid.NewString()
	s.logger.Info().Str("store", store.Name).Str("alert_id", alert.ID.String()).Str("customer_email", email).Msg("contacted customer")
	return CallResult{Success: true, Reference: id}, nil
}
