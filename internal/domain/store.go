package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoreStatus is the tenant lifecycle state.
type StoreStatus string

const (
	StoreActive    StoreStatus = "active"
	StoreInactive  StoreStatus = "inactive"
	StoreSuspended StoreStatus = "suspended"
)

// Valid reports whether s is a known store status.
func (s StoreStatus) Valid() bool {
	switch s {
	case StoreActive, StoreInactive, StoreSuspended:
		return true
	default:
		return false
	}
}

// Store is the tenant boundary; every other entity belongs to exactly one store.
type Store struct {
	ID               uuid.UUID
	Name             string
	ShopDomain       string
	PaymentAccountID string
	NotificationURL  string
	Status           StoreStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate applies defaults and checks required fields.
func (s *Store) Validate() error {
	if s.Status == "" {
		s.Status = StoreActive
	}
	if s.Name == "" {
		return invalid("store", "name", "is required")
	}
	if s.ShopDomain == "" {
		return invalid("store", "shop_domain", "is required")
	}
	if s.PaymentAccountID == "" {
		return invalid("store", "payment_account_id", "is required")
	}
	if !s.Status.Valid() {
		return invalid("store", "status", fmt.Sprintf("%q is not supported", s.Status))
	}
	return nil
}

// ShopURL is the storefront admin address.
func (s Store) ShopURL() string {
	return "https://" + s.ShopDomain
}

// PaymentDashboardURL links to the payment processor account.
func (s Store) PaymentDashboardURL() string {
	return "https://dashboard.stripe.com/accounts/" + s.PaymentAccountID
}
