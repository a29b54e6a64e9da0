package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of upstream business events.
type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderUpdated       EventType = "order.updated"
	EventRefundCreated      EventType = "refund.created"
	EventPaymentFailed      EventType = "payment_intent.payment_failed"
	EventFulfillmentCreated EventType = "fulfillment.created"
)

// EventTypes lists every supported event type.
var EventTypes = []EventType{
	EventOrderCreated,
	EventOrderUpdated,
	EventRefundCreated,
	EventPaymentFailed,
	EventFulfillmentCreated,
}

// ParseEventType maps the wire name onto an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", invalid("event", "event_type", fmt.Sprintf("%q is not supported", s))
	}
	return t, nil
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventOrderCreated, EventOrderUpdated, EventRefundCreated, EventPaymentFailed, EventFulfillmentCreated:
		return true
	default:
		return false
	}
}

// Event is an ingested fact. Only Metadata and Processed change after append, once.
type Event struct {
	ID          uuid.UUID
	Seq         int64
	StoreID     uuid.UUID
	Type        EventType
	Payload     Document
	Metadata    Document
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Validate checks the fields required to append an event.
func (e Event) Validate() error {
	if e.StoreID == uuid.Nil {
		return invalid("event", "store_id", "is required")
	}
	if !e.Type.Valid() {
		return invalid("event", "event_type", fmt.Sprintf("%q is not supported", e.Type))
	}
	return nil
}
