// Package webhooks owns subscription registration, the durable delivery
// queue, retry scheduling, HMAC signing, and the event log for the Webhook
// Delivery Engine.
package webhooks

import (
	"context"
	"time"
)

// EventType is the closed set of event tags an owner may subscribe to.
// Any other string is rejected at registration and at emit time.
type EventType string

const (
	EventEscrowCreated  EventType = "escrow_created"
	EventEscrowFunded   EventType = "escrow_funded"
	EventEscrowLocked   EventType = "escrow_locked"
	EventEscrowReleased EventType = "escrow_released"
	EventEscrowRefunded EventType = "escrow_refunded"
	EventEscrowDisputed EventType = "escrow_disputed"
	EventTippingReceived EventType = "tipping_received"
	EventPaymentSettled EventType = "payment_settled"

	// EventTest is reserved for the synchronous testWebhook bypass; it is
	// never persisted to the event log or the durable queue.
	EventTest EventType = "test"
)

// validEventTypes is the closed set, excluding the reserved test type.
var validEventTypes = map[EventType]bool{
	EventEscrowCreated:   true,
	EventEscrowFunded:    true,
	EventEscrowLocked:    true,
	EventEscrowReleased:  true,
	EventEscrowRefunded:  true,
	EventEscrowDisputed:  true,
	EventTippingReceived: true,
	EventPaymentSettled:  true,
}

// IsValidEventType reports whether et is in the closed set (excluding the
// reserved test type, which is never a subscription filter value).
func IsValidEventType(et EventType) bool {
	return validEventTypes[et]
}

// AllEventTypes returns the closed set in a stable order.
func AllEventTypes() []EventType {
	return []EventType{
		EventEscrowCreated,
		EventEscrowFunded,
		EventEscrowLocked,
		EventEscrowReleased,
		EventEscrowRefunded,
		EventEscrowDisputed,
		EventTippingReceived,
		EventPaymentSettled,
	}
}

// DeliveryStatus is the closed set of delivery queue entry states.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed" // permanently failed, retries exhausted
)

// Subscription is a registered webhook endpoint for one owner.
type Subscription struct {
	ID         string      `json:"id"`
	OwnerID    string      `json:"ownerId"`
	URL        string      `json:"url"`
	Secret     string      `json:"-"`
	EventTypes []EventType `json:"eventTypes"`
	Active     bool        `json:"active"`
	CreatedAt  time.Time   `json:"createdAt"`

	// Delivery counters and last-triggered instant, updated by
	// attemptDelivery on every real delivery outcome.
	Successes       int        `json:"successes"`
	Failures        int        `json:"failures"`
	Retries         int        `json:"retries"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
}

// Wants reports whether the subscription is active and registered for et.
func (s *Subscription) Wants(et EventType) bool {
	if !s.Active {
		return false
	}
	for _, e := range s.EventTypes {
		if e == et {
			return true
		}
	}
	return false
}

// Event is one entry in the append-only event log (spec: every emitted
// event is recorded regardless of whether any subscription matches it).
// Context carries optional caller-supplied metadata alongside Data; it is
// part of the event record transmitted to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Context   any       `json:"context,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Delivery is one durable queue entry: one (subscription, event) pair
// awaiting or having completed delivery. EventTimestamp and Context are
// carried over from the event snapshot at enqueue time so the wire body
// reconstructed at delivery is byte-identical on every attempt.
type Delivery struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscriptionId"`
	EventID        string         `json:"eventId"`
	EventType      EventType      `json:"eventType"`
	EventTimestamp time.Time      `json:"eventTimestamp"`
	Payload        any            `json:"payload"`
	Context        any            `json:"context,omitempty"`
	Attempt        int            `json:"attempt"`
	NextAttemptAt  time.Time      `json:"nextAttemptAt"`
	Status         DeliveryStatus `json:"status"`
	LastError      string         `json:"lastError,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
}

// SubscriptionStore persists the subscription registry.
type SubscriptionStore interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)
	ListActiveForEvent(ctx context.Context, et EventType) ([]*Subscription, error)
}

// QueueStore persists the durable delivery queue. Implementations rehydrate
// the full pending set at process start and checkpoint on each mutation (or
// on the configured interval — see Timer and Checkpointer).
type QueueStore interface {
	Enqueue(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	ListPending(ctx context.Context) ([]*Delivery, error)
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error)
}

// EventLogStore persists the append-only event log. FileStore truncates its
// log from the head once it exceeds its maxLogEntries; MemoryStore and
// PostgresStore keep every entry.
type EventLogStore interface {
	Append(ctx context.Context, e *Event) error
	List(ctx context.Context, limit int) ([]*Event, error)
	ListByType(ctx context.Context, et EventType, limit int) ([]*Event, error)
}

// Sender performs the actual outbound HTTP delivery of one payload to one
// URL with the given headers. Implementations live outside this package
// (the HTTP transport is an external collaborator); Service only depends on
// this narrow seam so it can be faked in tests.
type Sender interface {
	Send(ctx context.Context, url string, headers map[string]string, body []byte) error
}
