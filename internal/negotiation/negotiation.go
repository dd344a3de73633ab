// Package negotiation implements the quote-and-counter-offer lifecycle
// agents use to agree on price before an escrow is opened.
//
// Flow:
//  1. A requester creates a quote addressed to a provider with an asking amount.
//  2. The provider accepts, rejects, or counters with a different amount.
//  3. Accepting (either the original or a counter) opens an escrow for the
//     agreed amount, composing the Escrow Engine rather than duplicating its
//     state machine.
//  4. Once the escrow is funded and locked, the provider marks the work
//     delivered and the requester confirms, releasing the escrow.
//  5. Quotes left unanswered past their expiry are swept to "expired".
package negotiation

import (
	"context"
	"math/big"
	"time"

	"github.com/mbd888/agentbroker/internal/escrow"
	"github.com/mbd888/agentbroker/internal/money"
)

// Status is the lifecycle state of a Quote.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCountered Status = "countered"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Timeline records when each lifecycle transition happened.
type Timeline struct {
	Created   time.Time  `json:"created"`
	Accepted  *time.Time `json:"accepted,omitempty"`
	Rejected  *time.Time `json:"rejected,omitempty"`
	Countered *time.Time `json:"countered,omitempty"`
	Expired   *time.Time `json:"expired,omitempty"`
	Delivered *time.Time `json:"delivered,omitempty"`
	Confirmed *time.Time `json:"confirmed,omitempty"`
}

// Quote represents a priced request for work between two agents.
type Quote struct {
	ID          string      `json:"id"`
	Requester   string      `json:"requester"`
	Provider    string      `json:"provider"`
	Description string      `json:"description"`
	Amount      *big.Int    `json:"-"`
	AmountDisplay string    `json:"amount"`
	Token       money.Token `json:"token"`

	// CounterAmount/CounterNote are set by the most recent counterOffer.
	CounterAmount        *big.Int `json:"-"`
	CounterAmountDisplay string   `json:"counterAmount,omitempty"`
	CounterNote          string   `json:"counterNote,omitempty"`

	EscrowID  string     `json:"escrowId,omitempty"`
	Status    Status     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Timeline  Timeline   `json:"timeline"`
}

// Store persists quotes.
type Store interface {
	Create(ctx context.Context, q *Quote) error
	Get(ctx context.Context, id string) (*Quote, error)
	Update(ctx context.Context, q *Quote) error
	ListByParty(ctx context.Context, partyID string, limit int) ([]*Quote, error)
	ListDueForExpiry(ctx context.Context, before time.Time) ([]*Quote, error)
}

// Emitter publishes domain events to the Webhook Delivery Engine.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any) error
}

// EscrowOpener is the narrow slice of the Escrow Engine the negotiation
// service composes on acceptance. Kept as an interface, mirroring the
// teacher's ContractFormer seam, so this package never imports escrow's
// transport layer.
type EscrowOpener interface {
	Create(ctx context.Context, payer, payee, amount, purpose string, token money.Token, conditions escrow.Conditions, timeoutMinutes int) (*escrow.Escrow, error)
	SubmitDelivery(ctx context.Context, id, submitter string, data []byte, signature string) (*escrow.Escrow, error)
	Release(ctx context.Context, id, reason string) (*escrow.Escrow, error)
}
