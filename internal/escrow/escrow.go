// Package escrow owns the escrow state machine: creation, funding,
// approval, delivery proof, release, refund, dispute, and timeout handling.
package escrow

import (
	"context"
	"math/big"
	"time"

	"github.com/mbd888/agentbroker/internal/money"
)

// Status is the closed set of escrow states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFunded    Status = "funded"
	StatusLocked    Status = "locked"
	StatusReleased  Status = "released"
	StatusRefunded  Status = "refunded"
	StatusDisputed  Status = "disputed"
)

// IsTerminal reports whether s permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Conditions are the flags that gate which transitions an escrow requires.
type Conditions struct {
	RequiresApproval          bool `json:"requiresApproval"`
	RequiresDelivery          bool `json:"requiresDelivery"`
	RequiresArbiter           bool `json:"requiresArbiter"`
	RequiresClientConfirmation bool `json:"requiresClientConfirmation"`
}

// DeliveryProof is the optional proof-of-delivery record.
type DeliveryProof struct {
	Submitter string    `json:"submitter"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
	Signature string    `json:"signature,omitempty"`
}

// DisputeRecord is the optional dispute record.
type DisputeRecord struct {
	Disputer  string    `json:"disputer"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	ArbiterID string    `json:"arbiterId,omitempty"`
}

// Timeline carries the transition instants named in spec §3. A terminal
// escrow has exactly one of Released/Refunded set, and it is >= every
// earlier instant.
type Timeline struct {
	Created  time.Time  `json:"created"`
	Funded   *time.Time `json:"funded,omitempty"`
	Locked   *time.Time `json:"locked,omitempty"`
	Released *time.Time `json:"released,omitempty"`
	Refunded *time.Time `json:"refunded,omitempty"`
	Disputed *time.Time `json:"disputed,omitempty"`
}

// Escrow is the persistent record described in spec §3. Once created it is
// never destroyed; all mutation is through Service's transition operations.
type Escrow struct {
	ID      string      `json:"id"`
	Payer   string      `json:"payer"`
	Payee   string      `json:"payee"`
	Amount  *big.Int    `json:"-"`
	// AmountDisplay is Amount formatted for the persisted/wire representation.
	AmountDisplay string      `json:"amount"`
	Token         money.Token `json:"token"`
	Purpose       string      `json:"purpose"`
	Conditions    Conditions  `json:"conditions"`

	TimeoutAt *time.Time `json:"timeoutAt,omitempty"`

	Approvals []string `json:"approvals"`

	Proof    *DeliveryProof `json:"proof,omitempty"`
	Dispute  *DisputeRecord `json:"dispute,omitempty"`

	SettlementHash string `json:"settlementHash,omitempty"`
	ReleaseReason  string `json:"releaseReason,omitempty"`

	Status   Status   `json:"status"`
	Timeline Timeline `json:"timeline"`
}

// HasApproved reports whether id has already approved this escrow.
func (e *Escrow) HasApproved(id string) bool {
	for _, a := range e.Approvals {
		if a == id {
			return true
		}
	}
	return false
}

// FullyApproved reports whether both payer and payee have approved.
func (e *Escrow) FullyApproved() bool {
	return e.HasApproved(e.Payer) && e.HasApproved(e.Payee)
}

// Store persists the escrow collection. Implementations must serialize
// writes to the same record (spec §5: per-entity mutual exclusion is the
// Service's job, not the Store's, but Store.Update must still be atomic
// with respect to a single record).
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	ListByParty(ctx context.Context, partyID string, limit int) ([]*Escrow, error)
	// ListDueForTimeout returns escrows in {funded, locked} whose TimeoutAt
	// is <= before.
	ListDueForTimeout(ctx context.Context, before time.Time) ([]*Escrow, error)
}

// Emitter is the subset of the webhook engine the escrow engine depends on.
// Kept as a narrow interface so escrow never imports the webhooks package
// directly, matching spec §5's lock-ordering rule (emit must never run
// while holding the escrow engine's write lock — Service only calls Emit
// after releasing it).
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any) error
}
