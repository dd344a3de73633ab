// Package tipping owns tip records attributed to a repository reference,
// driving each through the escrow state machine and emitting webhook
// events. It is a thin orchestrator above the Escrow Engine, specialized
// by a repository-reference data type.
package tipping

import (
	"context"
	"math/big"
	"time"

	"github.com/mbd888/agentbroker/internal/money"
)

// Status is the closed set of tip states.
type Status string

const (
	StatusPending       Status = "pending"
	StatusEscrowCreated Status = "escrow_created"
	StatusFunded        Status = "funded"
	StatusLocked        Status = "locked"
	StatusReleased      Status = "released"
	StatusCancelled     Status = "cancelled"
)

// IsTerminal reports whether s permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

// Settlement is the on-chain record attached on release.
type Settlement struct {
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	Gas         uint64    `json:"gas,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Timeline carries the transition instants named in spec §4.4.
type Timeline struct {
	Created       time.Time  `json:"created"`
	EscrowCreated *time.Time `json:"escrowCreated,omitempty"`
	Funded        *time.Time `json:"funded,omitempty"`
	Locked        *time.Time `json:"locked,omitempty"`
	Released      *time.Time `json:"released,omitempty"`
	Cancelled     *time.Time `json:"cancelled,omitempty"`
}

// Tip is the persistent record described in spec §4.4. State may only
// advance along the forward chain or terminate in cancelled from any
// pre-released state.
type Tip struct {
	ID         string      `json:"id"`
	RepoRef    string      `json:"repoRef"`
	Tipper     string      `json:"tipper"`
	Recipient  string      `json:"recipient"`
	Amount     *big.Int    `json:"-"`
	// AmountDisplay is Amount formatted for the persisted/wire representation.
	AmountDisplay string      `json:"amount"`
	Token         money.Token `json:"token"`
	Message       string      `json:"message,omitempty"`
	IssueURL      string      `json:"issueUrl,omitempty"`
	CommitRef     string      `json:"commitRef,omitempty"`

	EscrowID string `json:"escrowId,omitempty"`

	Settlement *Settlement `json:"settlement,omitempty"`

	CancelReason string `json:"cancelReason,omitempty"`

	Status   Status   `json:"status"`
	Timeline Timeline `json:"timeline"`
}

// Store persists the tip collection.
type Store interface {
	Create(ctx context.Context, t *Tip) error
	Get(ctx context.Context, id string) (*Tip, error)
	Update(ctx context.Context, t *Tip) error
	ListByRepo(ctx context.Context, repoRef string, limit int) ([]*Tip, error)
	ListByTipper(ctx context.Context, tipper string, limit int) ([]*Tip, error)
	// ListAll returns every tip, for aggregation queries.
	ListAll(ctx context.Context) ([]*Tip, error)
}

// Emitter is the subset of the webhook engine the tipping engine depends
// on, kept narrow so tipping never imports the webhooks package directly.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any) error
}

// EscrowFactory is the caller-supplied collaborator invoked by CreateEscrow
// to obtain a new escrow id for a tip, per spec §4.4 ("call the supplied
// factory with the tip record to obtain a new escrow id").
type EscrowFactory func(ctx context.Context, tip *Tip) (escrowID string, err error)

// BatchFilter narrows ProcessBatch's selection. Zero values mean "no
// filter" for that field.
type BatchFilter struct {
	RepoRef string
	Token   money.Token
}

func (f BatchFilter) matches(t *Tip) bool {
	if f.RepoRef != "" && t.RepoRef != f.RepoRef {
		return false
	}
	if f.Token != "" && t.Token != f.Token {
		return false
	}
	return true
}
