// Package executor implements the optional payment executor collaborator
// (spec §6): a pluggable function invoked to perform the on-chain or
// off-chain transfer backing an escrow release or tip settlement. The core
// engines never import this package directly — they accept a narrow
// function type and treat its errors as non-fatal advisories, so a
// deployment without any configured executor still behaves correctly; the
// escrow or tip simply stays at its current state until a caller retries.
package executor

import (
	"context"

	"github.com/mbd888/agentbroker/internal/money"
)

// Kind names the settlement leg a Request asks an executor to perform.
type Kind string

const (
	// KindEscrowRelease pays out an escrow's payee on release.
	KindEscrowRelease Kind = "escrow_release"
	// KindTipSettlement pays out a tip's recipient on releaseTip.
	KindTipSettlement Kind = "tip_settlement"
)

// Request describes a single transfer for the executor to perform,
// matching the {kind, tipId?, escrowId, recipient, amount, token} shape
// named in spec §6.
type Request struct {
	Kind      Kind
	TipID     string // empty for an escrow-only release
	EscrowID  string
	Recipient string
	Amount    string
	Token     money.Token
}

// Result is the executor's report of a completed transfer.
type Result struct {
	TxHash      string
	BlockNumber uint64 // zero if not applicable (e.g. an off-chain rail)
}

// PaymentExecutor performs a single payout. Implementations must treat ctx
// cancellation as a hard abort; the core never calls Execute concurrently
// for the same EscrowID/TipID since it is invoked from within the owning
// engine's write-lock-released settlement path.
type PaymentExecutor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the PaymentExecutor interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Execute implements PaymentExecutor.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
