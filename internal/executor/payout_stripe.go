package executor

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/transfer"

	"github.com/mbd888/agentbroker/internal/money"
)

// StripeExecutor is a PaymentExecutor for tips settled over a fiat payout
// rail instead of on-chain: the executor contract (spec §6) is token-
// agnostic about how the transfer happens, so this is a legitimate second
// implementation of the same interface as ChainExecutor, selected per
// recipient rather than per token (a recipient identified by a Stripe
// connected-account id rather than an address routes here).
type StripeExecutor struct {
	secretKey string
}

// NewStripeExecutor configures a Stripe-backed executor with the given
// secret API key.
func NewStripeExecutor(secretKey string) *StripeExecutor {
	return &StripeExecutor{secretKey: secretKey}
}

// Execute implements PaymentExecutor by creating a Stripe transfer to the
// recipient's connected account for the requested amount. Stripe transfers
// have no block number; Result.BlockNumber is left zero.
func (s *StripeExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	stripe.Key = s.secretKey

	amount, ok := money.Parse(req.Amount, req.Token)
	if !ok {
		return Result{}, fmt.Errorf("executor: invalid amount %q for token %s", req.Amount, req.Token)
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount.Int64()),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(req.Recipient),
	}
	params.Context = ctx

	tr, err := transfer.New(params)
	if err != nil {
		return Result{}, fmt.Errorf("executor: stripe transfer: %w", err)
	}

	return Result{TxHash: tr.ID}, nil
}

var _ PaymentExecutor = (*StripeExecutor)(nil)
