// Package reconciliation drives the Tipping Engine's nightly settlement
// batch: pull the funded/locked tips matching a filter, move funded ones
// to locked, execute each payout through a PaymentExecutor, and release
// the tip once the payout clears.
package reconciliation

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/mbd888/agentbroker/internal/executor"
	"github.com/mbd888/agentbroker/internal/tipping"
)

// BatchResult summarizes one settlement run.
type BatchResult struct {
	Filter     tipping.BatchFilter `json:"filter"`
	Considered int                 `json:"considered"`
	Settled    int                 `json:"settled"`
	Failed     int                 `json:"failed"`
	TotalSum   *big.Int            `json:"-"`
}

// Service performs nightly tip settlement.
type Service struct {
	tips    *tipping.Service
	payouts executor.PaymentExecutor
	logger  *slog.Logger
}

// NewService creates a reconciliation service over the Tipping Engine and
// a payment executor.
func NewService(tips *tipping.Service, payouts executor.PaymentExecutor, logger *slog.Logger) *Service {
	return &Service{tips: tips, payouts: payouts, logger: logger}
}

// RunBatch pulls the funded/locked tips matching filter and settles each:
// funded tips are locked first, then every tip in the batch is paid out
// and released. A failure on one tip does not stop the others.
func (s *Service) RunBatch(ctx context.Context, filter tipping.BatchFilter) (*BatchResult, error) {
	batch, sum, err := s.tips.ProcessBatch(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Filter: filter, Considered: len(batch), TotalSum: sum}

	for _, tip := range batch {
		if err := s.settleOne(ctx, tip); err != nil {
			result.Failed++
			s.logger.Warn("tip settlement failed", "tip", tip.ID, "error", err)
			reconcileSettlementErrors.Inc()
			continue
		}
		result.Settled++
	}

	reconcileTipsSettled.Add(float64(result.Settled))
	return result, nil
}

func (s *Service) settleOne(ctx context.Context, tip *tipping.Tip) error {
	if tip.Status == tipping.StatusFunded {
		locked, err := s.tips.LockEscrow(ctx, tip.ID)
		if err != nil {
			return err
		}
		tip = locked
	}

	res, err := s.payouts.Execute(ctx, executor.Request{
		Kind:      executor.KindTipSettlement,
		TipID:     tip.ID,
		EscrowID:  tip.EscrowID,
		Recipient: tip.Recipient,
		Amount:    tip.AmountDisplay,
		Token:     tip.Token,
	})
	if err != nil {
		return err
	}

	_, err = s.tips.ReleaseTip(ctx, tip.ID, res.TxHash, res.BlockNumber, 0)
	return err
}
