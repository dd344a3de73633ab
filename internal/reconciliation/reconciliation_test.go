package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentbroker/internal/executor"
	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/tipping"
)

type stubEmitter struct{}

func (s *stubEmitter) Emit(_ context.Context, _ string, _ any) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTipService(t *testing.T) *tipping.Service {
	t.Helper()
	return tipping.NewService(tipping.NewMemoryStore(), &stubEmitter{})
}

func fundedTip(t *testing.T, svc *tipping.Service) *tipping.Tip {
	t.Helper()
	tip, err := svc.CreateTip(context.Background(), tipping.CreateTipRequest{
		RepoRef:   "acme/widgets",
		Tipper:    "0xA",
		Recipient: "ghuser",
		Amount:    "5.00",
		Token:     money.ERC20Stable,
	})
	require.NoError(t, err)
	tip, err = svc.CreateEscrow(context.Background(), tip.ID, func(context.Context, *tipping.Tip) (string, error) {
		return "esc_1", nil
	})
	require.NoError(t, err)
	tip, err = svc.FundEscrow(context.Background(), tip.ID, "0xfundhash")
	require.NoError(t, err)
	return tip
}

func TestRunBatch_SettlesFundedTip(t *testing.T) {
	tips := newTestTipService(t)
	tip := fundedTip(t, tips)

	var executed executor.Request
	payouts := executor.Func(func(_ context.Context, req executor.Request) (executor.Result, error) {
		executed = req
		return executor.Result{TxHash: "0xsettled", BlockNumber: 42}, nil
	})

	svc := NewService(tips, payouts, testLogger())
	result, err := svc.RunBatch(context.Background(), tipping.BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Considered)
	assert.Equal(t, 1, result.Settled)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, tip.ID, executed.TipID)
	assert.Equal(t, "ghuser", executed.Recipient)

	settled, err := tips.Get(context.Background(), tip.ID)
	require.NoError(t, err)
	assert.Equal(t, tipping.StatusReleased, settled.Status)
	assert.Equal(t, "0xsettled", settled.Settlement.TxHash)
}

func TestRunBatch_ContinuesPastExecutorError(t *testing.T) {
	tips := newTestTipService(t)
	fundedTip(t, tips)

	payouts := executor.Func(func(context.Context, executor.Request) (executor.Result, error) {
		return executor.Result{}, errors.New("rpc unavailable")
	})

	svc := NewService(tips, payouts, testLogger())
	result, err := svc.RunBatch(context.Background(), tipping.BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Considered)
	assert.Equal(t, 0, result.Settled)
	assert.Equal(t, 1, result.Failed)
}

func TestRunBatch_EmptyBatch(t *testing.T) {
	tips := newTestTipService(t)
	payouts := executor.Func(func(context.Context, executor.Request) (executor.Result, error) {
		t.Fatal("executor should not be called with no eligible tips")
		return executor.Result{}, nil
	})

	svc := NewService(tips, payouts, testLogger())
	result, err := svc.RunBatch(context.Background(), tipping.BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Considered)
	assert.Equal(t, 0, result.Settled)
}

func TestRunBatch_FiltersToMatchingRepo(t *testing.T) {
	tips := newTestTipService(t)
	fundedTip(t, tips)

	payouts := executor.Func(func(context.Context, executor.Request) (executor.Result, error) {
		t.Fatal("executor should not run for a non-matching repo filter")
		return executor.Result{}, nil
	})

	svc := NewService(tips, payouts, testLogger())
	result, err := svc.RunBatch(context.Background(), tipping.BatchFilter{RepoRef: "someone-else/unrelated"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Considered)
}
