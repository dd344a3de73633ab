package tipping

import (
	"context"
	"testing"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/money"
	"github.com/stretchr/testify/require"
)

type stubEmitter struct {
	events []string
}

func (s *stubEmitter) Emit(ctx context.Context, eventType string, data any) error {
	s.events = append(s.events, eventType)
	return nil
}

func newTestService() (*Service, *stubEmitter) {
	emitter := &stubEmitter{}
	return NewService(NewMemoryStore(), emitter), emitter
}

func fakeFactory(escrowID string) EscrowFactory {
	return func(ctx context.Context, t *Tip) (string, error) {
		return escrowID, nil
	}
}

func baseRequest() CreateTipRequest {
	return CreateTipRequest{
		RepoRef:   "octocat/hello-world",
		Tipper:    "agent-a",
		Recipient: "octocat",
		Amount:    "10",
		Token:     money.PrimaryNative,
	}
}

// TestFullTipLifecycle exercises createTip -> createEscrow -> fundEscrow ->
// lockEscrow -> releaseTip end to end, then checks global stats reflect it.
func TestFullTipLifecycle(t *testing.T) {
	svc, emitter := newTestService()
	ctx := context.Background()

	tip, err := svc.CreateTip(ctx, baseRequest())
	require.NoError(t, err)
	require.Equal(t, StatusPending, tip.Status)

	tip, err = svc.CreateEscrow(ctx, tip.ID, fakeFactory("esc_1"))
	require.NoError(t, err)
	require.Equal(t, StatusEscrowCreated, tip.Status)
	require.Equal(t, "esc_1", tip.EscrowID)

	tip, err = svc.FundEscrow(ctx, tip.ID, "0xfundhash")
	require.NoError(t, err)
	require.Equal(t, StatusFunded, tip.Status)

	tip, err = svc.LockEscrow(ctx, tip.ID)
	require.NoError(t, err)
	require.Equal(t, StatusLocked, tip.Status)

	tip, err = svc.ReleaseTip(ctx, tip.ID, "0xreleasehash", 12345, 21000)
	require.NoError(t, err)
	require.Equal(t, StatusReleased, tip.Status)
	require.NotNil(t, tip.Settlement)
	require.Equal(t, "0xreleasehash", tip.Settlement.TxHash)
	require.Equal(t, uint64(12345), tip.Settlement.BlockNumber)

	require.Equal(t, []string{EventTippingReceived, EventPaymentSettled}, emitter.events)

	global, err := svc.GlobalStats(ctx)
	require.NoError(t, err)
	require.Len(t, global.TopRepos, 1)
	require.Equal(t, "octocat/hello-world", global.TopRepos[0].RepoRef)
	require.Equal(t, "10.000000000000000000", global.TopRepos[0].SumDisplay)

	repoStats, err := svc.RepoStats(ctx, "octocat/hello-world")
	require.NoError(t, err)
	require.Equal(t, 1, repoStats.Count)
	require.Equal(t, 1, repoStats.CountByStatus[string(StatusReleased)])
}

func TestCreateTipRejectsInvalidRepoRef(t *testing.T) {
	svc, _ := newTestService()
	req := baseRequest()
	req.RepoRef = "not_a_valid_ref"

	_, err := svc.CreateTip(context.Background(), req)
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.InvalidInput))
}

func TestCreateTipRejectsInvalidRecipient(t *testing.T) {
	svc, _ := newTestService()
	req := baseRequest()
	req.Recipient = "not valid!!"

	_, err := svc.CreateTip(context.Background(), req)
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.InvalidInput))
}

func TestCreateTipAcceptsEthAddressRecipient(t *testing.T) {
	svc, _ := newTestService()
	req := baseRequest()
	req.Recipient = "0x1234567890123456789012345678901234567890"

	tip, err := svc.CreateTip(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, req.Recipient, tip.Recipient)
}

func TestCreateTipRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService()
	req := baseRequest()
	req.Amount = "0"

	_, err := svc.CreateTip(context.Background(), req)
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.InvalidInput))
}

func TestCreateEscrowRejectsWrongState(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tip, err := svc.CreateTip(ctx, baseRequest())
	require.NoError(t, err)

	_, err = svc.CreateEscrow(ctx, tip.ID, fakeFactory("esc_1"))
	require.NoError(t, err)

	_, err = svc.CreateEscrow(ctx, tip.ID, fakeFactory("esc_2"))
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.PreconditionViolated))
}

func TestCancelTipFromPendingState(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tip, err := svc.CreateTip(ctx, baseRequest())
	require.NoError(t, err)

	tip, err = svc.CancelTip(ctx, tip.ID, "tipper changed their mind")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, tip.Status)
	require.Equal(t, "tipper changed their mind", tip.CancelReason)
}

func TestCancelTipRejectsAlreadyTerminal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tip, err := svc.CreateTip(ctx, baseRequest())
	require.NoError(t, err)

	_, err = svc.CancelTip(ctx, tip.ID, "first cancel")
	require.NoError(t, err)

	_, err = svc.CancelTip(ctx, tip.ID, "second cancel")
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.PreconditionViolated))
}

func TestProcessBatchFiltersToFundedAndLocked(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	pending, err := svc.CreateTip(ctx, baseRequest())
	require.NoError(t, err)

	funded, err := svc.CreateTip(ctx, baseRequest())
	require.NoError(t, err)
	funded, err = svc.CreateEscrow(ctx, funded.ID, fakeFactory("esc_f"))
	require.NoError(t, err)
	funded, err = svc.FundEscrow(ctx, funded.ID, "0xf")
	require.NoError(t, err)

	locked, err := svc.CreateTip(ctx, baseRequest())
	require.NoError(t, err)
	locked, err = svc.CreateEscrow(ctx, locked.ID, fakeFactory("esc_l"))
	require.NoError(t, err)
	locked, err = svc.FundEscrow(ctx, locked.ID, "0xl")
	require.NoError(t, err)
	locked, err = svc.LockEscrow(ctx, locked.ID)
	require.NoError(t, err)

	tips, sum, err := svc.ProcessBatch(ctx, BatchFilter{})
	require.NoError(t, err)
	require.Len(t, tips, 2)
	require.Equal(t, "20000000000000000000", sum.String())

	ids := []string{tips[0].ID, tips[1].ID}
	require.NotContains(t, ids, pending.ID)
	require.Contains(t, ids, funded.ID)
	require.Contains(t, ids, locked.ID)
}

func TestProcessBatchAppliesRepoAndTokenFilter(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	reqA := baseRequest()
	tipA, err := svc.CreateTip(ctx, reqA)
	require.NoError(t, err)
	tipA, err = svc.CreateEscrow(ctx, tipA.ID, fakeFactory("esc_a"))
	require.NoError(t, err)
	tipA, err = svc.FundEscrow(ctx, tipA.ID, "0xa")
	require.NoError(t, err)

	reqB := baseRequest()
	reqB.RepoRef = "other/repo"
	tipB, err := svc.CreateTip(ctx, reqB)
	require.NoError(t, err)
	tipB, err = svc.CreateEscrow(ctx, tipB.ID, fakeFactory("esc_b"))
	require.NoError(t, err)
	tipB, err = svc.FundEscrow(ctx, tipB.ID, "0xb")
	require.NoError(t, err)

	tips, sum, err := svc.ProcessBatch(ctx, BatchFilter{RepoRef: "octocat/hello-world"})
	require.NoError(t, err)
	require.Len(t, tips, 1)
	require.Equal(t, tipA.ID, tips[0].ID)
	require.Equal(t, "10000000000000000000", sum.String())
	_ = tipB
}
