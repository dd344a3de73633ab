package escrow

import (
	"context"
	"testing"
	"time"

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
	svc := NewService(NewMemoryStore(), emitter)
	return svc, emitter
}

// S1. Happy-path escrow (spec §8 S1).
func TestHappyPathEscrow(t *testing.T) {
	svc, emitter := newTestService()
	ctx := context.Background()

	e, err := svc.Create(ctx, "A", "B", "500", "x", money.PrimaryNative, Conditions{
		RequiresApproval: true,
		RequiresDelivery: true,
	}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.Status)

	e, err = svc.Fund(ctx, e.ID, "0xFUND")
	require.NoError(t, err)
	require.Equal(t, StatusFunded, e.Status)

	_, err = svc.Approve(ctx, e.ID, "A")
	require.NoError(t, err)
	e, err = svc.Approve(ctx, e.ID, "B")
	require.NoError(t, err)
	require.Equal(t, StatusLocked, e.Status)

	e, err = svc.SubmitDelivery(ctx, e.ID, "B", []byte("ok"), "")
	require.NoError(t, err)
	require.Equal(t, StatusLocked, e.Status)
	require.NotNil(t, e.Proof)

	e, err = svc.Release(ctx, e.ID, "done")
	require.NoError(t, err)
	require.Equal(t, StatusReleased, e.Status)

	require.Equal(t, []string{
		EventEscrowCreated,
		EventEscrowFunded,
		EventEscrowLocked,
		EventEscrowReleased,
	}, emitter.events)
}

// S2. Timeout refund (spec §8 S2).
func TestTimeoutRefund(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	e, err := svc.Create(ctx, "A", "B", "10", "x", money.PrimaryNative, Conditions{}, 1)
	require.NoError(t, err)
	e, err = svc.Fund(ctx, e.ID, "0xFUND")
	require.NoError(t, err)
	require.Equal(t, StatusLocked, e.Status) // requires-approval=false auto-locks

	// simulate time passing past the 1-minute timeout
	mem := svc.store.(*MemoryStore)
	mem.mu.Lock()
	past := time.Now().Add(-time.Minute)
	mem.escrows[e.ID].TimeoutAt = &past
	mem.mu.Unlock()

	refunded, err := svc.ProcessTimeouts(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{e.ID}, refunded)

	e, err = svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, e.Status)
	require.Equal(t, "automatic timeout", e.ReleaseReason)

	// idempotent: re-running produces nothing further
	refunded, err = svc.ProcessTimeouts(ctx)
	require.NoError(t, err)
	require.Empty(t, refunded)
}

func TestReleaseWithoutDeliveryProofFails(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	e, err := svc.Create(ctx, "A", "B", "10", "x", money.PrimaryNative, Conditions{RequiresDelivery: true}, 0)
	require.NoError(t, err)
	e, err = svc.Fund(ctx, e.ID, "0xHASH")
	require.NoError(t, err)
	require.Equal(t, StatusLocked, e.Status)

	_, err = svc.Release(ctx, e.ID, "too early")
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.PreconditionViolated))
}

func TestTerminalTransitionIsIdempotentlyRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	e, err := svc.Create(ctx, "A", "B", "10", "x", money.PrimaryNative, Conditions{}, 0)
	require.NoError(t, err)
	e, err = svc.Fund(ctx, e.ID, "0xHASH")
	require.NoError(t, err)
	e, err = svc.Release(ctx, e.ID, "done")
	require.NoError(t, err)
	require.Equal(t, StatusReleased, e.Status)

	_, err = svc.Release(ctx, e.ID, "done again")
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.PreconditionViolated))
}

func TestNonPositiveAmountRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "A", "B", "0", "x", money.PrimaryNative, Conditions{}, 0)
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.InvalidInput))
}
