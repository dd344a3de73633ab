package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/escrow"
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

// stubEscrows is a minimal EscrowOpener backed by a real escrow.Service, so
// negotiation acceptance exercises the actual composed state machine rather
// than a hand-rolled fake.
type stubEscrows struct {
	svc *escrow.Service
}

func (s *stubEscrows) Create(ctx context.Context, payer, payee, amount, purpose string, token money.Token, conditions escrow.Conditions, timeoutMinutes int) (*escrow.Escrow, error) {
	return s.svc.Create(ctx, payer, payee, amount, purpose, token, conditions, timeoutMinutes)
}

func (s *stubEscrows) SubmitDelivery(ctx context.Context, id, submitter string, data []byte, signature string) (*escrow.Escrow, error) {
	return s.svc.SubmitDelivery(ctx, id, submitter, data, signature)
}

func (s *stubEscrows) Release(ctx context.Context, id, reason string) (*escrow.Escrow, error) {
	return s.svc.Release(ctx, id, reason)
}

func newTestService() (*Service, *escrow.Service, *stubEmitter) {
	escrowSvc := escrow.NewService(escrow.NewMemoryStore(), &stubEmitter{})
	emitter := &stubEmitter{}
	svc := NewService(NewMemoryStore(), &stubEscrows{svc: escrowSvc}, emitter)
	return svc, escrowSvc, emitter
}

func TestQuoteAcceptOpensEscrow(t *testing.T) {
	svc, _, emitter := newTestService()
	ctx := context.Background()

	q, err := svc.CreateQuote(ctx, "requester", "provider", "100", "do the thing", money.PrimaryNative, time.Hour)
	require.NoError(t, err)
	require.Equal(t, StatusPending, q.Status)

	q, err = svc.Accept(ctx, q.ID, "provider", escrow.Conditions{}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, q.Status)
	require.NotEmpty(t, q.EscrowID)

	require.Equal(t, []string{EventQuoteCreated, EventQuoteAccepted}, emitter.events)
}

func TestQuoteCounterThenAcceptCounter(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	q, err := svc.CreateQuote(ctx, "requester", "provider", "100", "x", money.PrimaryNative, time.Hour)
	require.NoError(t, err)

	q, err = svc.CounterOffer(ctx, q.ID, "provider", "80", "final offer")
	require.NoError(t, err)
	require.Equal(t, StatusCountered, q.Status)
	require.Equal(t, "80.000000000000000000", q.CounterAmountDisplay)

	q, err = svc.AcceptCounter(ctx, q.ID, "requester", escrow.Conditions{}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, q.Status)
	require.NotEmpty(t, q.EscrowID)
}

func TestQuoteRejectByNonParty(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	q, err := svc.CreateQuote(ctx, "requester", "provider", "100", "x", money.PrimaryNative, time.Hour)
	require.NoError(t, err)

	_, err = svc.Reject(ctx, q.ID, "stranger")
	require.Error(t, err)
	require.True(t, brokererr.Is(err, brokererr.Unauthorized))
}

func TestQuoteExpirySweepIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	q, err := svc.CreateQuote(ctx, "requester", "provider", "100", "x", money.PrimaryNative, time.Minute)
	require.NoError(t, err)

	mem := svc.store.(*MemoryStore)
	mem.mu.Lock()
	past := time.Now().Add(-time.Minute)
	mem.quotes[q.ID].ExpiresAt = &past
	mem.mu.Unlock()

	expired, err := svc.ProcessExpirations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{q.ID}, expired)

	q, err = svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, q.Status)

	expired, err = svc.ProcessExpirations(ctx)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestFullDeliveryFlow(t *testing.T) {
	svc, escrowSvc, _ := newTestService()
	ctx := context.Background()

	q, err := svc.CreateQuote(ctx, "requester", "provider", "50", "x", money.PrimaryNative, time.Hour)
	require.NoError(t, err)

	q, err = svc.Accept(ctx, q.ID, "provider", escrow.Conditions{RequiresDelivery: true}, 0)
	require.NoError(t, err)

	// funding clears out-of-band (on-chain transfer confirmation), then the
	// escrow auto-locks since RequiresApproval is unset.
	_, err = escrowSvc.Fund(ctx, q.EscrowID, "0xhash")
	require.NoError(t, err)

	q, err = svc.MarkDelivered(ctx, q.ID, "provider", []byte("done"), "")
	require.NoError(t, err)
	require.NotNil(t, q.Timeline.Delivered)

	q, err = svc.ConfirmDelivery(ctx, q.ID, "requester", "looks good")
	require.NoError(t, err)
	require.NotNil(t, q.Timeline.Confirmed)
}
