package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestNegotiationPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	amount, _ := money.Parse("25", money.PrimaryNative)
	q := &Quote{
		ID:            "qte_test1",
		Requester:     "A",
		Provider:      "B",
		Description:   "test",
		Amount:        amount,
		AmountDisplay: money.Format(amount, money.PrimaryNative),
		Token:         money.PrimaryNative,
		Status:        StatusPending,
		ExpiresAt:     &expires,
		Timeline:      Timeline{Created: time.Now()},
	}
	require.NoError(t, store.Create(ctx, q))

	got, err := store.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	got.Status = StatusCountered
	got.CounterAmountDisplay = "20"
	now := time.Now()
	got.Timeline.Countered = &now
	require.NoError(t, store.Update(ctx, got))

	reloaded, err := store.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCountered, reloaded.Status)
	require.Equal(t, "20", reloaded.CounterAmountDisplay)

	due, err := store.ListDueForExpiry(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
}
