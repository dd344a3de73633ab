package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	timeout := time.Now().Add(time.Hour)
	amount, _ := money.Parse("12.5", money.ERC20Stable)
	e := &Escrow{
		ID:            "esc_test1",
		Payer:         "A",
		Payee:         "B",
		Amount:        amount,
		AmountDisplay: money.Format(amount, money.ERC20Stable),
		Token:         money.ERC20Stable,
		Purpose:       "test",
		Conditions:    Conditions{RequiresApproval: true, RequiresDelivery: true},
		TimeoutAt:     &timeout,
		Status:        StatusPending,
		Timeline:      Timeline{Created: time.Now()},
	}
	require.NoError(t, store.Create(ctx, e))

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, e.Payer, got.Payer)
	require.Equal(t, e.AmountDisplay, got.AmountDisplay)
	require.Equal(t, StatusPending, got.Status)

	got.Status = StatusFunded
	now := time.Now()
	got.Timeline.Funded = &now
	require.NoError(t, store.Update(ctx, got))

	reloaded, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFunded, reloaded.Status)
	require.NotNil(t, reloaded.Timeline.Funded)

	due, err := store.ListDueForTimeout(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
}
