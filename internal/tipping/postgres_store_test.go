package tipping

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestTippingPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	amount, _ := money.Parse("15", money.PrimaryNative)
	tip := &Tip{
		ID:            "tip_test1",
		RepoRef:       "octocat/hello-world",
		Tipper:        "agent-a",
		Recipient:     "octocat",
		Amount:        amount,
		AmountDisplay: money.Format(amount, money.PrimaryNative),
		Token:         money.PrimaryNative,
		Status:        StatusPending,
		Timeline:      Timeline{Created: time.Now()},
	}
	require.NoError(t, store.Create(ctx, tip))

	got, err := store.Get(ctx, tip.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Nil(t, got.Settlement)

	now := time.Now()
	got.Status = StatusReleased
	got.EscrowID = "esc_1"
	got.Settlement = &Settlement{TxHash: "0xabc", BlockNumber: 42, Gas: 21000, Timestamp: now}
	got.Timeline.Released = &now
	require.NoError(t, store.Update(ctx, got))

	reloaded, err := store.Get(ctx, tip.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReleased, reloaded.Status)
	require.NotNil(t, reloaded.Settlement)
	require.Equal(t, "0xabc", reloaded.Settlement.TxHash)
	require.Equal(t, uint64(42), reloaded.Settlement.BlockNumber)

	byRepo, err := store.ListByRepo(ctx, "octocat/hello-world", 10)
	require.NoError(t, err)
	require.Len(t, byRepo, 1)

	byTipper, err := store.ListByTipper(ctx, "agent-a", 10)
	require.NoError(t, err)
	require.Len(t, byTipper, 1)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
