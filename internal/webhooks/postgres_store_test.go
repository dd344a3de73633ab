package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/agentbroker/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestWebhooksPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	sub := &Subscription{
		ID:         "sub_test1",
		OwnerID:    "owner-1",
		URL:        "https://example.com/hook",
		Secret:     "s3cr3t",
		EventTypes: []EventType{EventEscrowCreated, EventEscrowReleased},
		Active:     true,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Create(ctx, sub))

	got, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, sub.OwnerID, got.OwnerID)
	require.ElementsMatch(t, sub.EventTypes, got.EventTypes)
	require.Zero(t, got.Successes)
	require.Nil(t, got.LastTriggeredAt)

	got.Successes = 3
	got.Failures = 1
	got.Retries = 2
	triggered := time.Now()
	got.LastTriggeredAt = &triggered
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, 3, updated.Successes)
	require.Equal(t, 1, updated.Failures)
	require.Equal(t, 2, updated.Retries)
	require.NotNil(t, updated.LastTriggeredAt)

	matching, err := store.ListActiveForEvent(ctx, EventEscrowCreated)
	require.NoError(t, err)
	require.Len(t, matching, 1)

	delivery := &Delivery{
		ID:             "dlv_test1",
		SubscriptionID: sub.ID,
		EventID:        "evt_test1",
		EventType:      EventEscrowCreated,
		EventTimestamp: time.Now(),
		Payload:        map[string]string{"escrowId": "esc_1"},
		Context:        map[string]string{"source": "integration-test"},
		Status:         DeliveryPending,
		NextAttemptAt:  time.Now(),
		CreatedAt:      time.Now(),
	}
	require.NoError(t, store.Enqueue(ctx, delivery))

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, map[string]any{"source": "integration-test"}, pending[0].Context)

	delivery.Status = DeliveryDelivered
	delivery.Attempt = 1
	now := time.Now()
	delivery.DeliveredAt = &now
	require.NoError(t, store.UpdateDelivery(ctx, delivery))

	remaining, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, remaining)

	event := &Event{
		ID:        "evt_test1",
		Type:      EventEscrowCreated,
		Data:      map[string]string{"escrowId": "esc_1"},
		Context:   map[string]string{"source": "integration-test"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Append(ctx, event))

	events, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, map[string]any{"source": "integration-test"}, events[0].Context)
}
