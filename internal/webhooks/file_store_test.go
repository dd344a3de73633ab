package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRehydratesAfterRestart(t *testing.T) {
	dir := t.TempDir()
	logPath := dir + "/events.log"
	ctx := context.Background()

	store, err := NewFileStore(dir, logPath, 100)
	require.NoError(t, err)

	sub := &Subscription{
		ID:         "sub_1",
		OwnerID:    "owner-1",
		URL:        "https://example.com/hook",
		Secret:     "s3cr3t",
		EventTypes: []EventType{EventEscrowCreated},
		Active:     true,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Create(ctx, sub))

	delivery := &Delivery{
		ID:             "dlv_1",
		SubscriptionID: sub.ID,
		EventID:        "evt_1",
		EventType:      EventEscrowCreated,
		Payload:        map[string]string{"escrowId": "esc_1"},
		Status:         DeliveryPending,
		NextAttemptAt:  time.Now(),
		CreatedAt:      time.Now(),
	}
	require.NoError(t, store.Enqueue(ctx, delivery))

	event := &Event{ID: "evt_1", Type: EventEscrowCreated, Data: map[string]string{"escrowId": "esc_1"}, CreatedAt: time.Now()}
	require.NoError(t, store.Append(ctx, event))

	// Simulate a restart: open a fresh FileStore over the same files.
	reloaded, err := NewFileStore(dir, logPath, 100)
	require.NoError(t, err)

	gotSub, err := reloaded.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, sub.OwnerID, gotSub.OwnerID)

	pending, err := reloaded.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, delivery.ID, pending[0].ID)

	events, err := reloaded.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, event.ID, events[0].ID)
}

func TestFileStoreEventLogTruncatesFromHead(t *testing.T) {
	dir := t.TempDir()
	logPath := dir + "/events.log"
	ctx := context.Background()

	store, err := NewFileStore(dir, logPath, 3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, &Event{
			ID:        idFor(i),
			Type:      EventEscrowCreated,
			CreatedAt: time.Now(),
		}))
	}

	events, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first; the oldest two entries (evt_0, evt_1) were truncated.
	require.Equal(t, "evt_4", events[0].ID)
	require.Equal(t, "evt_2", events[2].ID)
}

func idFor(i int) string {
	digits := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	return "evt_" + digits[i]
}
