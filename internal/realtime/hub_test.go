package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventEscrowCreated, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventEscrowCreated, EventQuoteCreated},
	}}

	escrowEvent := &Event{Type: EventEscrowCreated}
	quoteEvent := &Event{Type: EventQuoteCreated}
	tipEvent := &Event{Type: EventTippingReceived}

	if !h.shouldSend(client, escrowEvent) {
		t.Error("Should receive escrow_created events")
	}
	if !h.shouldSend(client, quoteEvent) {
		t.Error("Should receive quote_created events")
	}
	if h.shouldSend(client, tipEvent) {
		t.Error("Should NOT receive tipping_received events")
	}
}

func TestShouldSend_AgentFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		AgentIDs: []string{"0xagent1"},
	}}

	matchingPayer := &Event{
		Type: EventEscrowCreated,
		Data: map[string]interface{}{"payer": "0xagent1", "payee": "0xother"},
	}
	notMatching := &Event{
		Type: EventEscrowCreated,
		Data: map[string]interface{}{"payer": "0xother", "payee": "0xanother"},
	}
	matchingPayee := &Event{
		Type: EventEscrowReleased,
		Data: map[string]interface{}{"payer": "0xsender", "payee": "0xagent1"},
	}
	matchingTipper := &Event{
		Type: EventTippingReceived,
		Data: map[string]interface{}{"tipper": "0xagent1", "recipient": "ghuser"},
	}

	if !h.shouldSend(client, matchingPayer) {
		t.Error("Should match on payer")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated agents")
	}
	if !h.shouldSend(client, matchingPayee) {
		t.Error("Should match on payee")
	}
	if !h.shouldSend(client, matchingTipper) {
		t.Error("Should match on tipper")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventEscrowCreated}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		AgentIDs: []string{"0xagent1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: EventWebhookDelivered,
		Data: "string data not a map",
	}

	// Agent filter skips non-map data (can't extract parties), so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-map data should pass through when agent filter can't extract parties")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventEscrowCreated, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventEscrowFunded,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"id": "esc_1", "amountDisplay": "5.00"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastEntity(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.BroadcastEntity(EventTippingReceived, map[string]interface{}{
		"id": "tip_1", "tipper": "0xa", "recipient": "ghuser", "amountDisplay": "1.00",
	})
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants quote creation events
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventQuoteCreated}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send an escrow event (should be filtered out)
	h.Broadcast(&Event{Type: EventEscrowCreated, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive escrow_created event")
	default:
		// Good - filtered out
	}

	// Send a quote_created event (should be received)
	h.Broadcast(&Event{Type: EventQuoteCreated, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive quote_created event")
	}
}
