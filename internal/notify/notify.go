// Package notify implements the in-process notification channels design
// note: each engine broadcasts identifiers-only signals to observers (tests,
// monitors, the realtime hub) without those signals becoming wire events.
// Subscribe returns a cancel function; calling it unsubscribes and closes
// the subscriber's channel.
package notify

import "sync"

// Signal is one in-process notification. It carries only identifiers, never
// a full entity snapshot — wire events are the webhook engine's concern, not
// this one.
type Signal struct {
	Kind string // e.g. "webhookDelivered", "queueProcessingComplete", "escrow_locked"
	ID   string // the subscription id, event id, escrow id, etc.
}

// Bus is a broadcast channel for Signals. Multiple observers may subscribe;
// each gets its own buffered channel so a slow observer cannot block emit.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Signal]struct{}
}

// NewBus creates an empty signal bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Signal]struct{})}
}

// Subscribe returns a channel that receives every signal published after
// this call. Call the returned cancel function to stop receiving and close
// the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (ch <-chan Signal, cancel func()) {
	c := make(chan Signal, 32)
	b.mu.Lock()
	b.subs[c] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancelFn := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, c)
			b.mu.Unlock()
			close(c)
		})
	}
	return c, cancelFn
}

// Publish sends sig to every current subscriber. Subscribers that are full
// have the signal dropped for them rather than blocking the publisher — this
// is a best-effort observation surface, not a durable queue.
func (b *Bus) Publish(sig Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		select {
		case c <- sig:
		default:
		}
	}
}
