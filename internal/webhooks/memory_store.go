package webhooks

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/agentbroker/internal/brokererr"
)

// MemoryStore implements SubscriptionStore, QueueStore, and EventLogStore
// entirely in memory. The server wires FileStore (or PostgresStore when a
// database is configured); MemoryStore serves tests and embedding callers.
// Its event log keeps every entry; it is not truncated.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	deliveries    map[string]*Delivery
	events        []*Event
}

// NewMemoryStore creates an empty in-memory webhook store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*Subscription),
		deliveries:    make(map[string]*Delivery),
	}
}

func copySubscription(s *Subscription) *Subscription {
	c := *s
	c.EventTypes = append([]EventType(nil), s.EventTypes...)
	return &c
}

func (m *MemoryStore) Create(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.ID] = copySubscription(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "subscription not found")
	}
	return copySubscription(s), nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[s.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "subscription not found")
	}
	m.subscriptions[s.ID] = copySubscription(s)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[id]; !ok {
		return brokererr.New(brokererr.NotFound, "subscription not found")
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.OwnerID == ownerID {
			out = append(out, copySubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListActiveForEvent(ctx context.Context, et EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.Wants(et) {
			out = append(out, copySubscription(s))
		}
	}
	return out, nil
}

func copyDelivery(d *Delivery) *Delivery {
	c := *d
	return &c
}

func (m *MemoryStore) Enqueue(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (m *MemoryStore) UpdateDelivery(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "delivery not found")
	}
	m.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.Status == DeliveryPending {
			out = append(out, copyDelivery(d))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Append(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tailEvents(m.events, limit), nil
}

func (m *MemoryStore) ListByType(ctx context.Context, et EventType, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var filtered []*Event
	for _, e := range m.events {
		if e.Type == et {
			filtered = append(filtered, e)
		}
	}
	return tailEvents(filtered, limit), nil
}

// tailEvents returns up to the most recent limit entries, newest first.
func tailEvents(events []*Event, limit int) []*Event {
	n := len(events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = events[n-1-i]
	}
	return out
}

var (
	_ SubscriptionStore = (*MemoryStore)(nil)
	_ QueueStore        = (*MemoryStore)(nil)
	_ EventLogStore     = (*MemoryStore)(nil)
)
