package negotiation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
)

// MemoryStore is an in-memory negotiation store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	quotes map[string]*Quote
}

// NewMemoryStore creates a new in-memory negotiation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotes: make(map[string]*Quote)}
}

func (m *MemoryStore) Create(_ context.Context, q *Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.ID] = q
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "quote not found")
	}
	cp := *q
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, q *Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quotes[q.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "quote not found")
	}
	m.quotes[q.ID] = q
	return nil
}

func (m *MemoryStore) ListByParty(_ context.Context, partyID string, limit int) ([]*Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Quote
	for _, q := range m.quotes {
		if q.Requester == partyID || q.Provider == partyID {
			cp := *q
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timeline.Created.After(result[j].Timeline.Created)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListDueForExpiry(_ context.Context, before time.Time) ([]*Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Quote
	for _, q := range m.quotes {
		if q.Status.IsTerminal() {
			continue
		}
		if q.ExpiresAt != nil && !q.ExpiresAt.After(before) {
			cp := *q
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
