package escrow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
)

// MemoryStore is an in-memory escrow store, useful for tests and
// single-process development without a snapshot directory configured.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow
}

// NewMemoryStore creates an empty in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[string]*Escrow)}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.escrows[e.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "escrow not found")
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "escrow not found")
	}
	cp := *e
	m.escrows[e.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Escrow
	for _, e := range m.escrows {
		if e.Payer == partyID || e.Payee == partyID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timeline.Created.After(result[j].Timeline.Created)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListDueForTimeout(ctx context.Context, before time.Time) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Escrow
	for _, e := range m.escrows {
		if e.Status != StatusFunded && e.Status != StatusLocked {
			continue
		}
		if e.TimeoutAt != nil && !e.TimeoutAt.After(before) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}
