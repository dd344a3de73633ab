package tipping

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/agentbroker/internal/brokererr"
)

// MemoryStore is an in-memory tip store for demo/development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	tips map[string]*Tip
}

// NewMemoryStore creates a new in-memory tip store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tips: make(map[string]*Tip)}
}

func (m *MemoryStore) Create(_ context.Context, t *Tip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tips[t.ID] = t
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tips[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "tip not found")
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tips[t.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "tip not found")
	}
	m.tips[t.ID] = t
	return nil
}

func (m *MemoryStore) ListByRepo(_ context.Context, repoRef string, limit int) ([]*Tip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Tip
	for _, t := range m.tips {
		if t.RepoRef == repoRef {
			cp := *t
			result = append(result, &cp)
		}
	}
	sortTipsNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByTipper(_ context.Context, tipper string, limit int) ([]*Tip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Tip
	for _, t := range m.tips {
		if t.Tipper == tipper {
			cp := *t
			result = append(result, &cp)
		}
	}
	sortTipsNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]*Tip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Tip, 0, len(m.tips))
	for _, t := range m.tips {
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

func sortTipsNewestFirst(tips []*Tip) {
	sort.Slice(tips, func(i, j int) bool {
		return tips[i].Timeline.Created.After(tips[j].Timeline.Created)
	})
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
