package escrow

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/snapshot"
)

// FileStore persists the escrow collection as a single pretty-printed JSON
// object snapshot (spec §6), rewritten after every successful mutation
// (spec §4.1's "snapshot-after-transition" failure semantics).
type FileStore struct {
	mu      sync.RWMutex
	path    string
	escrows map[string]*Escrow
}

// NewFileStore opens (or creates) a file-backed escrow store rooted at
// dir/escrows.json, rehydrating any existing snapshot.
func NewFileStore(dir string) (*FileStore, error) {
	fs := &FileStore{
		path:    filepath.Join(dir, "escrows.json"),
		escrows: make(map[string]*Escrow),
	}
	if err := snapshot.Load(fs.path, &fs.escrows); err != nil {
		return nil, err
	}
	if fs.escrows == nil {
		fs.escrows = make(map[string]*Escrow)
	}
	return fs, nil
}

func (f *FileStore) Create(ctx context.Context, e *Escrow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.escrows[e.ID] = &cp
	return snapshot.Save(f.path, f.escrows)
}

func (f *FileStore) Get(ctx context.Context, id string) (*Escrow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.escrows[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "escrow not found")
	}
	cp := *e
	return &cp, nil
}

func (f *FileStore) Update(ctx context.Context, e *Escrow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.escrows[e.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "escrow not found")
	}
	cp := *e
	f.escrows[e.ID] = &cp
	return snapshot.Save(f.path, f.escrows)
}

func (f *FileStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Escrow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var result []*Escrow
	for _, e := range f.escrows {
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

func (f *FileStore) ListDueForTimeout(ctx context.Context, before time.Time) ([]*Escrow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var result []*Escrow
	for _, e := range f.escrows {
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
