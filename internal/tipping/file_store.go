package tipping

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/snapshot"
)

// FileStore persists the tip collection as a single pretty-printed JSON
// snapshot, rewritten after every successful mutation.
type FileStore struct {
	mu   sync.RWMutex
	path string
	tips map[string]*Tip
}

// NewFileStore opens (or creates) a file-backed tip store rooted at
// dir/tips.json, rehydrating any existing snapshot.
func NewFileStore(dir string) (*FileStore, error) {
	fs := &FileStore{
		path: filepath.Join(dir, "tips.json"),
		tips: make(map[string]*Tip),
	}
	if err := snapshot.Load(fs.path, &fs.tips); err != nil {
		return nil, err
	}
	if fs.tips == nil {
		fs.tips = make(map[string]*Tip)
	}
	return fs, nil
}

func (f *FileStore) Create(_ context.Context, t *Tip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tips[t.ID] = &cp
	return snapshot.Save(f.path, f.tips)
}

func (f *FileStore) Get(_ context.Context, id string) (*Tip, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tips[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "tip not found")
	}
	cp := *t
	return &cp, nil
}

func (f *FileStore) Update(_ context.Context, t *Tip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tips[t.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "tip not found")
	}
	cp := *t
	f.tips[t.ID] = &cp
	return snapshot.Save(f.path, f.tips)
}

func (f *FileStore) ListByRepo(_ context.Context, repoRef string, limit int) ([]*Tip, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var result []*Tip
	for _, t := range f.tips {
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

func (f *FileStore) ListByTipper(_ context.Context, tipper string, limit int) ([]*Tip, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var result []*Tip
	for _, t := range f.tips {
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

func (f *FileStore) ListAll(_ context.Context) ([]*Tip, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := make([]*Tip, 0, len(f.tips))
	for _, t := range f.tips {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ Store = (*FileStore)(nil)
