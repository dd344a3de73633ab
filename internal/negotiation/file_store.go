package negotiation

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/snapshot"
)

// FileStore persists the quote collection as a single pretty-printed JSON
// snapshot, rewritten after every successful mutation.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	quotes map[string]*Quote
}

// NewFileStore opens (or creates) a file-backed quote store rooted at
// dir/quotes.json, rehydrating any existing snapshot.
func NewFileStore(dir string) (*FileStore, error) {
	fs := &FileStore{
		path:   filepath.Join(dir, "quotes.json"),
		quotes: make(map[string]*Quote),
	}
	if err := snapshot.Load(fs.path, &fs.quotes); err != nil {
		return nil, err
	}
	if fs.quotes == nil {
		fs.quotes = make(map[string]*Quote)
	}
	return fs, nil
}

func (f *FileStore) Create(ctx context.Context, q *Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *q
	f.quotes[q.ID] = &cp
	return snapshot.Save(f.path, f.quotes)
}

func (f *FileStore) Get(ctx context.Context, id string) (*Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "quote not found")
	}
	cp := *q
	return &cp, nil
}

func (f *FileStore) Update(ctx context.Context, q *Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.quotes[q.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "quote not found")
	}
	cp := *q
	f.quotes[q.ID] = &cp
	return snapshot.Save(f.path, f.quotes)
}

func (f *FileStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var result []*Quote
	for _, q := range f.quotes {
		if q.Requester == partyID || q.Provider == partyID {
			cp := *q
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

func (f *FileStore) ListDueForExpiry(ctx context.Context, before time.Time) ([]*Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var result []*Quote
	for _, q := range f.quotes {
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

var _ Store = (*FileStore)(nil)
