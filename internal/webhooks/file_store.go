package webhooks

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/snapshot"
)

// FileStore persists subscriptions and the delivery queue as whole-file
// JSON snapshots (spec §6), and the event log as a true append-only
// JSON-lines file at eventLogPath, truncated from the head once it
// exceeds maxLogEntries.
type FileStore struct {
	mu            sync.RWMutex
	subsPath      string
	queuePath     string
	eventLogPath  string
	maxLogEntries int

	subscriptions map[string]*Subscription
	deliveries    map[string]*Delivery
	events        []*Event
}

// NewFileStore opens (or creates) file-backed webhook stores rooted at
// dir, plus an append-only event log at eventLogPath, rehydrating any
// existing snapshots.
func NewFileStore(dir, eventLogPath string, maxLogEntries int) (*FileStore, error) {
	f := &FileStore{
		subsPath:      filepath.Join(dir, "webhook_subscriptions.json"),
		queuePath:     filepath.Join(dir, "webhook_deliveries.json"),
		eventLogPath:  eventLogPath,
		maxLogEntries: maxLogEntries,
		subscriptions: make(map[string]*Subscription),
		deliveries:    make(map[string]*Delivery),
	}
	if err := snapshot.Load(f.subsPath, &f.subscriptions); err != nil {
		return nil, err
	}
	if f.subscriptions == nil {
		f.subscriptions = make(map[string]*Subscription)
	}
	if err := snapshot.Load(f.queuePath, &f.deliveries); err != nil {
		return nil, err
	}
	if f.deliveries == nil {
		f.deliveries = make(map[string]*Delivery)
	}
	if err := f.loadEventLog(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileStore) loadEventLog() error {
	if f.eventLogPath == "" {
		return nil
	}
	file, err := os.Open(f.eventLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		ev := e
		f.events = append(f.events, &ev)
	}
	return scanner.Err()
}

func (f *FileStore) Create(ctx context.Context, s *Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[s.ID] = copySubscription(s)
	return snapshot.Save(f.subsPath, f.subscriptions)
}

func (f *FileStore) Get(ctx context.Context, id string) (*Subscription, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.subscriptions[id]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "subscription not found")
	}
	return copySubscription(s), nil
}

func (f *FileStore) Update(ctx context.Context, s *Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscriptions[s.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "subscription not found")
	}
	f.subscriptions[s.ID] = copySubscription(s)
	return snapshot.Save(f.subsPath, f.subscriptions)
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscriptions[id]; !ok {
		return brokererr.New(brokererr.NotFound, "subscription not found")
	}
	delete(f.subscriptions, id)
	return snapshot.Save(f.subsPath, f.subscriptions)
}

func (f *FileStore) ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Subscription
	for _, s := range f.subscriptions {
		if s.OwnerID == ownerID {
			out = append(out, copySubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *FileStore) ListActiveForEvent(ctx context.Context, et EventType) ([]*Subscription, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Subscription
	for _, s := range f.subscriptions {
		if s.Wants(et) {
			out = append(out, copySubscription(s))
		}
	}
	return out, nil
}

func (f *FileStore) Enqueue(ctx context.Context, d *Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[d.ID] = copyDelivery(d)
	return snapshot.Save(f.queuePath, f.deliveries)
}

func (f *FileStore) UpdateDelivery(ctx context.Context, d *Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deliveries[d.ID]; !ok {
		return brokererr.New(brokererr.NotFound, "delivery not found")
	}
	f.deliveries[d.ID] = copyDelivery(d)
	return snapshot.Save(f.queuePath, f.deliveries)
}

func (f *FileStore) ListPending(ctx context.Context) ([]*Delivery, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Delivery
	for _, d := range f.deliveries {
		if d.Status == DeliveryPending {
			out = append(out, copyDelivery(d))
		}
	}
	return out, nil
}

func (f *FileStore) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Delivery
	for _, d := range f.deliveries {
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

// Append writes e to the event log file and truncates the in-memory and
// on-disk log from the head if it now exceeds maxLogEntries.
func (f *FileStore) Append(ctx context.Context, e *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, e)
	if f.eventLogPath == "" {
		return nil
	}

	if f.maxLogEntries > 0 && len(f.events) > f.maxLogEntries {
		f.events = f.events[len(f.events)-f.maxLogEntries:]
		return f.rewriteEventLog()
	}

	file, err := os.OpenFile(f.eventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = file.Write(append(line, '\n'))
	return err
}

func (f *FileStore) rewriteEventLog() error {
	if err := os.MkdirAll(filepath.Dir(f.eventLogPath), 0o755); err != nil {
		return err
	}
	tmp := f.eventLogPath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	for _, e := range f.events {
		line, err := json.Marshal(e)
		if err != nil {
			file.Close()
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.eventLogPath)
}

func (f *FileStore) List(ctx context.Context, limit int) ([]*Event, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return tailEvents(f.events, limit), nil
}

func (f *FileStore) ListByType(ctx context.Context, et EventType, limit int) ([]*Event, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var filtered []*Event
	for _, e := range f.events {
		if e.Type == et {
			filtered = append(filtered, e)
		}
	}
	return tailEvents(filtered, limit), nil
}

// Checkpoint re-saves the delivery queue snapshot. Every mutation already
// saves immediately, so this is a no-op in terms of durability; it exists
// to satisfy Checkpointer for the periodic checkpoint tick (spec §6's
// queueCheckpointIntervalMs).
func (f *FileStore) Checkpoint(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return snapshot.Save(f.queuePath, f.deliveries)
}

var (
	_ SubscriptionStore = (*FileStore)(nil)
	_ QueueStore        = (*FileStore)(nil)
	_ EventLogStore     = (*FileStore)(nil)
	_ Checkpointer      = (*FileStore)(nil)
)
