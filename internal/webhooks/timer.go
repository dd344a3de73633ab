package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/agentbroker/internal/metrics"
)

// Checkpointer is implemented by stores that support an explicit periodic
// re-snapshot of the delivery queue, independent of the per-mutation save
// FileStore already performs. Stores that persist every mutation (all of
// this package's stores) can implement it as a cheap re-save; it exists so
// a future buffered/batched store has somewhere to hook in without
// changing the Timer.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Timer drives the delivery queue worker tick and, separately, the
// periodic checkpoint of the queue store.
type Timer struct {
	service             *Service
	checkpointer        Checkpointer
	workerTick          time.Duration
	checkpointInterval  time.Duration
	logger              *slog.Logger
	stop                chan struct{}
	running             atomic.Bool
}

// NewTimer creates a worker that calls service.ProcessQueue every
// workerTick, and (if checkpointer is non-nil) calls its Checkpoint every
// checkpointInterval.
func NewTimer(service *Service, checkpointer Checkpointer, workerTick, checkpointInterval time.Duration, logger *slog.Logger) *Timer {
	if workerTick <= 0 {
		workerTick = time.Second
	}
	if checkpointInterval <= 0 {
		checkpointInterval = 5 * time.Second
	}
	return &Timer{
		service:            service,
		checkpointer:       checkpointer,
		workerTick:         workerTick,
		checkpointInterval: checkpointInterval,
		logger:             logger,
		stop:               make(chan struct{}),
	}
}

// Running reports whether the worker loop is active.
func (t *Timer) Running() bool { return t.running.Load() }

// Start runs the worker and checkpoint loops until ctx is done or Stop is
// called. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	workTicker := time.NewTicker(t.workerTick)
	defer workTicker.Stop()

	var checkpointTicker *time.Ticker
	var checkpointC <-chan time.Time
	if t.checkpointer != nil {
		checkpointTicker = time.NewTicker(t.checkpointInterval)
		defer checkpointTicker.Stop()
		checkpointC = checkpointTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-workTicker.C:
			t.safeProcess(ctx)
		case <-checkpointC:
			t.safeCheckpoint(ctx)
		}
	}
}

// Stop signals the worker loop to exit.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeProcess(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in webhook delivery worker", "panic", fmt.Sprint(r))
		}
	}()

	n, err := t.service.ProcessQueue(ctx)
	if err != nil {
		t.logger.Warn("webhook queue processing failed", "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("webhook queue processed deliveries", "count", n)
	}
}

func (t *Timer) safeCheckpoint(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in webhook queue checkpoint", "panic", fmt.Sprint(r))
		}
	}()

	timer := prometheusTimer()
	defer timer()

	if err := t.checkpointer.Checkpoint(ctx); err != nil {
		t.logger.Warn("webhook queue checkpoint failed", "error", err)
	}
}

func prometheusTimer() func() {
	start := time.Now()
	return func() {
		metrics.WebhookCheckpointDuration.Observe(time.Since(start).Seconds())
	}
}
