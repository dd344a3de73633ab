package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/agentbroker/internal/tipping"
)

// Timer periodically runs the tip settlement batch.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new settlement timer running every interval. A
// caller that never settles intraday (e.g. tests) can pass any positive
// duration; production wiring uses a nightly cadence.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic settlement loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation timer", "panic", fmt.Sprint(r))
		}
	}()

	result, err := t.service.RunBatch(ctx, tipping.BatchFilter{})
	if err != nil {
		t.logger.Warn("reconciliation batch failed", "error", err)
		return
	}
	t.logger.Info("reconciliation batch complete",
		"considered", result.Considered, "settled", result.Settled, "failed", result.Failed)
}
