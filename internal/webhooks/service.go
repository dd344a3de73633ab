package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/circuitbreaker"
	"github.com/mbd888/agentbroker/internal/idgen"
	"github.com/mbd888/agentbroker/internal/metrics"
	"github.com/mbd888/agentbroker/internal/notify"
	"github.com/mbd888/agentbroker/internal/syncutil"
)

// Service implements subscription management, event recording, and the
// durable delivery queue's enqueue/drain cycle.
type Service struct {
	subs     SubscriptionStore
	queue    QueueStore
	eventLog EventLogStore
	sender   Sender
	breaker  *circuitbreaker.Breaker
	retry    RetryPolicy
	fanOut   int
	maxLog   int

	logger *slog.Logger
	signal *notify.Bus
	locks  syncutil.ShardedMutex
}

// Config bundles the retry/fan-out/log-size knobs the webhook configuration
// record (spec §6) exposes.
type Config struct {
	MaxRetries        int
	InitialDelayMs    int
	MaxDelayMs        int
	BackoffMultiplier float64
	MaxLogEntries     int
	DeliveryFanOut    int
}

// NewService wires the three stores and an outbound Sender into a webhook
// engine. subs/queue/eventLog may be backed by Memory/File/Postgres stores
// interchangeably.
func NewService(subs SubscriptionStore, queue QueueStore, eventLog EventLogStore, sender Sender, cfg Config) *Service {
	fanOut := cfg.DeliveryFanOut
	if fanOut < 1 {
		fanOut = 1
	}
	maxLog := cfg.MaxLogEntries
	if maxLog < 1 {
		maxLog = 10_000
	}
	return &Service{
		subs:     subs,
		queue:    queue,
		eventLog: eventLog,
		sender:   sender,
		breaker:  circuitbreaker.New(5, 30*time.Second),
		retry: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Initial:    time.Duration(cfg.InitialDelayMs) * time.Millisecond,
			Max:        time.Duration(cfg.MaxDelayMs) * time.Millisecond,
			Multiplier: cfg.BackoffMultiplier,
		},
		fanOut: fanOut,
		maxLog: maxLog,
		logger: slog.Default(),
		signal: notify.NewBus(),
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Signals returns a channel of webhookDelivered/queueProcessingComplete
// notifications.
func (s *Service) Signals() (<-chan notify.Signal, func()) {
	return s.signal.Subscribe()
}

// Subscribe registers a new webhook endpoint for ownerID. It generates a
// fresh 32-byte HMAC secret server-side; the secret is returned here
// exactly once and is never re-emitted by Get/ListByOwner.
func (s *Service) Subscribe(ctx context.Context, ownerID, rawURL string, eventTypes []EventType) (sub *Subscription, secret string, err error) {
	if ownerID == "" {
		return nil, "", brokererr.New(brokererr.InvalidInput, "ownerId is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", brokererr.New(brokererr.InvalidInput, "url must be an absolute http(s) URL")
	}

	var filtered []EventType
	for _, et := range eventTypes {
		if IsValidEventType(et) {
			filtered = append(filtered, et)
		}
	}
	if len(eventTypes) > 0 && len(filtered) == 0 {
		return nil, "", brokererr.New(brokererr.NoValidEventTypes, "no requested event type is in the supported set")
	}
	if len(filtered) == 0 {
		filtered = AllEventTypes()
	}

	secret = idgen.Hex(32)
	sub = &Subscription{
		ID:         idgen.WithPrefix("sub_"),
		OwnerID:    ownerID,
		URL:        rawURL,
		Secret:     secret,
		EventTypes: filtered,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, secret, nil
}

// Unsubscribe deactivates a subscription; it is not deleted so historical
// deliveries still resolve against it.
func (s *Service) Unsubscribe(ctx context.Context, id, ownerID string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.OwnerID != ownerID {
		return brokererr.New(brokererr.Unauthorized, "caller does not own this subscription")
	}
	sub.Active = false
	return s.subs.Update(ctx, sub)
}

// Get returns a subscription by id.
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.subs.Get(ctx, id)
}

// ListByOwner returns all subscriptions registered by ownerID.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	return s.subs.ListByOwner(ctx, ownerID)
}

// Emit records et to the event log and enqueues a delivery for every active
// subscription registered for it. Emit never blocks on delivery — enqueue
// only; ProcessQueue (driven by Timer) performs the actual HTTP calls.
func (s *Service) Emit(ctx context.Context, et string, data any) error {
	eventType := EventType(et)
	if !IsValidEventType(eventType) {
		return brokererr.New(brokererr.InvalidEventType, fmt.Sprintf("event type %q is not in the supported set", et))
	}

	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := s.eventLog.Append(ctx, event); err != nil {
		return err
	}

	subs, err := s.subs.ListActiveForEvent(ctx, eventType)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, sub := range subs {
		delivery := &Delivery{
			ID:             idgen.WithPrefix("dlv_"),
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      eventType,
			EventTimestamp: event.CreatedAt,
			Payload:        data,
			Context:        event.Context,
			Attempt:        0,
			NextAttemptAt:  now,
			Status:         DeliveryPending,
			CreatedAt:      now,
		}
		if err := s.queue.Enqueue(ctx, delivery); err != nil {
			s.logger.Error("failed to enqueue webhook delivery", "subscription", sub.ID, "event", event.ID, "error", err)
			continue
		}
		metrics.WebhookQueueDepth.Inc()
	}
	return nil
}

// TestWebhook synchronously delivers a one-off test payload to sub,
// bypassing the durable queue and retry policy entirely (spec: a
// synchronous bypass operation for endpoint verification).
func (s *Service) TestWebhook(ctx context.Context, subscriptionID string) error {
	sub, err := s.subs.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	eventID := idgen.WithPrefix("evt_")
	body := canonicalPayload(eventID, EventTest, time.Now(), map[string]any{"message": "test delivery"}, nil)
	headers := signedHeaders(sub.Secret, sub.ID, eventID, EventTest, body)
	return s.sender.Send(ctx, sub.URL, headers, body)
}

// ProcessQueue drains every pending delivery whose NextAttemptAt has
// elapsed, up to fanOut concurrently. It returns the number of deliveries
// attempted.
func (s *Service) ProcessQueue(ctx context.Context) (int, error) {
	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var due []*Delivery
	for _, d := range pending {
		if !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, s.fanOut)
	var wg sync.WaitGroup
	for _, d := range due {
		d := d
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.attemptDelivery(ctx, d)
		}()
	}
	wg.Wait()

	s.signal.Publish(notify.Signal{Kind: "queueProcessingComplete", ID: fmt.Sprintf("%d", len(due))})
	return len(due), nil
}

func (s *Service) attemptDelivery(ctx context.Context, d *Delivery) {
	unlock := s.locks.Lock(d.SubscriptionID)
	defer unlock()

	sub, err := s.subs.Get(ctx, d.SubscriptionID)
	if err != nil {
		d.Status = DeliveryFailed
		d.LastError = err.Error()
		_ = s.queue.UpdateDelivery(ctx, d)
		return
	}

	breakerKey := "webhook:" + sub.ID
	if !s.breaker.Allow(breakerKey) {
		// The circuit is open: no real delivery attempt is made, so the
		// entity's retry budget (maxRetries) must not be spent on it.
		// Reschedule at a short fixed interval without touching d.Attempt.
		d.NextAttemptAt = time.Now().Add(breakerOpenRetryInterval)
		_ = s.queue.UpdateDelivery(ctx, d)
		return
	}

	d.Attempt++
	body := canonicalPayload(d.EventID, d.EventType, d.EventTimestamp, d.Payload, d.Context)
	headers := signedHeaders(sub.Secret, sub.ID, d.EventID, d.EventType, body)

	sendErr := s.sender.Send(ctx, sub.URL, headers, body)
	if sendErr == nil {
		s.breaker.RecordSuccess(breakerKey)
		now := time.Now()
		d.Status = DeliveryDelivered
		d.DeliveredAt = &now
		d.LastError = ""
		_ = s.queue.UpdateDelivery(ctx, d)

		sub.Successes++
		sub.LastTriggeredAt = &now
		_ = s.subs.Update(ctx, sub)

		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		metrics.WebhookQueueDepth.Dec()
		s.signal.Publish(notify.Signal{Kind: "webhookDelivered", ID: d.ID})
		return
	}

	s.breaker.RecordFailure(breakerKey)
	d.LastError = sendErr.Error()

	if s.retry.Exhausted(d.Attempt) {
		d.Status = DeliveryFailed
		_ = s.queue.UpdateDelivery(ctx, d)

		sub.Failures++
		_ = s.subs.Update(ctx, sub)

		metrics.WebhookDeliveriesTotal.WithLabelValues("permanent_failure").Inc()
		metrics.WebhookQueueDepth.Dec()
		s.logger.Warn("webhook delivery permanently failed", "delivery", d.ID, "subscription", sub.ID, "attempts", d.Attempt, "error", sendErr)
		return
	}

	d.NextAttemptAt = time.Now().Add(s.retry.NextDelay(d.Attempt))
	_ = s.queue.UpdateDelivery(ctx, d)

	sub.Failures++
	sub.Retries++
	_ = s.subs.Update(ctx, sub)

	metrics.WebhookDeliveriesTotal.WithLabelValues("transient_failure").Inc()
}

// breakerOpenRetryInterval is the fixed reschedule delay used while a
// subscription's circuit is open, independent of the entity's own
// maxRetries-governed backoff schedule.
const breakerOpenRetryInterval = 5 * time.Second

// ListDeliveries returns the delivery history for one subscription.
func (s *Service) ListDeliveries(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error) {
	return s.queue.ListBySubscription(ctx, subscriptionID, limit)
}

// ListEvents returns the most recent entries in the event log.
func (s *Service) ListEvents(ctx context.Context, limit int) ([]*Event, error) {
	return s.eventLog.List(ctx, limit)
}
