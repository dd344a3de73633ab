package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/idgen"
	"github.com/mbd888/agentbroker/internal/metrics"
	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/notify"
	"github.com/mbd888/agentbroker/internal/syncutil"
	"github.com/mbd888/agentbroker/internal/traces"
)

// EventEscrowCreated and siblings are the event-type tags the escrow
// engine emits, drawn from the webhook engine's closed set (spec §4.3).
const (
	EventEscrowCreated  = "escrow_created"
	EventEscrowFunded   = "escrow_funded"
	EventEscrowLocked   = "escrow_locked"
	EventEscrowReleased = "escrow_released"
	EventEscrowRefunded = "escrow_refunded"
	EventEscrowDisputed = "escrow_disputed"
)

// Service implements the Escrow Engine operations of spec §4.1.
type Service struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
	signal  *notify.Bus

	locks syncutil.ShardedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the default no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSignalBus overrides the in-process notification bus (spec §9).
func WithSignalBus(b *notify.Bus) Option {
	return func(s *Service) { s.signal = b }
}

// NewService creates an Escrow Engine instance.
func NewService(store Store, emitter Emitter, opts ...Option) *Service {
	s := &Service{
		store:   store,
		emitter: emitter,
		logger:  slog.Default(),
		signal:  notify.NewBus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signals exposes the in-process notification bus for observers.
func (s *Service) Signals() *notify.Bus { return s.signal }

// Create implements spec §4.1 create.
func (s *Service) Create(ctx context.Context, payer, payee, amountStr, purpose string, token money.Token, cond Conditions, timeoutMinutes int) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create", traces.Amount(amountStr), traces.Token(string(token)))
	defer span.End()

	if payer == "" || payee == "" {
		return nil, brokererr.New(brokererr.InvalidInput, "payer and payee are required")
	}
	if !money.IsSupported(token) {
		return nil, brokererr.New(brokererr.InvalidInput, "unsupported token")
	}
	amount, ok := money.Parse(amountStr, token)
	if !ok || !money.IsPositive(amount) {
		return nil, brokererr.New(brokererr.InvalidInput, "amount must be a positive number")
	}

	// requires-approval is derived: explicit condition OR an erc20-stable token.
	if token == money.ERC20Stable {
		cond.RequiresApproval = true
	}

	now := time.Now()
	e := &Escrow{
		ID:            idgen.WithPrefix("esc_"),
		Payer:         payer,
		Payee:         payee,
		Amount:        amount,
		AmountDisplay: money.Format(amount, token),
		Token:         token,
		Purpose:       purpose,
		Conditions:    cond,
		Status:        StatusPending,
		Timeline:      Timeline{Created: now},
	}
	if timeoutMinutes > 0 {
		t := now.Add(time.Duration(timeoutMinutes) * time.Minute)
		e.TimeoutAt = &t
	}

	unlock := s.locks.Lock(e.ID)
	err := s.store.Create(ctx, e)
	unlock()
	if err != nil {
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.publish(ctx, EventEscrowCreated, e)
	return e, nil
}

// Fund implements spec §4.1 fund. Precondition: state = pending.
func (s *Service) Fund(ctx context.Context, id, externalHash string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Fund", traces.EscrowID(id))
	defer span.End()

	unlock := s.locks.Lock(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if e.Status != StatusPending {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow is not pending").WithState(string(e.Status))
	}

	now := time.Now()
	e.Status = StatusFunded
	e.Timeline.Funded = &now
	e.SettlementHash = externalHash

	autoLocked := false
	if !e.Conditions.RequiresApproval {
		e.Status = StatusLocked
		locked := time.Now()
		e.Timeline.Locked = &locked
		autoLocked = true
	}

	if err := s.store.Update(ctx, e); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	metrics.EscrowTransitionsTotal.WithLabelValues(string(e.Status)).Inc()
	s.publish(ctx, EventEscrowFunded, e)
	if autoLocked {
		s.publish(ctx, EventEscrowLocked, e)
	}
	return e, nil
}

// Approve implements spec §4.1 approve. Precondition: state = funded.
func (s *Service) Approve(ctx context.Context, id, approverID string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Approve", traces.EscrowID(id))
	defer span.End()

	unlock := s.locks.Lock(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if e.Status != StatusFunded {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow is not funded").WithState(string(e.Status))
	}

	if !e.HasApproved(approverID) {
		e.Approvals = append(e.Approvals, approverID)
	}

	transitioned := false
	if e.FullyApproved() {
		e.Status = StatusLocked
		now := time.Now()
		e.Timeline.Locked = &now
		transitioned = true
	}

	if err := s.store.Update(ctx, e); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	if transitioned {
		metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusLocked)).Inc()
		s.publish(ctx, EventEscrowLocked, e)
	}
	return e, nil
}

// SubmitDelivery implements spec §4.1 submitDelivery. Precondition: state = locked.
func (s *Service) SubmitDelivery(ctx context.Context, id string, submitter string, data []byte, signature string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.SubmitDelivery", traces.EscrowID(id))
	defer span.End()

	unlock := s.locks.Lock(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if e.Status != StatusLocked {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow is not locked").WithState(string(e.Status))
	}

	e.Proof = &DeliveryProof{
		Submitter: submitter,
		Timestamp: time.Now(),
		Data:      data,
		Signature: signature,
	}
	if err := s.store.Update(ctx, e); err != nil {
		unlock()
		return nil, err
	}

	autoRelease := e.Conditions.RequiresDelivery && !e.Conditions.RequiresArbiter && !e.Conditions.RequiresClientConfirmation
	unlock()

	if autoRelease {
		// release acquires its own lock; the proof write above has already
		// committed, so release's precondition check observes it (open
		// question #1 in DESIGN.md).
		return s.Release(ctx, id, "automatic - delivery confirmed")
	}
	return e, nil
}

// Release implements spec §4.1 release. Precondition: state = locked; if
// requires-delivery then proof must be present.
func (s *Service) Release(ctx context.Context, id, reason string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release", traces.EscrowID(id))
	defer span.End()

	unlock := s.locks.Lock(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if e.Status != StatusLocked {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow is not locked").WithState(string(e.Status))
	}
	if e.Conditions.RequiresDelivery && e.Proof == nil {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "delivery required").WithState(string(e.Status))
	}

	now := time.Now()
	e.Status = StatusReleased
	e.Timeline.Released = &now
	e.ReleaseReason = reason

	if err := s.store.Update(ctx, e); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusReleased)).Inc()
	s.publish(ctx, EventEscrowReleased, e)
	return e, nil
}

// Refund implements spec §4.1 refund. Precondition: state in {funded,
// locked, disputed}.
func (s *Service) Refund(ctx context.Context, id, reason string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Refund", traces.EscrowID(id))
	defer span.End()

	unlock := s.locks.Lock(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	switch e.Status {
	case StatusFunded, StatusLocked, StatusDisputed:
	default:
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow cannot be refunded in its current state").WithState(string(e.Status))
	}

	now := time.Now()
	e.Status = StatusRefunded
	e.Timeline.Refunded = &now
	e.ReleaseReason = reason

	if err := s.store.Update(ctx, e); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusRefunded)).Inc()
	s.publish(ctx, EventEscrowRefunded, e)
	return e, nil
}

// Dispute implements spec §4.1 dispute. Precondition: state = locked.
func (s *Service) Dispute(ctx context.Context, id, disputerID, reason string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Dispute", traces.EscrowID(id))
	defer span.End()

	unlock := s.locks.Lock(id)

	e, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if e.Status != StatusLocked {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow is not locked").WithState(string(e.Status))
	}

	now := time.Now()
	e.Status = StatusDisputed
	e.Dispute = &DisputeRecord{Disputer: disputerID, Reason: reason, Timestamp: now}
	e.Timeline.Disputed = &now

	if err := s.store.Update(ctx, e); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	s.publish(ctx, EventEscrowDisputed, e)
	return e, nil
}

// ResolveDispute implements spec §4.1 resolveDispute. Precondition:
// state = disputed.
func (s *Service) ResolveDispute(ctx context.Context, id string, decision string, arbiterID string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ResolveDispute", traces.EscrowID(id))
	defer span.End()

	// Check state under lock. A refund is delegated to Refund, which takes
	// its own lock after this one is released. A release is committed here
	// under the held lock, since Release itself only accepts a locked escrow.
	unlock := s.locks.Lock(id)
	e, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if e.Status != StatusDisputed {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow is not disputed").WithState(string(e.Status))
	}

	reason := "arbiter decision by " + arbiterID
	switch decision {
	case "release":
		now := time.Now()
		e.Status = StatusReleased
		e.Timeline.Released = &now
		e.ReleaseReason = reason
		if err := s.store.Update(ctx, e); err != nil {
			unlock()
			return nil, err
		}
		unlock()
		metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusReleased)).Inc()
		s.publish(ctx, EventEscrowReleased, e)
		return e, nil
	case "refund":
		unlock()
		return s.Refund(ctx, id, reason)
	default:
		unlock()
		return nil, brokererr.New(brokererr.InvalidInput, "decision must be release or refund")
	}
}

// ProcessTimeouts implements spec §4.1 processTimeouts. Idempotent: an
// escrow already moved out of {funded, locked} is simply not returned by
// ListDueForTimeout on the next call.
func (s *Service) ProcessTimeouts(ctx context.Context) ([]string, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ProcessTimeouts")
	defer span.End()

	due, err := s.store.ListDueForTimeout(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	var refunded []string
	for _, e := range due {
		if _, err := s.Refund(ctx, e.ID, "automatic timeout"); err != nil {
			if brokererr.Is(err, brokererr.PreconditionViolated) {
				continue // already transitioned by another caller
			}
			s.logger.Warn("processTimeouts: refund failed", "escrow_id", e.ID, "error", err)
			continue
		}
		refunded = append(refunded, e.ID)
	}
	return refunded, nil
}

// Get returns an escrow by id.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// ListByParty returns escrows where partyID is payer or payee.
func (s *Service) ListByParty(ctx context.Context, partyID string, limit int) ([]*Escrow, error) {
	return s.store.ListByParty(ctx, partyID, limit)
}

// publish emits a wire event (best-effort; errors are logged, not
// propagated — the transition already committed) and an in-process signal
// for observers. It is always called after the write lock for this entity
// has been released (spec §5).
func (s *Service) publish(ctx context.Context, eventType string, e *Escrow) {
	if s.emitter != nil {
		if err := s.emitter.Emit(ctx, eventType, e); err != nil {
			s.logger.Warn("escrow: emit failed", "event_type", eventType, "escrow_id", e.ID, "error", err)
		}
	}
	s.signal.Publish(notify.Signal{Kind: eventType, ID: e.ID})
}
