package negotiation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/escrow"
	"github.com/mbd888/agentbroker/internal/idgen"
	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/notify"
	"github.com/mbd888/agentbroker/internal/syncutil"
)

const (
	EventQuoteCreated   = "quote_created"
	EventQuoteAccepted  = "quote_accepted"
	EventQuoteRejected  = "quote_rejected"
	EventQuoteCountered = "quote_countered"
	EventQuoteExpired   = "quote_expired"
)

const defaultExpiry = 72 * time.Hour

// Service implements the negotiation business logic.
type Service struct {
	store   Store
	escrows EscrowOpener
	emitter Emitter
	logger  *slog.Logger
	signal  *notify.Bus
	locks   syncutil.ShardedMutex
}

// NewService creates a negotiation service. escrows may be nil for tests
// that only exercise the quote state machine; acceptance will then fail
// with a precondition error rather than panicking.
func NewService(store Store, escrows EscrowOpener, emitter Emitter) *Service {
	return &Service{
		store:   store,
		escrows: escrows,
		emitter: emitter,
		logger:  slog.Default(),
		signal:  notify.NewBus(),
	}
}

// WithLogger overrides the default logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// Signals exposes the in-process notification bus for realtime surfaces.
func (s *Service) Signals() *notify.Bus { return s.signal }

// CreateQuote creates a pending quote from requester to provider.
func (s *Service) CreateQuote(ctx context.Context, requester, provider, amountStr, description string, token money.Token, expiresIn time.Duration) (*Quote, error) {
	if !money.IsSupported(token) {
		return nil, brokererr.New(brokererr.InvalidInput, "unsupported token")
	}
	amount, ok := money.Parse(amountStr, token)
	if !ok || !money.IsPositive(amount) {
		return nil, brokererr.New(brokererr.InvalidInput, "amount must be a positive value")
	}
	if requester == "" || provider == "" {
		return nil, brokererr.New(brokererr.InvalidInput, "requester and provider are required")
	}
	if requester == provider {
		return nil, brokererr.New(brokererr.InvalidInput, "requester and provider must differ")
	}
	if expiresIn <= 0 {
		expiresIn = defaultExpiry
	}

	now := time.Now()
	expiresAt := now.Add(expiresIn)
	q := &Quote{
		ID:            idgen.WithPrefix("qte_"),
		Requester:     requester,
		Provider:      provider,
		Description:   description,
		Amount:        amount,
		AmountDisplay: money.Format(amount, token),
		Token:         token,
		Status:        StatusPending,
		ExpiresAt:     &expiresAt,
		Timeline:      Timeline{Created: now},
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, err
	}
	s.publish(ctx, EventQuoteCreated, q)
	return q, nil
}

// Accept accepts a quote as-is and opens an escrow for the agreed amount.
func (s *Service) Accept(ctx context.Context, id, callerID string, conditions escrow.Conditions, timeoutMinutes int) (*Quote, error) {
	unlock := s.locks.Lock(id)

	q, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if q.Provider != callerID {
		unlock()
		return nil, brokererr.New(brokererr.Unauthorized, "only the provider may accept a quote")
	}
	if q.Status != StatusPending && q.Status != StatusCountered {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "quote is not awaiting acceptance").WithState(string(q.Status))
	}
	if s.escrows == nil {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow composition is not configured")
	}

	amount := q.Amount
	display := q.AmountDisplay
	if q.Status == StatusCountered && q.CounterAmount != nil {
		amount = q.CounterAmount
		display = q.CounterAmountDisplay
	}

	e, err := s.escrows.Create(ctx, q.Requester, q.Provider, display, q.Description, q.Token, conditions, timeoutMinutes)
	if err != nil {
		unlock()
		return nil, err
	}
	_ = amount

	now := time.Now()
	q.Status = StatusAccepted
	q.EscrowID = e.ID
	q.Timeline.Accepted = &now
	if err := s.store.Update(ctx, q); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	s.publish(ctx, EventQuoteAccepted, q)
	return q, nil
}

// AcceptCounter accepts the most recent counter-offer, opening an escrow.
// Unlike Accept, it applies only to a countered quote, opens the escrow for
// the counter amount, and may be called by either party.
func (s *Service) AcceptCounter(ctx context.Context, id, callerID string, conditions escrow.Conditions, timeoutMinutes int) (*Quote, error) {
	unlock := s.locks.Lock(id)

	q, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if q.Status != StatusCountered {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "quote has no pending counter-offer").WithState(string(q.Status))
	}
	// The counter-offer flips who must accept: whichever party did not
	// propose it. We don't track the proposer explicitly, so either
	// original party may accept a counter.
	if callerID != q.Requester && callerID != q.Provider {
		unlock()
		return nil, brokererr.New(brokererr.Unauthorized, "caller is not a party to this quote")
	}
	if s.escrows == nil {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow composition is not configured")
	}

	e, err := s.escrows.Create(ctx, q.Requester, q.Provider, q.CounterAmountDisplay, q.Description, q.Token, conditions, timeoutMinutes)
	if err != nil {
		unlock()
		return nil, err
	}

	now := time.Now()
	q.Status = StatusAccepted
	q.EscrowID = e.ID
	q.Timeline.Accepted = &now
	if err := s.store.Update(ctx, q); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	s.publish(ctx, EventQuoteAccepted, q)
	return q, nil
}

// Reject rejects a pending or countered quote.
func (s *Service) Reject(ctx context.Context, id, callerID string) (*Quote, error) {
	unlock := s.locks.Lock(id)

	q, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if q.Status.IsTerminal() {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "quote is already in a terminal state").WithState(string(q.Status))
	}
	if callerID != q.Requester && callerID != q.Provider {
		unlock()
		return nil, brokererr.New(brokererr.Unauthorized, "caller is not a party to this quote")
	}

	now := time.Now()
	q.Status = StatusRejected
	q.Timeline.Rejected = &now
	if err := s.store.Update(ctx, q); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	s.publish(ctx, EventQuoteRejected, q)
	return q, nil
}

// CounterOffer proposes a different amount on a pending quote.
func (s *Service) CounterOffer(ctx context.Context, id, callerID, amountStr, note string) (*Quote, error) {
	unlock := s.locks.Lock(id)

	q, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if q.Status != StatusPending && q.Status != StatusCountered {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "quote is not open to counter-offers").WithState(string(q.Status))
	}
	if callerID != q.Requester && callerID != q.Provider {
		unlock()
		return nil, brokererr.New(brokererr.Unauthorized, "caller is not a party to this quote")
	}

	amount, ok := money.Parse(amountStr, q.Token)
	if !ok || !money.IsPositive(amount) {
		unlock()
		return nil, brokererr.New(brokererr.InvalidInput, "counter amount must be a positive value")
	}

	now := time.Now()
	q.CounterAmount = amount
	q.CounterAmountDisplay = money.Format(amount, q.Token)
	q.CounterNote = note
	q.Status = StatusCountered
	q.Timeline.Countered = &now
	if err := s.store.Update(ctx, q); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	s.publish(ctx, EventQuoteCountered, q)
	return q, nil
}

// MarkDelivered records delivery against the quote's escrow, advancing the
// underlying escrow's delivery proof.
func (s *Service) MarkDelivered(ctx context.Context, id, callerID string, data []byte, signature string) (*Quote, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != StatusAccepted || q.EscrowID == "" {
		return nil, brokererr.New(brokererr.PreconditionViolated, "quote has no active escrow").WithState(string(q.Status))
	}
	if s.escrows == nil {
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow composition is not configured")
	}
	if _, err := s.escrows.SubmitDelivery(ctx, q.EscrowID, callerID, data, signature); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	fresh.Timeline.Delivered = &now
	if err := s.store.Update(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// ConfirmDelivery releases the quote's escrow once the requester confirms
// the delivered work. An escrow that was already released (for example by
// auto-release on delivery) is not an error; the confirmation is recorded.
func (s *Service) ConfirmDelivery(ctx context.Context, id, callerID, reason string) (*Quote, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Requester != callerID {
		return nil, brokererr.New(brokererr.Unauthorized, "only the requester may confirm delivery")
	}
	if q.Status != StatusAccepted || q.EscrowID == "" {
		return nil, brokererr.New(brokererr.PreconditionViolated, "quote has no active escrow").WithState(string(q.Status))
	}
	if s.escrows == nil {
		return nil, brokererr.New(brokererr.PreconditionViolated, "escrow composition is not configured")
	}
	if _, err := s.escrows.Release(ctx, q.EscrowID, reason); err != nil {
		var be *brokererr.Error
		if !errors.As(err, &be) || be.State != string(escrow.StatusReleased) {
			return nil, err
		}
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	fresh.Timeline.Confirmed = &now
	if err := s.store.Update(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// ProcessExpirations sweeps quotes past ExpiresAt that never resolved.
// Idempotent: a quote already terminal is skipped rather than erroring.
func (s *Service) ProcessExpirations(ctx context.Context) ([]string, error) {
	due, err := s.store.ListDueForExpiry(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, q := range due {
		if err := s.expireOne(ctx, q.ID); err != nil {
			if brokererr.Is(err, brokererr.PreconditionViolated) || brokererr.Is(err, brokererr.NotFound) {
				continue
			}
			s.logger.Warn("negotiation expiry sweep failed", "quoteId", q.ID, "error", err)
			continue
		}
		expired = append(expired, q.ID)
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)

	q, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	if q.Status.IsTerminal() {
		unlock()
		return brokererr.New(brokererr.PreconditionViolated, "quote already terminal")
	}
	if q.ExpiresAt == nil || q.ExpiresAt.After(time.Now()) {
		unlock()
		return brokererr.New(brokererr.PreconditionViolated, "quote not yet due for expiry")
	}

	now := time.Now()
	q.Status = StatusExpired
	q.Timeline.Expired = &now
	if err := s.store.Update(ctx, q); err != nil {
		unlock()
		return err
	}
	unlock()

	s.publish(ctx, EventQuoteExpired, q)
	return nil
}

// Get returns a quote by ID.
func (s *Service) Get(ctx context.Context, id string) (*Quote, error) {
	return s.store.Get(ctx, id)
}

// ListByParty returns quotes where partyID is requester or provider.
func (s *Service) ListByParty(ctx context.Context, partyID string, limit int) ([]*Quote, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByParty(ctx, partyID, limit)
}

func (s *Service) publish(ctx context.Context, eventType string, q *Quote) {
	if s.emitter != nil {
		if err := s.emitter.Emit(ctx, eventType, q); err != nil {
			s.logger.Warn("negotiation event emit failed", "event", eventType, "quoteId", q.ID, "error", err)
		}
	}
	s.signal.Publish(notify.Signal{Kind: eventType, ID: q.ID})
}
