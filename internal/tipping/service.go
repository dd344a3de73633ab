package tipping

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/idgen"
	"github.com/mbd888/agentbroker/internal/metrics"
	"github.com/mbd888/agentbroker/internal/money"
	"github.com/mbd888/agentbroker/internal/notify"
	"github.com/mbd888/agentbroker/internal/syncutil"
	"github.com/mbd888/agentbroker/internal/validation"
)

// EventTippingReceived and EventPaymentSettled are the event-type tags the
// tipping engine emits, drawn from the webhook engine's closed set (spec
// §4.4).
const (
	EventTippingReceived = "tipping_received"
	EventPaymentSettled  = "payment_settled"
)

// Service implements the Tipping Engine operations of spec §4.4.
type Service struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
	signal  *notify.Bus
	locks   syncutil.ShardedMutex
}

// NewService creates a Tipping Engine instance.
func NewService(store Store, emitter Emitter) *Service {
	return &Service{
		store:   store,
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

// CreateTipRequest carries createTip's input fields (spec §4.4).
type CreateTipRequest struct {
	RepoRef   string
	Tipper    string
	Recipient string
	Amount    string
	Token     money.Token
	Message   string
	IssueURL  string
	CommitRef string
}

// CreateTip implements spec §4.4 createTip.
func (s *Service) CreateTip(ctx context.Context, req CreateTipRequest) (*Tip, error) {
	if !validation.IsValidRepoRef(req.RepoRef) {
		return nil, brokererr.New(brokererr.InvalidInput, "repoRef must be a valid <owner>/<name> reference")
	}
	if !validation.IsValidTipRecipient(req.Recipient) {
		return nil, brokererr.New(brokererr.InvalidInput, "recipient must be a GitHub handle or an Ethereum address")
	}
	if req.Tipper == "" {
		return nil, brokererr.New(brokererr.InvalidInput, "tipper is required")
	}
	if !money.IsSupported(req.Token) {
		return nil, brokererr.New(brokererr.InvalidInput, "unsupported token")
	}
	amount, ok := money.Parse(req.Amount, req.Token)
	if !ok || !money.IsPositive(amount) {
		return nil, brokererr.New(brokererr.InvalidInput, "amount must be a positive, finite value")
	}

	now := time.Now()
	t := &Tip{
		ID:            idgen.WithPrefix("tip_"),
		RepoRef:       req.RepoRef,
		Tipper:        req.Tipper,
		Recipient:     req.Recipient,
		Amount:        amount,
		AmountDisplay: money.Format(amount, req.Token),
		Token:         req.Token,
		Message:       req.Message,
		IssueURL:      req.IssueURL,
		CommitRef:     req.CommitRef,
		Status:        StatusPending,
		Timeline:      Timeline{Created: now},
	}

	unlock := s.locks.Lock(t.ID)
	err := s.store.Create(ctx, t)
	unlock()
	if err != nil {
		return nil, err
	}

	metrics.TipTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.publish(ctx, EventTippingReceived, t)
	return t, nil
}

// CreateEscrow implements spec §4.4 createEscrow. Precondition: state =
// pending. The factory is invoked without the entity lock held, since it is
// caller-supplied and may itself call back into other engines (spec §5
// forbids holding a write lock across a cross-engine call).
func (s *Service) CreateEscrow(ctx context.Context, tipID string, factory EscrowFactory) (*Tip, error) {
	unlock := s.locks.Lock(tipID)
	t, err := s.store.Get(ctx, tipID)
	if err != nil {
		unlock()
		return nil, err
	}
	if t.Status != StatusPending {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "tip is not pending").WithState(string(t.Status))
	}
	snapshot := *t
	unlock()

	if factory == nil {
		return nil, brokererr.New(brokererr.PreconditionViolated, "no escrow factory configured")
	}
	escrowID, err := factory(ctx, &snapshot)
	if err != nil {
		return nil, err
	}

	unlock = s.locks.Lock(tipID)
	defer unlock()

	t, err = s.store.Get(ctx, tipID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, brokererr.New(brokererr.PreconditionViolated, "tip is not pending").WithState(string(t.Status))
	}

	now := time.Now()
	t.EscrowID = escrowID
	t.Status = StatusEscrowCreated
	t.Timeline.EscrowCreated = &now
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	metrics.TipTransitionsTotal.WithLabelValues(string(StatusEscrowCreated)).Inc()
	s.signal.Publish(notify.Signal{Kind: "tip_escrow_created", ID: t.ID})
	return t, nil
}

// FundEscrow implements spec §4.4 fundEscrow. Precondition: state =
// escrow_created.
func (s *Service) FundEscrow(ctx context.Context, tipID, externalHash string) (*Tip, error) {
	unlock := s.locks.Lock(tipID)
	defer unlock()

	t, err := s.store.Get(ctx, tipID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusEscrowCreated {
		return nil, brokererr.New(brokererr.PreconditionViolated, "tip escrow is not created").WithState(string(t.Status))
	}

	now := time.Now()
	t.Status = StatusFunded
	t.Timeline.Funded = &now
	if t.Settlement == nil {
		t.Settlement = &Settlement{}
	}
	t.Settlement.TxHash = externalHash
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	metrics.TipTransitionsTotal.WithLabelValues(string(StatusFunded)).Inc()
	s.signal.Publish(notify.Signal{Kind: "tip_funded", ID: t.ID})
	return t, nil
}

// LockEscrow implements spec §4.4 lockEscrow. Precondition: state = funded.
func (s *Service) LockEscrow(ctx context.Context, tipID string) (*Tip, error) {
	unlock := s.locks.Lock(tipID)
	defer unlock()

	t, err := s.store.Get(ctx, tipID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusFunded {
		return nil, brokererr.New(brokererr.PreconditionViolated, "tip is not funded").WithState(string(t.Status))
	}

	now := time.Now()
	t.Status = StatusLocked
	t.Timeline.Locked = &now
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	metrics.TipTransitionsTotal.WithLabelValues(string(StatusLocked)).Inc()
	s.signal.Publish(notify.Signal{Kind: "tip_locked", ID: t.ID})
	return t, nil
}

// ReleaseTip implements spec §4.4 releaseTip. Precondition: state = locked.
func (s *Service) ReleaseTip(ctx context.Context, tipID, externalHash string, blockNumber, gas uint64) (*Tip, error) {
	unlock := s.locks.Lock(tipID)

	t, err := s.store.Get(ctx, tipID)
	if err != nil {
		unlock()
		return nil, err
	}
	if t.Status != StatusLocked {
		unlock()
		return nil, brokererr.New(brokererr.PreconditionViolated, "tip is not locked").WithState(string(t.Status))
	}

	now := time.Now()
	t.Status = StatusReleased
	t.Timeline.Released = &now
	t.Settlement = &Settlement{
		TxHash:      externalHash,
		BlockNumber: blockNumber,
		Gas:         gas,
		Timestamp:   now,
	}
	if err := s.store.Update(ctx, t); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	metrics.TipTransitionsTotal.WithLabelValues(string(StatusReleased)).Inc()
	s.publish(ctx, EventPaymentSettled, t)
	return t, nil
}

// CancelTip implements spec §4.4 cancelTip. Precondition: state not
// terminal.
func (s *Service) CancelTip(ctx context.Context, tipID, reason string) (*Tip, error) {
	unlock := s.locks.Lock(tipID)
	defer unlock()

	t, err := s.store.Get(ctx, tipID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, brokererr.New(brokererr.PreconditionViolated, "cannot cancel in state "+string(t.Status)).WithState(string(t.Status))
	}

	now := time.Now()
	t.Status = StatusCancelled
	t.CancelReason = reason
	t.Timeline.Cancelled = &now
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	metrics.TipTransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.signal.Publish(notify.Signal{Kind: "tip_cancelled", ID: t.ID})
	return t, nil
}

// Get returns a tip by id.
func (s *Service) Get(ctx context.Context, id string) (*Tip, error) {
	return s.store.Get(ctx, id)
}

// ListByRepo returns tips attributed to a repository reference.
func (s *Service) ListByRepo(ctx context.Context, repoRef string, limit int) ([]*Tip, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByRepo(ctx, repoRef, limit)
}

// ListByTipper returns tips issued by a given tipper.
func (s *Service) ListByTipper(ctx context.Context, tipper string, limit int) ([]*Tip, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByTipper(ctx, tipper, limit)
}

// ProcessBatch implements spec §4.4 processBatch: the tips in {funded,
// locked} matching filter, and their sum, for a nightly settlement caller.
func (s *Service) ProcessBatch(ctx context.Context, filter BatchFilter) ([]*Tip, *big.Int, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	sum := big.NewInt(0)
	var matched []*Tip
	for _, t := range all {
		if t.Status != StatusFunded && t.Status != StatusLocked {
			continue
		}
		if !filter.matches(t) {
			continue
		}
		matched = append(matched, t)
		sum.Add(sum, t.Amount)
	}
	return matched, sum, nil
}

// RepoStats is an immutable snapshot of per-repository aggregation (spec
// §4.4).
type RepoStats struct {
	RepoRef       string           `json:"repoRef"`
	Count         int              `json:"count"`
	Sum           map[string]string `json:"sum"`
	CountByToken  map[string]int   `json:"countByToken"`
	CountByStatus map[string]int   `json:"countByStatus"`
	Average       map[string]string `json:"average"`
}

// RepoStats computes per-repository stats (count, sum, per-token counts,
// per-state counts, average), grouped by token since amounts across
// different tokens are not comparable.
func (s *Service) RepoStats(ctx context.Context, repoRef string) (*RepoStats, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	sums := make(map[money.Token]*big.Int)
	counts := make(map[money.Token]int)
	byStatus := make(map[string]int)
	total := 0
	for _, t := range all {
		if t.RepoRef != repoRef {
			continue
		}
		total++
		byStatus[string(t.Status)]++
		if sums[t.Token] == nil {
			sums[t.Token] = big.NewInt(0)
		}
		sums[t.Token].Add(sums[t.Token], t.Amount)
		counts[t.Token]++
	}

	stats := &RepoStats{
		RepoRef:       repoRef,
		Count:         total,
		Sum:           make(map[string]string),
		CountByToken:  make(map[string]int),
		CountByStatus: byStatus,
		Average:       make(map[string]string),
	}
	for tok, sum := range sums {
		stats.Sum[string(tok)] = money.Format(sum, tok)
		stats.CountByToken[string(tok)] = counts[tok]
		avg := new(big.Int).Div(sum, big.NewInt(int64(counts[tok])))
		stats.Average[string(tok)] = money.Format(avg, tok)
	}
	return stats, nil
}

// RepoSum is one entry of a top-N repositories-by-sum ranking, for a single
// token (spec §4.4's per-tipper and global stats only rank within a token,
// since cross-token sums are not comparable).
type RepoSum struct {
	RepoRef string `json:"repoRef"`
	Token   money.Token `json:"token"`
	Sum     *big.Int    `json:"-"`
	SumDisplay string   `json:"sum"`
}

// TipperStats is an immutable snapshot of per-tipper aggregation (spec
// §4.4): the tipper's top repositories by sum.
type TipperStats struct {
	Tipper     string    `json:"tipper"`
	TopRepos   []RepoSum `json:"topRepos"`
}

// TipperStats computes the tipper's top-N repositories by sum, per token.
func (s *Service) TipperStats(ctx context.Context, tipper string, topN int) (*TipperStats, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = 10
	}

	sums := make(map[string]*big.Int)
	tokenOf := make(map[string]money.Token)
	for _, t := range all {
		if t.Tipper != tipper {
			continue
		}
		key := t.RepoRef + "|" + string(t.Token)
		if sums[key] == nil {
			sums[key] = big.NewInt(0)
			tokenOf[key] = t.Token
		}
		sums[key].Add(sums[key], t.Amount)
	}

	return &TipperStats{Tipper: tipper, TopRepos: topRepoSums(all, sums, tokenOf, topN, func(t *Tip) string { return t.RepoRef })}, nil
}

// GlobalStats is an immutable snapshot of global aggregation (spec §4.4):
// the top-10 repositories by sum, per token.
type GlobalStats struct {
	TopRepos []RepoSum `json:"topRepos"`
}

// GlobalStats computes the top-10 repositories by sum, per token, across
// every tip in the system.
func (s *Service) GlobalStats(ctx context.Context) (*GlobalStats, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]*big.Int)
	tokenOf := make(map[string]money.Token)
	for _, t := range all {
		key := t.RepoRef + "|" + string(t.Token)
		if sums[key] == nil {
			sums[key] = big.NewInt(0)
			tokenOf[key] = t.Token
		}
		sums[key].Add(sums[key], t.Amount)
	}

	return &GlobalStats{TopRepos: topRepoSums(all, sums, tokenOf, 10, func(t *Tip) string { return t.RepoRef })}, nil
}

// topRepoSums reduces a "repoRef|token" -> sum map to a sorted, capped
// ranking. keyFn is unused beyond documenting the grouping key's origin;
// kept as a parameter so future callers (e.g. per-recipient rankings) can
// reuse this without duplicating the sort/cap logic.
func topRepoSums(_ []*Tip, sums map[string]*big.Int, tokenOf map[string]money.Token, topN int, keyFn func(*Tip) string) []RepoSum {
	_ = keyFn
	result := make([]RepoSum, 0, len(sums))
	for key, sum := range sums {
		repoRef := key[:len(key)-len(string(tokenOf[key]))-1]
		tok := tokenOf[key]
		result = append(result, RepoSum{RepoRef: repoRef, Token: tok, Sum: sum, SumDisplay: money.Format(sum, tok)})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Sum.Cmp(result[j].Sum) > 0
	})
	if len(result) > topN {
		result = result[:topN]
	}
	return result
}

func (s *Service) publish(ctx context.Context, eventType string, t *Tip) {
	if s.emitter != nil {
		if err := s.emitter.Emit(ctx, eventType, t); err != nil {
			s.logger.Warn("tipping: emit failed", "event_type", eventType, "tip_id", t.ID, "error", err)
		}
	}
	s.signal.Publish(notify.Signal{Kind: eventType, ID: t.ID})
}
