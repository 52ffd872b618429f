package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourorg/holdings-ledger/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 50 * time.Millisecond
)

type Options struct {
	// MaxAttempts bounds the conditional-write attempts per operation.
	MaxAttempts int
	// BaseDelay is the first backoff; it doubles after every conflict.
	BaseDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	return o
}

// Synchronizer records position events and keeps each user's portfolio
// aggregate in step with them. Portfolio writes are compare-and-swap on
// the portfolio version; losers reload and retry with backoff.
//
// The event insert and the portfolio write are not atomic. A crash
// between the two leaves the portfolio updated without its event.
type Synchronizer struct {
	events     EventStore
	portfolios PortfolioStore
	users      ExistenceChecker
	stocks     ExistenceChecker
	notifier   ChangeNotifier
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func NewSynchronizer(
	events EventStore,
	portfolios PortfolioStore,
	users ExistenceChecker,
	stocks ExistenceChecker,
	notifier ChangeNotifier,
	opts Options,
	logger *slog.Logger,
) *Synchronizer {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		events:     events,
		portfolios: portfolios,
		users:      users,
		stocks:     stocks,
		notifier:   notifier,
		opts:       opts.withDefaults(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	OperationID     string
	UserID          string
	StockID         string
	Type            domain.EventType
	TradeAt         time.Time
	QuantityBefore  decimal.Decimal
	QuantityAfter   decimal.Decimal
	QuantityDelta   decimal.Decimal
	TotalCostBefore decimal.Decimal
	TotalCostAfter  decimal.Decimal
	UnitPrice       decimal.Decimal
	Currency        domain.Currency
	Source          string
	AppVersion      string
}

func (r CreateRequest) event() (*domain.PositionEvent, error) {
	operationID := strings.TrimSpace(r.OperationID)
	if operationID == "" {
		return nil, newError(KindValidationFailed, "operation_id is required")
	}
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return nil, newError(KindValidationFailed, "invalid user_id format: %q", r.UserID)
	}
	stockID, err := uuid.Parse(r.StockID)
	if err != nil {
		return nil, newError(KindValidationFailed, "invalid stock_id format: %q", r.StockID)
	}
	if !r.Type.Valid() {
		return nil, newError(KindValidationFailed, "invalid event type: %q", r.Type)
	}
	if !r.Currency.Valid() {
		return nil, newError(KindValidationFailed, "invalid currency: %q", r.Currency)
	}
	if r.TradeAt.IsZero() {
		return nil, newError(KindValidationFailed, "trade_at is required")
	}
	return &domain.PositionEvent{
		OperationID:     operationID,
		UserID:          userID,
		StockID:         stockID,
		Type:            r.Type,
		TradeAt:         r.TradeAt,
		QuantityBefore:  r.QuantityBefore,
		QuantityAfter:   r.QuantityAfter,
		QuantityDelta:   r.QuantityDelta,
		TotalCostBefore: r.TotalCostBefore,
		TotalCostAfter:  r.TotalCostAfter,
		UnitPrice:       r.UnitPrice,
		Currency:        r.Currency,
		Source:          r.Source,
		AppVersion:      r.AppVersion,
	}, nil
}

// Patch is a correction to a stored event. Nil fields are left untouched.
type Patch struct {
	QuantityBefore  *decimal.Decimal
	QuantityAfter   *decimal.Decimal
	QuantityDelta   *decimal.Decimal
	TotalCostBefore *decimal.Decimal
	TotalCostAfter  *decimal.Decimal
	UnitPrice       *decimal.Decimal
}

func (p Patch) apply(e *domain.PositionEvent) {
	set := func(dst *decimal.Decimal, v *decimal.Decimal) {
		if v != nil {
			*dst = *v
		}
	}
	set(&e.QuantityBefore, p.QuantityBefore)
	set(&e.QuantityAfter, p.QuantityAfter)
	set(&e.QuantityDelta, p.QuantityDelta)
	set(&e.TotalCostBefore, p.TotalCostBefore)
	set(&e.TotalCostAfter, p.TotalCostAfter)
	set(&e.UnitPrice, p.UnitPrice)
}

// Create validates and stores a new event and sets the portfolio entry
// for its stock to the event's quantity_after.
func (s *Synchronizer) Create(ctx context.Context, req CreateRequest) (*domain.PositionEvent, error) {
	event, err := req.event()
	if err != nil {
		return nil, err
	}
	if err := Validate(event); err != nil {
		return nil, err
	}
	if err := s.requireExists(ctx, s.users, event.UserID, KindUserNotFound, "user"); err != nil {
		return nil, err
	}
	if err := s.requireExists(ctx, s.stocks, event.StockID, KindStockNotFound, "stock"); err != nil {
		return nil, err
	}

	event.ID = uuid.New()
	event.CreatedAt = s.now()

	a := s.retry(ctx, "create", slog.String("operation_id", event.OperationID), func(ctx context.Context) attempt {
		return s.createAttempt(ctx, event)
	})
	if a.err != nil {
		return nil, a.err
	}

	s.logger.Info("position event created",
		"event_id", event.ID, "operation_id", event.OperationID, "user_id", event.UserID,
		"stock_id", event.StockID, "type", event.Type, "quantity_delta", event.QuantityDelta)
	s.notify(ctx, a.change)
	return a.event, nil
}

func (s *Synchronizer) createAttempt(ctx context.Context, e *domain.PositionEvent) attempt {
	existing, err := s.events.FindByOperationID(ctx, e.OperationID)
	if err != nil {
		return s.failed(databaseError(err, "look up operation id %q", e.OperationID), "operation_id", e.OperationID)
	}
	if existing != nil {
		s.logger.Warn("duplicate operation id", "operation_id", e.OperationID)
		return terminalAttempt(newError(KindDuplicateOperationID, "operation_id %q already exists", e.OperationID))
	}

	p, err := s.portfolios.FindByUserID(ctx, e.UserID)
	if err != nil {
		return s.failed(databaseError(err, "load portfolio for user %s", e.UserID), "operation_id", e.OperationID)
	}
	if p == nil {
		return terminalAttempt(newError(KindPortfolioNotFound, "portfolio not found for user %s", e.UserID))
	}

	next, a := s.casWrite(ctx, p, e.StockID, e.QuantityAfter)
	if next == nil {
		return a
	}

	if err := s.events.Insert(ctx, e); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperationID) {
			s.logger.Warn("operation id inserted concurrently after portfolio write",
				"operation_id", e.OperationID, "portfolio_id", p.ID, "version", next.Version)
			return terminalAttempt(newError(KindDuplicateOperationID, "operation_id %q already exists", e.OperationID))
		}
		return s.failed(databaseError(err, "insert position event"), "operation_id", e.OperationID)
	}

	return attempt{
		outcome: committed,
		event:   e,
		change:  changeOf(next, e, domain.ChangeCreated),
	}
}

// Update applies a correction to a stored event. Corrections are not
// re-validated. When quantity_after changes, the portfolio entry for the
// event's stock is set to the new value. The event is written first, so
// an event deleted in the meantime fails with NotFound before the
// portfolio is touched. If the portfolio write never lands, the event is
// put back the way it was.
func (s *Synchronizer) Update(ctx context.Context, id uuid.UUID, patch Patch) (*domain.PositionEvent, error) {
	var st updateState
	a := s.retry(ctx, "update", slog.String("event_id", id.String()), func(ctx context.Context) attempt {
		return s.updateAttempt(ctx, id, patch, &st)
	})
	if a.err != nil {
		if st.replaced {
			s.revertEvent(ctx, st.original)
		}
		return nil, a.err
	}
	s.logger.Info("position event updated", "event_id", id)
	s.notify(ctx, a.change)
	return a.event, nil
}

// updateState carries the event as first loaded across retries. Later
// attempts reload an event this update already rewrote.
type updateState struct {
	original *domain.PositionEvent
	replaced bool
}

func (s *Synchronizer) updateAttempt(ctx context.Context, id uuid.UUID, patch Patch, st *updateState) attempt {
	stored, err := s.events.FindByID(ctx, id)
	if err != nil {
		return s.failed(databaseError(err, "load position event %s", id), "event_id", id)
	}
	if stored == nil {
		return terminalAttempt(newError(KindNotFound, "position event %s not found", id))
	}
	if st.original == nil {
		original := *stored
		st.original = &original
	}

	updated := *stored
	patch.apply(&updated)

	if err := s.events.Replace(ctx, &updated); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return terminalAttempt(newError(KindNotFound, "position event %s not found", id))
		}
		return s.failed(databaseError(err, "update position event %s", id), "event_id", id)
	}
	st.replaced = true

	if patch.QuantityAfter == nil || patch.QuantityAfter.Equal(st.original.QuantityAfter) {
		return attempt{outcome: committed, event: &updated}
	}

	p, err := s.portfolios.FindByUserID(ctx, updated.UserID)
	if err != nil {
		return s.failed(databaseError(err, "load portfolio for user %s", updated.UserID), "event_id", id)
	}
	if p == nil {
		return attempt{outcome: committed, event: &updated}
	}
	next, a := s.casWrite(ctx, p, updated.StockID, updated.QuantityAfter)
	if next == nil {
		return a
	}
	return attempt{outcome: committed, event: &updated, change: changeOf(next, &updated, domain.ChangeUpdated)}
}

// revertEvent writes back the event as it was before a failed update.
// It runs even when ctx is already cancelled.
func (s *Synchronizer) revertEvent(ctx context.Context, original *domain.PositionEvent) {
	if err := s.events.Replace(context.WithoutCancel(ctx), original); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("position event deleted before update could be reverted", "event_id", original.ID)
			return
		}
		s.logger.Error("revert position event failed", "event_id", original.ID, "err", err)
		return
	}
	s.logger.Warn("position event update reverted", "event_id", original.ID)
}

// Delete removes an event and sets the portfolio entry for its stock
// back to the event's quantity_before. The rollback is an absolute set
// from this event's own snapshot, so deleting events of one stock out of
// order can overwrite an earlier rollback.
func (s *Synchronizer) Delete(ctx context.Context, id uuid.UUID) error {
	a := s.retry(ctx, "delete", slog.String("event_id", id.String()), func(ctx context.Context) attempt {
		return s.deleteAttempt(ctx, id)
	})
	if a.err != nil {
		return a.err
	}
	s.logger.Info("position event deleted and portfolio rolled back",
		"event_id", id, "quantity", a.event.QuantityBefore)
	s.notify(ctx, a.change)
	return nil
}

func (s *Synchronizer) deleteAttempt(ctx context.Context, id uuid.UUID) attempt {
	e, err := s.events.FindByID(ctx, id)
	if err != nil {
		return s.failed(databaseError(err, "load position event %s", id), "event_id", id)
	}
	if e == nil {
		return terminalAttempt(newError(KindNotFound, "position event %s not found", id))
	}

	p, err := s.portfolios.FindByUserID(ctx, e.UserID)
	if err != nil {
		return s.failed(databaseError(err, "load portfolio for user %s", e.UserID), "event_id", id)
	}

	var change *domain.PortfolioChange
	if p != nil {
		next, a := s.casWrite(ctx, p, e.StockID, e.QuantityBefore)
		if next == nil {
			return a
		}
		change = changeOf(next, e, domain.ChangeDeleted)
	}

	if err := s.events.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return terminalAttempt(newError(KindNotFound, "position event %s not found", id))
		}
		return s.failed(databaseError(err, "delete position event %s", id), "event_id", id)
	}
	return attempt{outcome: committed, event: e, change: change}
}

// casWrite sets qty on a copy of p and writes it only if the stored
// version still equals p.Version. It returns the written portfolio, or
// nil together with the attempt to report.
func (s *Synchronizer) casWrite(ctx context.Context, p *domain.Portfolio, stockID uuid.UUID, qty decimal.Decimal) (*domain.Portfolio, attempt) {
	next := p.Clone()
	next.SetQuantity(stockID, qty)
	next.Version = p.Version + 1
	next.LastUpdated = s.now()

	matched, err := s.portfolios.UpdateIfVersion(ctx, p.ID, p.Version, next.Stocks, next.LastUpdated, next.Version)
	if err != nil {
		return nil, s.failed(databaseError(err, "update portfolio %s", p.ID), "portfolio_id", p.ID)
	}
	if matched == 0 {
		return nil, attempt{outcome: conflict}
	}
	return next, attempt{}
}

func (s *Synchronizer) requireExists(ctx context.Context, c ExistenceChecker, id uuid.UUID, kind ErrorKind, what string) error {
	ok, err := c.Exists(ctx, id)
	if err != nil {
		s.logger.Error("existence check failed", "entity", what, "id", id, "err", err)
		return databaseError(err, "check %s %s", what, id)
	}
	if !ok {
		return newError(kind, "%s with id %s not found", what, id)
	}
	return nil
}

func (s *Synchronizer) failed(err *Error, args ...any) attempt {
	s.logger.Error(err.Message, append(args, "err", err.Err)...)
	return terminalAttempt(err)
}

func (s *Synchronizer) notify(ctx context.Context, change *domain.PortfolioChange) {
	if change == nil {
		return
	}
	if err := s.notifier.Publish(ctx, *change); err != nil {
		s.logger.Warn("publish portfolio change failed",
			"user_id", change.UserID, "event_id", change.EventID, "err", err)
	}
}

func changeOf(p *domain.Portfolio, e *domain.PositionEvent, reason string) *domain.PortfolioChange {
	return &domain.PortfolioChange{
		UserID:      p.UserID,
		PortfolioID: p.ID,
		StockID:     e.StockID,
		EventID:     e.ID,
		Reason:      reason,
		Quantity:    p.Quantity(e.StockID),
		Version:     p.Version,
		Stocks:      p.Stocks,
		ChangedAt:   p.LastUpdated,
	}
}
