// Package executor validates entry preconditions, places orders on the
// exchange and keeps the runner's ledger in step with confirmed fills.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/ledger"
)

// Exchange is the subset of the exchange API the executor needs.
type Exchange interface {
	GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error)
	GetOrderbook(ctx context.Context, ticker string) (domain.Orderbook, error)
	GetBalance(ctx context.Context) (float64, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
}

// Config holds execution limits.
type Config struct {
	MaxRetries         int
	MinMinutesToExpiry float64
	Fees               domain.FeeModel
}

// Request is an entry order for one market.
type Request struct {
	Ticker   string
	Series   string
	Cadence  domain.Cadence
	YesAsk   float64
	NoAsk    float64
	Quantity int
	Mode     domain.EntryMode
	// Side forces the leg of a single-leg entry; empty buys the cheaper side.
	Side     domain.Side
	Strategy domain.StrategyType
	// Strike overrides the market strike stored on single-leg entries.
	Strike float64
	// Reference is the underlying price at decision time.
	Reference float64
}

func (r Request) sides() []domain.Side {
	if r.Mode == domain.ModeTwoLeg {
		return []domain.Side{domain.SideYes, domain.SideNo}
	}
	if r.Side != "" {
		return []domain.Side{r.Side}
	}
	if r.YesAsk <= r.NoAsk {
		return []domain.Side{domain.SideYes}
	}
	return []domain.Side{domain.SideNo}
}

func (r Request) ask(side domain.Side) float64 {
	if side == domain.SideYes {
		return r.YesAsk
	}
	return r.NoAsk
}

// Executor places entries and exits for a single runner.
type Executor struct {
	ex      Exchange
	ledger  *ledger.Ledger
	journal domain.Journal
	cfg     Config
	logger  *slog.Logger
}

// New creates an Executor. A nil journal discards records.
func New(ex Exchange, l *ledger.Ledger, journal domain.Journal, cfg Config, logger *slog.Logger) *Executor {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Executor{
		ex:      ex,
		ledger:  l,
		journal: journal,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Ledger returns the ledger the executor writes to.
func (e *Executor) Ledger() *ledger.Ledger { return e.ledger }

// Execute validates req and places its legs. On success the new ledger entry
// is returned. Every failure is a *domain.ExecError; rejections leave the
// ledger and counters untouched.
func (e *Executor) Execute(ctx context.Context, req Request) (*domain.MultiLegPosition, error) {
	log := e.logger.With(
		slog.String("ticker", req.Ticker),
		slog.String("strategy", string(req.Strategy)),
		slog.String("mode", string(req.Mode)),
	)

	snap, err := e.precheck(ctx, req, log)
	if err != nil {
		var xe *domain.ExecError
		if errors.As(err, &xe) && xe.IsRejection() {
			log.InfoContext(ctx, "entry rejected", slog.String("kind", string(xe.Kind)), slog.String("reason", xe.Message))
		}
		return nil, err
	}

	strike := req.Strike
	if strike == 0 {
		strike = snap.Strike
	}

	if req.Mode == domain.ModeTwoLeg {
		return e.executeTwoLeg(ctx, req, log)
	}
	return e.executeSingleLeg(ctx, req, strike, log)
}

// precheck runs every entry precondition in order and returns the market
// snapshot used.
func (e *Executor) precheck(ctx context.Context, req Request, log *slog.Logger) (domain.MarketSnapshot, error) {
	if req.Quantity <= 0 {
		return domain.MarketSnapshot{}, domain.Reject(domain.KindInvalidPrice, "quantity %d", req.Quantity)
	}

	snap, err := e.ex.GetMarket(ctx, req.Ticker)
	if err != nil {
		return snap, domain.Wrap(domain.KindCollaborator, fmt.Errorf("executor: market lookup: %w", err))
	}
	now := e.ledger.Now()
	if !snap.Status.Tradable() || snap.ClosedAt(now) {
		e.ledger.ClearRetries(req.Ticker)
		return snap, domain.Reject(domain.KindMarketClosed, "status %s, closes %s", snap.Status, snap.CloseTime.Format("15:04:05"))
	}
	if mins := snap.MinutesToClose(now); mins >= 0 && mins < e.cfg.MinMinutesToExpiry {
		return snap, domain.Reject(domain.KindInsufficientTime, "%.1f min to close (min %.0f)", mins, e.cfg.MinMinutesToExpiry)
	}

	if _, ok := e.ledger.Get(req.Ticker); ok {
		return snap, domain.Reject(domain.KindPositionExists, "ledger entry exists")
	}

	if n := e.ledger.Retries(req.Ticker, req.Cadence); n >= e.cfg.MaxRetries {
		return snap, domain.Reject(domain.KindRetriesExhausted, "%d failed attempts this period", n)
	} else if n > 0 {
		log.InfoContext(ctx, "retrying entry on re-verified market", slog.Int("attempt", n+1))
	}

	if err := e.ledger.CanOpen(req.Ticker, req.Series, req.Cadence, req.Strategy); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return snap, domain.Reject(domain.KindRateLimited, "%s", err.Error())
		}
		return snap, domain.Reject(domain.KindPositionExists, "%s", err.Error())
	}

	sides := req.sides()
	for _, s := range sides {
		if a := req.ask(s); a <= 0 || a >= 1 {
			return snap, domain.Reject(domain.KindInvalidPrice, "%s ask %.4f outside (0,1)", s, a)
		}
	}

	if req.Mode == domain.ModeTwoLeg {
		if pair := e.cfg.Fees.PairCost(req.YesAsk, req.NoAsk); pair >= 1 {
			return snap, domain.Reject(domain.KindInvalidArbitrage, "not a valid arbitrage: %.4f+%.4f with fees = %.4f", req.YesAsk, req.NoAsk, pair)
		}
	}

	if book, err := e.ex.GetOrderbook(ctx, req.Ticker); err != nil {
		log.WarnContext(ctx, "orderbook unavailable, skipping depth check", slog.String("error", err.Error()))
	} else {
		for _, s := range sides {
			if depth := book.AskDepth(s); depth < float64(req.Quantity) {
				return snap, domain.Reject(domain.KindInsufficientLiquidity, "%s depth %.0f < %d", s, depth, req.Quantity)
			}
		}
	}

	var cost float64
	for _, s := range sides {
		cost += e.cfg.Fees.EntryCost(req.ask(s), req.Quantity)
	}
	bal, err := e.ex.GetBalance(ctx)
	switch {
	case err != nil:
		log.WarnContext(ctx, "balance check failed, proceeding", slog.String("error", err.Error()))
	case bal < cost:
		return snap, domain.Reject(domain.KindInsufficientBalance, "balance $%.2f < cost $%.2f", bal, cost)
	}
	return snap, nil
}

type legOutcome struct {
	pos *domain.Position
	err error
}

func (e *Executor) executeTwoLeg(ctx context.Context, req Request, log *slog.Logger) (*domain.MultiLegPosition, error) {
	var yes, no legOutcome
	var g errgroup.Group
	g.Go(func() error {
		yes.pos, yes.err = e.placeLeg(ctx, req, domain.SideYes, 0)
		return nil
	})
	g.Go(func() error {
		no.pos, no.err = e.placeLeg(ctx, req, domain.SideNo, 0)
		return nil
	})
	_ = g.Wait()

	switch {
	case yes.err == nil && no.err == nil:
		return e.open(ctx, req, yes.pos, no.pos, log)

	case yes.err == nil || no.err == nil:
		filled, failed := domain.SideYes, no.err
		if yes.err != nil {
			filled, failed = domain.SideNo, yes.err
		}
		n := e.ledger.RecordFailure(req.Ticker, req.Cadence)
		log.WarnContext(ctx, "partial fill: one-sided exposure left open",
			slog.String("filled", string(filled)),
			slog.String("error", failed.Error()),
			slog.Int("retries", n),
		)
		e.journal.RecordPartialFill(ctx, req.Ticker, filled, failed)
		xe := domain.Wrap(domain.KindPartialFill, failed)
		xe.Message = fmt.Sprintf("%s filled, %s failed: %s", filled, filled.Opposite(), failed.Error())
		return nil, xe

	default:
		n := e.ledger.RecordFailure(req.Ticker, req.Cadence)
		log.WarnContext(ctx, "both legs failed", slog.String("error", yes.err.Error()), slog.Int("retries", n))
		return nil, asOrderFailure(yes.err)
	}
}

func (e *Executor) executeSingleLeg(ctx context.Context, req Request, strike float64, log *slog.Logger) (*domain.MultiLegPosition, error) {
	side := req.sides()[0]
	pos, err := e.placeLeg(ctx, req, side, strike)
	if err != nil {
		n := e.ledger.RecordFailure(req.Ticker, req.Cadence)
		log.WarnContext(ctx, "order failed", slog.String("side", string(side)), slog.String("error", err.Error()), slog.Int("retries", n))
		return nil, asOrderFailure(err)
	}
	if side == domain.SideYes {
		return e.open(ctx, req, pos, nil, log)
	}
	return e.open(ctx, req, nil, pos, log)
}

func (e *Executor) open(ctx context.Context, req Request, yes, no *domain.Position, log *slog.Logger) (*domain.MultiLegPosition, error) {
	pos, err := e.ledger.Open(ledger.OpenRequest{
		Ticker:    req.Ticker,
		Series:    req.Series,
		Cadence:   req.Cadence,
		Strategy:  req.Strategy,
		Mode:      req.Mode,
		Yes:       yes,
		No:        no,
		Reference: req.Reference,
	})
	if err != nil {
		log.ErrorContext(ctx, "filled legs could not be recorded", slog.String("error", err.Error()))
		return nil, domain.Wrap(domain.KindOrderFailed, err)
	}
	log.InfoContext(ctx, "position opened",
		slog.String("status", string(pos.Status)),
		slog.Float64("total_cost", pos.TotalCost()),
		slog.Float64("expected_profit", pos.ExpectedProfit()),
	)
	e.journal.RecordOpen(ctx, pos)
	return pos, nil
}

// placeLeg buys quantity contracts of side at its ask and journals the
// attempt.
func (e *Executor) placeLeg(ctx context.Context, req Request, side domain.Side, strike float64) (*domain.Position, error) {
	price := req.ask(side)
	order := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Ticker:        req.Ticker,
		Action:        domain.ActionBuy,
		Side:          side,
		Count:         req.Quantity,
		Kind:          domain.OrderKindLimit,
		Price:         price,
	}
	attempt := domain.OrderAttempt{
		ID:       order.ClientOrderID,
		Time:     e.ledger.Now(),
		Ticker:   req.Ticker,
		Series:   req.Series,
		Side:     side,
		Action:   domain.ActionBuy,
		Quantity: req.Quantity,
		Price:    price,
		Strategy: req.Strategy,
	}

	res, err := e.ex.PlaceOrder(ctx, order)
	if err == nil {
		e.cancelRemainder(ctx, res)
	}
	if err == nil && !res.Filled() {
		err = fmt.Errorf("order %s not filled (status %s)", res.OrderID, res.Status)
	}
	if err != nil {
		attempt.Status = domain.AttemptFailed
		attempt.OrderID = res.OrderID
		attempt.Error = err.Error()
		var coded domain.CodedError
		if errors.As(err, &coded) {
			attempt.ErrorCode = coded.ErrorCode()
		}
		e.journal.RecordAttempt(ctx, attempt)
		return nil, err
	}

	count := res.FilledCount
	if count <= 0 {
		count = req.Quantity
	}
	fill := res.AvgPrice
	if fill <= 0 {
		fill = price
	}
	fees := res.FeesPaid
	if fees <= 0 {
		fees = e.cfg.Fees.Fee(fill * float64(count))
	}
	pos := &domain.Position{
		Ticker:     req.Ticker,
		Side:       side,
		Count:      count,
		EntryPrice: fill,
		EntryTime:  attempt.Time,
		Fees:       fees,
		Strategy:   req.Strategy,
		Strike:     strike,
		OrderID:    res.OrderID,
	}

	attempt.Status = domain.AttemptFilled
	attempt.OrderID = res.OrderID
	attempt.Quantity = count
	attempt.Price = fill
	attempt.Cost = pos.Cost()
	attempt.Fees = fees
	e.journal.RecordAttempt(ctx, attempt)
	return pos, nil
}

func asOrderFailure(err error) *domain.ExecError {
	var coded domain.CodedError
	if errors.As(err, &coded) {
		return domain.Wrap(domain.KindCollaborator, err)
	}
	return domain.Wrap(domain.KindOrderFailed, err)
}

type nopJournal struct{}

func (nopJournal) RecordAttempt(context.Context, domain.OrderAttempt) {}
func (nopJournal) RecordOpen(context.Context, *domain.MultiLegPosition) {}
func (nopJournal) RecordClose(context.Context, domain.ClosedPosition) {}
func (nopJournal) RecordPartialFill(context.Context, string, domain.Side, error) {}

// canceler is implemented by exchanges that can cancel resting orders.
type canceler interface {
	CancelOrder(ctx context.Context, orderID string) error
}

// cancelRemainder cancels whatever part of a limit buy is still resting.
func (e *Executor) cancelRemainder(ctx context.Context, res domain.OrderResult) {
	if res.Status != domain.OrderStatusResting || res.OrderID == "" {
		return
	}
	c, ok := e.ex.(canceler)
	if !ok {
		return
	}
	if err := c.CancelOrder(ctx, res.OrderID); err != nil {
		e.logger.WarnContext(ctx, "cancel resting order failed",
			slog.String("order_id", res.OrderID),
			slog.String("error", err.Error()),
		)
	}
}
