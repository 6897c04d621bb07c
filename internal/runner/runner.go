// Package runner drives the per-asset trading cycle: cleanup, market and
// quote selection, decision, exits and entry.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/executor"
	"github.com/alanyoungcy/kalshibot/internal/exit"
	"github.com/alanyoungcy/kalshibot/internal/technical"
)

// Exchange is the exchange surface the runner reads from. Orders go through
// the executor.
type Exchange interface {
	ListMarkets(ctx context.Context, series, status string) ([]domain.MarketSnapshot, error)
	GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error)
	GetOrderbook(ctx context.Context, ticker string) (domain.Orderbook, error)
}

// PriceFeed supplies underlying candles, oldest first.
type PriceFeed interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// QuoteCache is a live quote source preferred over REST.
type QuoteCache interface {
	Quote(ticker string, maxAge time.Duration, now time.Time) (domain.Quote, bool)
}

// Subscriber registers tickers with a live feed.
type Subscriber interface {
	Subscribe(ctx context.Context, tickers []string) error
}

// settlementSink is implemented by simulated exchanges that must credit
// settlement payouts themselves.
type settlementSink interface {
	Settle(ticker string, winner domain.Side) float64
}

// Config describes one runner.
type Config struct {
	Asset    string
	Symbol   string
	Series   string
	Cadence  domain.Cadence
	Strategy domain.StrategyType
	Quantity int

	PollInterval   time.Duration
	CandleInterval string
	CandleLimit    int
	// MinEdge is the arbitrage margin required below $1 after fees.
	MinEdge      float64
	QuoteMaxAge  time.Duration
	StaleAfter   time.Duration
	SummaryEvery int
	LockTTL      time.Duration
	// Monitor evaluates decisions and exits without placing orders.
	Monitor bool
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.CandleInterval == "" {
		c.CandleInterval = "1m"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 100
	}
	if c.QuoteMaxAge <= 0 {
		c.QuoteMaxAge = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Hour
	}
	if c.SummaryEvery <= 0 {
		c.SummaryEvery = 30
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 3 * c.PollInterval
	}
	if c.Quantity <= 0 {
		c.Quantity = 1
	}
	if c.Cadence == "" {
		c.Cadence = domain.Cadence15m
	}
	if c.Strategy == "" {
		c.Strategy = domain.StrategyTechnical
	}
	return c
}

// Deps are the collaborators of a runner. Quotes, Subscriber and Locker are
// optional.
type Deps struct {
	Exchange   Exchange
	Feed       PriceFeed
	Executor   *executor.Executor
	Engine     *technical.Engine
	Exits      *exit.Evaluator
	Fees       domain.FeeModel
	Quotes     QuoteCache
	Subscriber Subscriber
	Locker     domain.LockManager
	Logger     *slog.Logger
}

// Runner owns one asset's ledger through its executor and runs its cycles
// sequentially.
type Runner struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	cycles     atomic.Int64
	subscribed map[string]bool
}

// New creates a runner.
func New(cfg Config, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:        cfg.withDefaults(),
		deps:       deps,
		log:        logger.With(slog.String("component", "runner"), slog.String("asset", cfg.Asset)),
		subscribed: make(map[string]bool),
	}
}

// Asset returns the configured asset name.
func (r *Runner) Asset() string { return r.cfg.Asset }

// Positions returns the runner's open ledger entries.
func (r *Runner) Positions() []*domain.MultiLegPosition {
	return r.deps.Executor.Ledger().ListOpen()
}

// Cycles returns the number of completed cycles.
func (r *Runner) Cycles() int64 { return r.cycles.Load() }

// Run executes cycles on the poll interval until ctx is done. With a Locker
// configured the runner holds a per-asset lease and stops if it is lost.
func (r *Runner) Run(ctx context.Context) error {
	var lease domain.Lease
	if r.deps.Locker != nil {
		l, err := r.deps.Locker.Acquire(ctx, "runner:"+r.cfg.Asset, r.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("runner %s: acquire lock: %w", r.cfg.Asset, err)
		}
		lease = l
		defer lease.Release()
	}

	r.log.InfoContext(ctx, "runner started",
		slog.String("series", r.cfg.Series),
		slog.String("strategy", string(r.cfg.Strategy)),
		slog.Duration("poll", r.cfg.PollInterval),
		slog.Bool("monitor", r.cfg.Monitor),
	)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if lease != nil {
			if err := lease.Refresh(ctx, r.cfg.LockTTL); err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					return fmt.Errorf("runner %s: lock lost: %w", r.cfg.Asset, err)
				}
				r.log.WarnContext(ctx, "lock refresh failed", slog.String("error", err.Error()))
			}
		}
		if err := r.Cycle(ctx); err != nil && ctx.Err() == nil {
			r.log.WarnContext(ctx, "cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			r.log.Info("runner stopped", slog.Int64("cycles", r.Cycles()))
			return nil
		case <-ticker.C:
		}
	}
}
