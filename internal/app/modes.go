package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/executor"
	"github.com/alanyoungcy/kalshibot/internal/exit"
	"github.com/alanyoungcy/kalshibot/internal/ledger"
	"github.com/alanyoungcy/kalshibot/internal/runner"
	"github.com/alanyoungcy/kalshibot/internal/server"
	"github.com/alanyoungcy/kalshibot/internal/server/handler"
	"github.com/alanyoungcy/kalshibot/internal/service"
	"github.com/alanyoungcy/kalshibot/internal/technical"
)

const (
	modeTrade   = "trade"
	modePaper   = "paper"
	modeMonitor = "monitor"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

// RunMode starts one runner per enabled asset plus the event hub, websocket
// feed and API server, and blocks until ctx is done or a component fails.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	if deps.Stream != nil {
		if err := deps.Stream.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "kalshi websocket unavailable, using REST quotes", slog.String("error", err.Error()))
			deps.Stream, deps.Quotes = nil, nil
		}
	}

	runners := a.buildRunners(deps)
	if len(runners) == 0 {
		return fmt.Errorf("app: no enabled assets")
	}
	a.logger.InfoContext(ctx, "starting runners",
		slog.String("mode", a.cfg.Mode),
		slog.Int("assets", len(runners)),
		slog.Bool("live_quotes", deps.Stream != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Hub.Run(ctx) })
	if deps.EventBus != nil {
		g.Go(func() error { return deps.Hub.Follow(ctx, deps.EventBus, service.EventsChannel) })
	}

	if a.cfg.Server.Enabled {
		srv := a.buildServer(deps, runners)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, r := range runners {
		g.Go(func() error { return r.Run(ctx) })
	}

	return g.Wait()
}

func (a *App) buildServer(deps *Dependencies, runners []*runner.Runner) *server.Server {
	views := make([]handler.Runner, len(runners))
	for i, r := range runners {
		views[i] = r
	}
	var closed handler.ClosedLister
	var attempts domain.AttemptStore
	if deps.Positions != nil {
		closed = deps.Positions
	}
	if deps.Attempts != nil {
		attempts = deps.Attempts
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, views, a.startedAt),
		Positions: handler.NewPositionHandler(views, closed, a.logger),
		Attempts:  handler.NewAttemptHandler(attempts, a.logger),
	}
	cfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}
	if deps.Limiter != nil {
		return server.NewServer(cfg, handlers, deps.Hub, deps.Limiter, a.logger)
	}
	return server.NewServer(cfg, handlers, deps.Hub, nil, a.logger)
}

// buildRunners creates one runner, with its own ledger and executor, per
// enabled asset.
func (a *App) buildRunners(deps *Dependencies) []*runner.Runner {
	fees := domain.FeeModel{TakerRate: a.cfg.Trading.TakerFeeRate}
	engine := technical.NewEngine(technicalParams(a.cfg))
	exits := exit.NewEvaluator(exitParams(a.cfg))

	var out []*runner.Runner
	for _, asset := range a.cfg.EnabledAssets() {
		l := ledger.New(
			ledger.Limits{
				Arbitrage: a.cfg.Trading.MaxArbitragePerPeriod,
				Technical: a.cfg.Trading.MaxTechnicalPerPeriod,
			},
			ledger.WithRetention(a.cfg.Trading.CounterRetention.Duration),
		)
		ex := executor.New(deps.Exchange, l, deps.Journal, executor.Config{
			MaxRetries:         a.cfg.Trading.MaxRetries,
			MinMinutesToExpiry: a.cfg.Trading.MinMinutesToExpiry,
			Fees:               fees,
		}, a.logger)

		rd := runner.Deps{
			Exchange: deps.Exchange,
			Feed:     deps.Feed,
			Executor: ex,
			Engine:   engine,
			Exits:    exits,
			Fees:     fees,
			Logger:   a.logger,
		}
		if deps.Quotes != nil && deps.Stream != nil {
			rd.Quotes = deps.Quotes
			rd.Subscriber = deps.Stream
		}
		if deps.Locker != nil {
			rd.Locker = deps.Locker
		}
		out = append(out, runner.New(runnerConfig(a.cfg, asset), rd))
	}
	return out
}

func runnerConfig(cfg *config.Config, asset config.AssetConfig) runner.Config {
	return runner.Config{
		Asset:          asset.Name,
		Symbol:         asset.Symbol,
		Series:         asset.Series,
		Cadence:        domain.Cadence(asset.Cadence),
		Strategy:       domain.StrategyType(asset.Strategy),
		Quantity:       asset.Quantity,
		PollInterval:   asset.PollInterval.Duration,
		CandleInterval: cfg.PriceFeed.CandleInterval,
		CandleLimit:    cfg.PriceFeed.CandleLimit,
		MinEdge:        cfg.Trading.MinEdge,
		QuoteMaxAge:    cfg.Trading.QuoteMaxAge.Duration,
		StaleAfter:     cfg.Trading.StaleAfter.Duration,
		SummaryEvery:   cfg.Trading.SummaryEvery,
		Monitor:        cfg.Mode == modeMonitor,
	}
}

// technicalParams overlays the configured thresholds on the engine defaults.
func technicalParams(cfg *config.Config) technical.Params {
	p := technical.DefaultParams()
	t := cfg.Technical
	p.StrikeGapPct = t.StrikeGapPct
	p.MinMinutes = t.MinMinutes
	p.MinScore = t.MinScore
	p.MinSignalGap = t.MinSignalGap
	p.Threshold = t.Threshold
	p.StrikeFloor = t.StrikeFloor
	p.TrendMin = t.TrendMin
	p.TrendSpreadMin = t.TrendSpreadMin
	return p
}

func exitParams(cfg *config.Config) exit.Params {
	t := cfg.Trading
	return exit.Params{
		ProfitTarget:      t.ProfitTarget,
		VolatilityTiers:   append([]float64(nil), t.VolatilityTiers...),
		NormalizationBand: t.NormalizationBand,
		StopLossPct:       t.StopLossPct,
		StrikeStopPct:     t.StrikeStopPct,
		Fees:              domain.FeeModel{TakerRate: t.TakerFeeRate},
	}
}
