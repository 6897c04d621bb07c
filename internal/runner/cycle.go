package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/executor"
	"github.com/alanyoungcy/kalshibot/internal/ledger"
	"github.com/alanyoungcy/kalshibot/internal/technical"
)

func (r *Runner) ledger() *ledger.Ledger { return r.deps.Executor.Ledger() }

// Cycle runs one pass: cleanup, market selection and quote, candles,
// decision, exits for every open position, then entry. Failures inside a
// step are logged. A failed market listing or quote skips the entry and is
// returned after exits have run.
func (r *Runner) Cycle(ctx context.Context) error {
	defer func() {
		if n := r.cycles.Add(1); n%int64(r.cfg.SummaryEvery) == 0 {
			r.logSummary(ctx)
		}
	}()
	now := r.ledger().Now()

	r.cleanup(ctx)

	market, found, marketErr := r.selectMarket(ctx, now)

	var quote domain.Quote
	if found {
		r.subscribe(ctx, market.Ticker)
		var err error
		if quote, err = r.quote(ctx, market.Ticker, now); err != nil {
			marketErr = fmt.Errorf("runner: quote %s: %w", market.Ticker, err)
			quote, found = domain.Quote{}, false
		}
	}

	candles, err := r.deps.Feed.Candles(ctx, r.cfg.Symbol, r.cfg.CandleInterval, r.cfg.CandleLimit)
	if err != nil {
		r.log.WarnContext(ctx, "candles unavailable", slog.String("symbol", r.cfg.Symbol), slog.String("error", err.Error()))
		candles = nil
	}
	closes := closesOf(candles)

	var entry *executor.Request
	if found {
		entry = r.decide(ctx, market, quote, candles, closes, now)
	}

	r.evaluateExits(ctx, quote, closes, now)

	if marketErr != nil {
		return marketErr
	}
	if entry != nil {
		r.enter(ctx, *entry)
	} else if !found {
		r.log.DebugContext(ctx, "no open market", slog.String("series", r.cfg.Series))
	}
	return nil
}

// cleanup clears stale entries, settles finished markets and sweeps
// expired counters and retry records.
func (r *Runner) cleanup(ctx context.Context) {
	l := r.ledger()
	for _, rm := range l.CleanupStale(r.cfg.StaleAfter) {
		r.log.WarnContext(ctx, "ledger entry cleared",
			slog.String("ticker", rm.Position.Ticker),
			slog.String("reason", rm.Reason),
			slog.Float64("cost", rm.Position.TotalCost()),
		)
	}

	for _, pos := range l.ListOpen() {
		snap, err := r.deps.Exchange.GetMarket(ctx, pos.Ticker)
		if err != nil {
			r.log.WarnContext(ctx, "market lookup failed", slog.String("ticker", pos.Ticker), slog.String("error", err.Error()))
			continue
		}
		winner, ok := snap.Winner()
		if !ok {
			continue
		}
		if _, settled := r.deps.Executor.Settle(ctx, snap); settled {
			if sink, ok := r.deps.Exchange.(settlementSink); ok {
				sink.Settle(snap.Ticker, winner)
			}
		}
	}

	if n := l.Sweep(); n > 0 {
		r.log.DebugContext(ctx, "ledger swept", slog.Int("dropped", n))
	}
}

// selectMarket picks the tradable market of the series that closes first.
func (r *Runner) selectMarket(ctx context.Context, now time.Time) (domain.MarketSnapshot, bool, error) {
	markets, err := r.deps.Exchange.ListMarkets(ctx, r.cfg.Series, "open")
	if err != nil {
		return domain.MarketSnapshot{}, false, fmt.Errorf("runner: list markets %s: %w", r.cfg.Series, err)
	}
	var (
		best  domain.MarketSnapshot
		found bool
	)
	for _, m := range markets {
		if !m.Status.Tradable() || m.CloseTime.IsZero() || !m.CloseTime.After(now) {
			continue
		}
		if !found || m.CloseTime.Before(best.CloseTime) {
			best, found = m, true
		}
	}
	return best, found, nil
}

func (r *Runner) subscribe(ctx context.Context, ticker string) {
	if r.deps.Subscriber == nil || r.subscribed[ticker] {
		return
	}
	if err := r.deps.Subscriber.Subscribe(ctx, []string{ticker}); err != nil {
		r.log.WarnContext(ctx, "subscribe failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return
	}
	r.subscribed[ticker] = true
}

// quote returns the live cached quote when fresh, else one derived from the
// REST orderbook.
func (r *Runner) quote(ctx context.Context, ticker string, now time.Time) (domain.Quote, error) {
	if r.deps.Quotes != nil {
		if q, ok := r.deps.Quotes.Quote(ticker, r.cfg.QuoteMaxAge, now); ok {
			return q, nil
		}
	}
	book, err := r.deps.Exchange.GetOrderbook(ctx, ticker)
	if err != nil {
		return domain.Quote{}, err
	}
	yes, okYes := book.BestAsk(domain.SideYes)
	no, okNo := book.BestAsk(domain.SideNo)
	if !okYes || !okNo {
		return domain.Quote{}, fmt.Errorf("one-sided book")
	}
	return domain.Quote{Ticker: ticker, YesAsk: yes, NoAsk: no, Time: now}, nil
}

// decide returns the entry request for this cycle, if any.
func (r *Runner) decide(ctx context.Context, m domain.MarketSnapshot, q domain.Quote, candles []domain.Candle, closes []float64, now time.Time) *executor.Request {
	req := executor.Request{
		Ticker:   m.Ticker,
		Series:   r.cfg.Series,
		Cadence:  r.cfg.Cadence,
		YesAsk:   q.YesAsk,
		NoAsk:    q.NoAsk,
		Quantity: r.cfg.Quantity,
		Strategy: r.cfg.Strategy,
		Strike:   m.Strike,
	}
	if len(closes) > 0 {
		req.Reference = closes[len(closes)-1]
	}

	if r.cfg.Strategy == domain.StrategyArbitrage {
		cost := r.deps.Fees.PairCost(q.YesAsk, q.NoAsk)
		if cost >= 1-r.cfg.MinEdge {
			r.log.DebugContext(ctx, "no arbitrage gap",
				slog.String("ticker", m.Ticker),
				slog.Float64("pair_cost", cost),
			)
			return nil
		}
		r.log.InfoContext(ctx, "arbitrage gap",
			slog.String("ticker", m.Ticker),
			slog.Float64("yes_ask", q.YesAsk),
			slog.Float64("no_ask", q.NoAsk),
			slog.Float64("pair_cost", cost),
		)
		req.Mode = domain.ModeTwoLeg
		return &req
	}

	if len(candles) == 0 || m.Strike <= 0 {
		return nil
	}
	d := r.deps.Engine.Decide(technical.BuildBundle(candles, m.Strike, m.MinutesToClose(now)))
	attrs := []any{
		slog.String("ticker", m.Ticker),
		slog.String("action", string(d.Action)),
		slog.Float64("confidence", d.Confidence),
		slog.Float64("bullish_score", d.BullishScore),
		slog.Float64("bearish_score", d.BearishScore),
		slog.String("reason", d.Reason),
	}
	switch d.Action {
	case technical.BuyYes:
		req.Side = domain.SideYes
	case technical.BuyNo:
		req.Side = domain.SideNo
	default:
		r.log.DebugContext(ctx, "technical decision", attrs...)
		return nil
	}
	r.log.InfoContext(ctx, "technical decision", attrs...)
	req.Mode = domain.ModeSingleLeg
	return &req
}

// evaluateExits runs the exit evaluator over every open entry and closes
// what it selects.
func (r *Runner) evaluateExits(ctx context.Context, current domain.Quote, closes []float64, now time.Time) {
	for _, pos := range r.ledger().ListOpen() {
		q := current
		if pos.Ticker != current.Ticker {
			var err error
			if q, err = r.quote(ctx, pos.Ticker, now); err != nil {
				r.log.WarnContext(ctx, "exit quote unavailable", slog.String("ticker", pos.Ticker), slog.String("error", err.Error()))
				continue
			}
		}

		d := r.deps.Exits.Evaluate(pos, q, closes)
		if !d.ShouldClose {
			continue
		}
		log := r.log.With(
			slog.String("ticker", pos.Ticker),
			slog.String("trigger", string(d.Trigger)),
			slog.Float64("profit", d.Profit),
		)
		if r.cfg.Monitor {
			log.InfoContext(ctx, "exit signal (monitor)", slog.String("reason", d.Reason))
			continue
		}
		log.InfoContext(ctx, "exit signal", slog.String("reason", d.Reason))
		res, err := r.deps.Executor.Close(ctx, pos.Ticker, d.Reason, executor.Legs{Yes: d.CloseYes, No: d.CloseNo}, q)
		if err != nil {
			log.WarnContext(ctx, "close failed", slog.String("error", err.Error()), slog.Int("legs_closed", len(res.Closed)))
		}
	}
}

func (r *Runner) enter(ctx context.Context, req executor.Request) {
	log := r.log.With(slog.String("ticker", req.Ticker), slog.String("mode", string(req.Mode)))
	if r.cfg.Monitor {
		log.InfoContext(ctx, "entry signal (monitor)", slog.String("side", string(req.Side)))
		return
	}
	pos, err := r.deps.Executor.Execute(ctx, req)
	if err != nil {
		var ee *domain.ExecError
		if errors.As(err, &ee) && ee.IsRejection() {
			log.InfoContext(ctx, "entry skipped", slog.String("kind", string(ee.Kind)), slog.String("reason", ee.Message))
			return
		}
		log.WarnContext(ctx, "entry failed", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "entry filled",
		slog.String("position_id", pos.ID),
		slog.Float64("cost", pos.TotalCost()),
		slog.Float64("expected_profit", pos.ExpectedProfit()),
	)
}

func (r *Runner) logSummary(ctx context.Context) {
	open := r.ledger().ListOpen()
	var exposure, expected float64
	for _, p := range open {
		exposure += p.TotalCost()
		expected += p.ExpectedProfit()
	}
	r.log.InfoContext(ctx, "position summary",
		slog.Int64("cycle", r.Cycles()),
		slog.Int("open", len(open)),
		slog.Float64("exposure", exposure),
		slog.Float64("expected_profit", expected),
		slog.Int("period_count", r.ledger().PeriodCount(r.cfg.Series, r.cfg.Cadence, r.cfg.Strategy)),
	)
}

func closesOf(candles []domain.Candle) []float64 {
	if len(candles) == 0 {
		return nil
	}
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
