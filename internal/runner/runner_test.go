package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/executor"
	"github.com/alanyoungcy/kalshibot/internal/exit"
	"github.com/alanyoungcy/kalshibot/internal/ledger"
	"github.com/alanyoungcy/kalshibot/internal/technical"
)

var testNow = time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC)

// bookFor builds a book whose derived asks are yesAsk and noAsk.
func bookFor(yesAsk, noAsk float64) domain.Orderbook {
	return domain.Orderbook{
		YesBids: []domain.PriceLevel{{Price: 1 - noAsk, Size: 500}},
		NoBids:  []domain.PriceLevel{{Price: 1 - yesAsk, Size: 500}},
	}
}

type fakeExchange struct {
	mu      sync.Mutex
	markets map[string]domain.MarketSnapshot
	listed  []string
	books   map[string]domain.Orderbook
	orders  []domain.OrderRequest
	listErr error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		markets: map[string]domain.MarketSnapshot{},
		books:   map[string]domain.Orderbook{},
	}
}

func (f *fakeExchange) addMarket(ticker string, closeIn time.Duration, yesAsk, noAsk float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[ticker] = domain.MarketSnapshot{
		Ticker:    ticker,
		Series:    "KXBTC15M",
		Status:    domain.MarketStatusActive,
		Strike:    100,
		CloseTime: testNow.Add(closeIn),
	}
	f.listed = append(f.listed, ticker)
	f.books[ticker] = bookFor(yesAsk, noAsk)
}

func (f *fakeExchange) setBook(ticker string, yesAsk, noAsk float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[ticker] = bookFor(yesAsk, noAsk)
}

func (f *fakeExchange) ListMarkets(context.Context, string, string) ([]domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.MarketSnapshot, 0, len(f.listed))
	for _, t := range f.listed {
		out = append(out, f.markets[t])
	}
	return out, nil
}

func (f *fakeExchange) GetMarket(_ context.Context, ticker string) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[ticker]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeExchange) GetOrderbook(_ context.Context, ticker string) (domain.Orderbook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[ticker]
	if !ok {
		return domain.Orderbook{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeExchange) GetBalance(context.Context) (float64, error) { return 1000, nil }

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	price := req.Price
	if req.Action == domain.ActionSell {
		price, _ = f.books[req.Ticker].BestAsk(req.Side)
	}
	return domain.OrderResult{
		OrderID:     "ord-" + req.ClientOrderID,
		Status:      domain.OrderStatusExecuted,
		FilledCount: req.Count,
		AvgPrice:    price,
	}, nil
}

func (f *fakeExchange) orderCount(action domain.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.orders {
		if o.Action == action {
			n++
		}
	}
	return n
}

type fakeFeed struct {
	mu     sync.Mutex
	closes []float64
}

func (f *fakeFeed) set(closes ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = closes
}

func (f *fakeFeed) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Candle, len(f.closes))
	for i, c := range f.closes {
		out[i] = domain.Candle{OpenTime: testNow.Add(time.Duration(i-len(f.closes)) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out, nil
}

type fixture struct {
	ex     *fakeExchange
	feed   *fakeFeed
	ledger *ledger.Ledger
	runner *Runner
	now    time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	fx := &fixture{ex: newFakeExchange(), feed: &fakeFeed{}, now: testNow}
	fx.feed.set(100, 100, 100)
	fx.ledger = ledger.New(ledger.Limits{Arbitrage: 3, Technical: 1}, ledger.WithClock(func() time.Time { return fx.now }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fees := domain.FeeModel{TakerRate: 0.007}
	exec := executor.New(fx.ex, fx.ledger, nil, executor.Config{
		MaxRetries:         3,
		MinMinutesToExpiry: 2,
		Fees:               fees,
	}, logger)
	exitParams := exit.DefaultParams()
	exitParams.Fees = fees
	fx.runner = New(cfg, Deps{
		Exchange: fx.ex,
		Feed:     fx.feed,
		Executor: exec,
		Engine:   technical.NewEngine(technical.DefaultParams()),
		Exits:    exit.NewEvaluator(exitParams),
		Fees:     fees,
		Logger:   logger,
	})
	return fx
}

func arbConfig() Config {
	return Config{
		Asset:    "BTC",
		Symbol:   "BTCUSDT",
		Series:   "KXBTC15M",
		Cadence:  domain.Cadence15m,
		Strategy: domain.StrategyArbitrage,
		Quantity: 10,
		MinEdge:  0.02,
	}
}

func TestCycleOpensArbitrageOnEarliestMarket(t *testing.T) {
	fx := newFixture(t, arbConfig())
	fx.ex.addMarket("LATE", 29*time.Minute, 0.45, 0.50)
	fx.ex.addMarket("SOON", 14*time.Minute, 0.45, 0.50)

	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	pos, ok := fx.ledger.Get("SOON")
	if !ok || pos.Yes == nil || pos.No == nil {
		t.Fatalf("position = %+v, %v", pos, ok)
	}
	if pos.Reference != 100 {
		t.Fatalf("reference = %v, want 100", pos.Reference)
	}
	if _, ok := fx.ledger.Get("LATE"); ok {
		t.Fatal("later market must not be traded")
	}

	// Second cycle: the entry is rejected as existing and nothing is closed.
	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := fx.ex.orderCount(domain.ActionBuy); got != 2 {
		t.Fatalf("buy orders = %d, want 2", got)
	}
	if got := fx.ex.orderCount(domain.ActionSell); got != 0 {
		t.Fatalf("sell orders = %d, want 0", got)
	}
	if fx.runner.Cycles() != 2 {
		t.Fatalf("cycles = %d", fx.runner.Cycles())
	}
}

func TestCycleSkipsPricedOutGap(t *testing.T) {
	fx := newFixture(t, arbConfig())
	fx.ex.addMarket("M1", 14*time.Minute, 0.49, 0.50)

	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fx.ledger.Len() != 0 || fx.ex.orderCount(domain.ActionBuy) != 0 {
		t.Fatal("pair cost above 1-edge must not trade")
	}
}

func TestMonitorModePlacesNoOrders(t *testing.T) {
	cfg := arbConfig()
	cfg.Monitor = true
	fx := newFixture(t, cfg)
	fx.ex.addMarket("M1", 14*time.Minute, 0.45, 0.50)

	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fx.ex.orders) != 0 || fx.ledger.Len() != 0 {
		t.Fatal("monitor mode placed orders")
	}
}

func TestCycleExitsOnVolatilityTier(t *testing.T) {
	fx := newFixture(t, arbConfig())
	fx.ex.addMarket("M1", 14*time.Minute, 0.45, 0.50)
	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Yes reprices up and the underlying moves 0.3% from the entry reference.
	fx.ex.setBook("M1", 0.60, 0.45)
	fx.feed.set(100, 100.1, 100.3)
	fx.now = fx.now.Add(time.Minute)
	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := fx.ex.orderCount(domain.ActionSell); got != 2 {
		t.Fatalf("sell orders = %d, want 2", got)
	}
	if len(fx.runner.Positions()) != 0 {
		t.Fatalf("open positions = %d, want 0", len(fx.runner.Positions()))
	}
}

func TestCycleRunsExitsWhenSelectedMarketFails(t *testing.T) {
	tests := []struct {
		name string
		fail func(*fakeExchange)
	}{
		{"listing fails", func(f *fakeExchange) {
			f.listErr = errors.New("exchange down")
		}},
		{"one-sided book", func(f *fakeExchange) {
			f.addMarket("SOON", 5*time.Minute, 0.45, 0.50)
			f.mu.Lock()
			f.books["SOON"] = domain.Orderbook{YesBids: []domain.PriceLevel{{Price: 0.40, Size: 10}}}
			f.mu.Unlock()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, arbConfig())
			fx.ex.addMarket("M1", 14*time.Minute, 0.45, 0.50)
			if err := fx.runner.Cycle(context.Background()); err != nil {
				t.Fatal(err)
			}

			tt.fail(fx.ex)
			fx.ex.setBook("M1", 0.60, 0.45)
			fx.feed.set(100, 100.1, 100.3)
			fx.now = fx.now.Add(time.Minute)
			if err := fx.runner.Cycle(context.Background()); err == nil {
				t.Fatal("Cycle returned nil, want market error")
			}

			if got := fx.ex.orderCount(domain.ActionSell); got != 2 {
				t.Fatalf("sell orders = %d, want 2", got)
			}
			if got := fx.ex.orderCount(domain.ActionBuy); got != 2 {
				t.Fatalf("buy orders = %d, want no new entry", got)
			}
		})
	}
}

func TestCleanupSettlesFinishedMarket(t *testing.T) {
	fx := newFixture(t, arbConfig())
	fx.ex.addMarket("M1", 14*time.Minute, 0.45, 0.50)
	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	fx.ex.mu.Lock()
	m := fx.ex.markets["M1"]
	m.Status = domain.MarketStatusSettled
	m.Result = "yes"
	fx.ex.markets["M1"] = m
	fx.ex.listed = nil
	fx.ex.mu.Unlock()
	fx.now = fx.now.Add(20 * time.Minute)

	if err := fx.runner.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := fx.ledger.Get("M1"); ok {
		t.Fatal("settled entry still in ledger")
	}
}

func TestSelectMarketIgnoresClosedAndExpired(t *testing.T) {
	fx := newFixture(t, arbConfig())
	fx.ex.addMarket("PAST", -time.Minute, 0.45, 0.50)
	fx.ex.addMarket("OK", 10*time.Minute, 0.45, 0.50)
	fx.ex.addMarket("HALTED", 5*time.Minute, 0.45, 0.50)
	fx.ex.mu.Lock()
	h := fx.ex.markets["HALTED"]
	h.Status = domain.MarketStatusClosed
	fx.ex.markets["HALTED"] = h
	fx.ex.mu.Unlock()

	m, ok, err := fx.runner.selectMarket(context.Background(), testNow)
	if err != nil || !ok || m.Ticker != "OK" {
		t.Fatalf("selected %q, %v, %v", m.Ticker, ok, err)
	}
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	return nil, domain.ErrLockHeld
}

func TestRunFailsWhenLockHeld(t *testing.T) {
	fx := newFixture(t, arbConfig())
	fx.runner.deps.Locker = heldLocker{}
	err := fx.runner.Run(context.Background())
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

type countingLease struct {
	mu        sync.Mutex
	refreshes int
	released  bool
}

func (l *countingLease) Refresh(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return nil
}

func (l *countingLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
}

type grantLocker struct{ lease *countingLease }

func (g grantLocker) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	return g.lease, nil
}

func TestRunReleasesLeaseOnShutdown(t *testing.T) {
	fx := newFixture(t, arbConfig())
	lease := &countingLease{}
	fx.runner.deps.Locker = grantLocker{lease: lease}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fx.runner.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if lease.refreshes != 1 || !lease.released {
		t.Fatalf("lease = %+v", lease)
	}
}
