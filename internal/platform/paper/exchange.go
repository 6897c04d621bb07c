// Package paper simulates order execution against live market data. Reads
// go to the real exchange; orders fill in memory.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// MarketData is the read side of the exchange.
type MarketData interface {
	ListMarkets(ctx context.Context, series, status string) ([]domain.MarketSnapshot, error)
	GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error)
	GetOrderbook(ctx context.Context, ticker string) (domain.Orderbook, error)
}

// Error is a simulated exchange rejection.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return "paper: " + e.Message + " (" + e.Code + ")" }

// ErrorCode returns the rejection code.
func (e *Error) ErrorCode() string { return e.Code }

// Exchange fills buys at their limit price when the book offers it and sells
// at the best bid, tracking cash and holdings in memory.
type Exchange struct {
	data MarketData
	fees domain.FeeModel

	mu       sync.Mutex
	balance  float64
	holdings map[string]map[domain.Side]int
}

// New returns a paper exchange with the given starting cash.
func New(data MarketData, balance float64, fees domain.FeeModel) *Exchange {
	return &Exchange{
		data:     data,
		fees:     fees,
		balance:  balance,
		holdings: make(map[string]map[domain.Side]int),
	}
}

func (x *Exchange) ListMarkets(ctx context.Context, series, status string) ([]domain.MarketSnapshot, error) {
	return x.data.ListMarkets(ctx, series, status)
}

func (x *Exchange) GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error) {
	return x.data.GetMarket(ctx, ticker)
}

func (x *Exchange) GetOrderbook(ctx context.Context, ticker string) (domain.Orderbook, error) {
	return x.data.GetOrderbook(ctx, ticker)
}

// GetBalance returns the simulated cash balance.
func (x *Exchange) GetBalance(context.Context) (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.balance, nil
}

// Holding returns the simulated contract count held on one side of ticker.
func (x *Exchange) Holding(ticker string, side domain.Side) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.holdings[ticker][side]
}

// PlaceOrder simulates an immediate-or-cancel fill.
func (x *Exchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Count <= 0 {
		return domain.OrderResult{}, fmt.Errorf("paper: count %d: %w", req.Count, domain.ErrInvalidOrder)
	}
	book, err := x.data.GetOrderbook(ctx, req.Ticker)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper: orderbook %s: %w", req.Ticker, err)
	}
	id := "paper-" + uuid.NewString()

	if req.Action == domain.ActionBuy {
		return x.buy(id, req, book)
	}
	return x.sell(id, req, book)
}

func (x *Exchange) buy(id string, req domain.OrderRequest, book domain.Orderbook) (domain.OrderResult, error) {
	ask, ok := book.BestAsk(req.Side)
	if !ok || (req.Kind == domain.OrderKindLimit && ask > req.Price+1e-9) {
		return domain.OrderResult{OrderID: id, Status: domain.OrderStatusCanceled}, nil
	}
	count := req.Count
	if depth := int(book.AskDepth(req.Side)); depth < count {
		count = depth
	}
	if count <= 0 {
		return domain.OrderResult{OrderID: id, Status: domain.OrderStatusCanceled}, nil
	}

	value := ask * float64(count)
	fee := x.fees.Fee(value)

	x.mu.Lock()
	defer x.mu.Unlock()
	if value+fee > x.balance {
		return domain.OrderResult{}, &Error{Code: "insufficient_balance", Message: fmt.Sprintf("need %.2f, have %.2f", value+fee, x.balance)}
	}
	x.balance -= value + fee
	x.hold(req.Ticker)[req.Side] += count
	return domain.OrderResult{
		OrderID:     id,
		Status:      domain.OrderStatusExecuted,
		FilledCount: count,
		AvgPrice:    ask,
		FeesPaid:    fee,
	}, nil
}

func (x *Exchange) sell(id string, req domain.OrderRequest, book domain.Orderbook) (domain.OrderResult, error) {
	bids := book.YesBids
	if req.Side == domain.SideNo {
		bids = book.NoBids
	}
	var bid float64
	for _, l := range bids {
		if l.Size > 0 && l.Price > bid {
			bid = l.Price
		}
	}
	if bid <= 0 || bid < req.Price {
		return domain.OrderResult{OrderID: id, Status: domain.OrderStatusCanceled}, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	held := x.hold(req.Ticker)[req.Side]
	if held < req.Count {
		return domain.OrderResult{}, &Error{Code: "insufficient_position", Message: fmt.Sprintf("hold %d, selling %d", held, req.Count)}
	}
	value := bid * float64(req.Count)
	fee := x.fees.Fee(value)
	x.balance += value - fee
	x.hold(req.Ticker)[req.Side] = held - req.Count
	return domain.OrderResult{
		OrderID:     id,
		Status:      domain.OrderStatusExecuted,
		FilledCount: req.Count,
		AvgPrice:    bid,
		FeesPaid:    fee,
	}, nil
}

// hold returns the holdings map of ticker. Caller must hold x.mu.
func (x *Exchange) hold(ticker string) map[domain.Side]int {
	h, ok := x.holdings[ticker]
	if !ok {
		h = make(map[domain.Side]int)
		x.holdings[ticker] = h
	}
	return h
}

// Settle pays out the winning side of a settled market and drops the
// market's holdings.
func (x *Exchange) Settle(ticker string, winner domain.Side) float64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	payout := float64(x.holdings[ticker][winner])
	x.balance += payout
	delete(x.holdings, ticker)
	return payout
}
