package kalshi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// Market is a market as returned by the Kalshi REST API. Prices are reported
// both as integer cents and, on newer API versions, as dollar strings.
type Market struct {
	Ticker       string `json:"ticker"`
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Title        string `json:"title"`
	Status       string `json:"status"`

	YesBid        int64  `json:"yes_bid"`
	YesAsk        int64  `json:"yes_ask"`
	NoBid         int64  `json:"no_bid"`
	NoAsk         int64  `json:"no_ask"`
	YesBidDollars string `json:"yes_bid_dollars"`
	YesAskDollars string `json:"yes_ask_dollars"`
	NoBidDollars  string `json:"no_bid_dollars"`
	NoAskDollars  string `json:"no_ask_dollars"`

	StrikeType  string   `json:"strike_type"`
	FloorStrike *float64 `json:"floor_strike"`
	CapStrike   *float64 `json:"cap_strike"`
	Result      string   `json:"result"`
	OpenTime    string   `json:"open_time"`
	CloseTime   string   `json:"close_time"`
}

// ToSnapshot converts the wire market into the domain boundary type.
func (m Market) ToSnapshot() domain.MarketSnapshot {
	s := domain.MarketSnapshot{
		Ticker: m.Ticker,
		Series: m.SeriesTicker,
		Title:  m.Title,
		Status: domain.MarketStatus(m.Status),
		YesBid: price(m.YesBidDollars, m.YesBid),
		YesAsk: price(m.YesAskDollars, m.YesAsk),
		NoBid:  price(m.NoBidDollars, m.NoBid),
		NoAsk:  price(m.NoAskDollars, m.NoAsk),
		Result: m.Result,
	}
	switch {
	case m.FloorStrike != nil:
		s.Strike = *m.FloorStrike
	case m.CapStrike != nil:
		s.Strike = *m.CapStrike
	}
	s.OpenTime = parseTime(m.OpenTime)
	s.CloseTime = parseTime(m.CloseTime)
	return s
}

// Orderbook is the REST orderbook payload. Only bids are published; each
// side's asks are implied by the other side's bids.
type Orderbook struct {
	Yes        []Level `json:"yes"`
	No         []Level `json:"no"`
	YesDollars []Level `json:"yes_dollars"`
	NoDollars  []Level `json:"no_dollars"`
}

// ToDomain converts the wire orderbook, preferring dollar-denominated levels.
func (o Orderbook) ToDomain(ticker string, ts time.Time) domain.Orderbook {
	yes, no := o.YesDollars, o.NoDollars
	if len(yes) == 0 && len(no) == 0 {
		yes, no = o.Yes, o.No
	}
	return domain.Orderbook{
		Ticker:    ticker,
		YesBids:   levels(yes),
		NoBids:    levels(no),
		Timestamp: ts,
	}
}

func levels(in []Level) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.PriceLevel{Price: l.Price, Size: l.Quantity})
	}
	return out
}

// Level is one orderbook level. The API encodes levels as [price, quantity]
// arrays where price is integer cents or a dollar string; the object form
// {"price":..,"quantity":..} is also accepted. Price is stored in dollars.
type Level struct {
	Price    float64
	Quantity float64
}

// UnmarshalJSON decodes either level encoding.
func (l *Level) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(b, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("kalshi: level has %d elements", len(pair))
		}
		p, err := decodePrice(pair[0])
		if err != nil {
			return err
		}
		var q json.Number
		if err := json.Unmarshal(pair[1], &q); err != nil {
			return fmt.Errorf("kalshi: level quantity: %w", err)
		}
		qty, _ := q.Float64()
		l.Price, l.Quantity = p, qty
		return nil
	}
	var obj struct {
		Price    json.RawMessage `json:"price"`
		Quantity float64         `json:"quantity"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	p, err := decodePrice(obj.Price)
	if err != nil {
		return err
	}
	l.Price, l.Quantity = p, obj.Quantity
	return nil
}

// decodePrice reads a price that is either a dollar string or integer cents.
func decodePrice(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, fmt.Errorf("kalshi: price %q: %w", s, err)
		}
		return d.InexactFloat64(), nil
	}
	var cents int64
	if err := json.Unmarshal(raw, &cents); err != nil {
		return 0, fmt.Errorf("kalshi: price %s: %w", raw, err)
	}
	return centsToDollars(cents), nil
}

// CreateOrder is the body of POST /portfolio/orders.
type CreateOrder struct {
	Ticker            string `json:"ticker"`
	ClientOrderID     string `json:"client_order_id,omitempty"`
	Action            string `json:"action"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	Count             int    `json:"count"`
	YesPriceDollars   string `json:"yes_price_dollars,omitempty"`
	NoPriceDollars    string `json:"no_price_dollars,omitempty"`
	BuyMaxCost        *int64 `json:"buy_max_cost,omitempty"`
	SellPositionFloor *int64 `json:"sell_position_floor,omitempty"`
}

// Order is the order object returned by the API.
type Order struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"`
	Action         string `json:"action"`
	Side           string `json:"side"`
	TakerFillCount int    `json:"taker_fill_count"`
	MakerFillCount int    `json:"maker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	MakerFillCost  int64  `json:"maker_fill_cost"`
	TakerFees      int64  `json:"taker_fees"`
	MakerFees      int64  `json:"maker_fees"`
	RemainingCount int    `json:"remaining_count"`
}

// ToResult converts the wire order into a domain order result.
func (o Order) ToResult() domain.OrderResult {
	filled := o.TakerFillCount + o.MakerFillCount
	r := domain.OrderResult{
		OrderID:     o.OrderID,
		Status:      domain.OrderStatus(o.Status),
		FilledCount: filled,
		FeesPaid:    centsToDollars(o.TakerFees + o.MakerFees),
	}
	if filled > 0 {
		cost := decimal.NewFromInt(o.TakerFillCost + o.MakerFillCost)
		r.AvgPrice = cost.Div(decimal.NewFromInt(int64(filled))).Div(decimal.NewFromInt(100)).InexactFloat64()
	}
	return r
}

type orderEnvelope struct {
	Order Order `json:"order"`
}

type balanceResponse struct {
	// Balance is in cents.
	Balance int64 `json:"balance"`
}

// APIError is a non-2xx response from the Kalshi API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("kalshi: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("kalshi: HTTP %d: %s (%s)", e.Status, e.Message, e.Code)
}

// ErrorCode returns the machine-readable error code.
func (e *APIError) ErrorCode() string { return e.Code }

// parseAPIError decodes both {"error":{"code","message"}} and the flat
// {"code","message"} shapes.
func parseAPIError(status int, body []byte) *APIError {
	var nested struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	e := &APIError{Status: status}
	if err := json.Unmarshal(body, &nested); err != nil {
		e.Message = string(bytes.TrimSpace(body))
		return e
	}
	e.Code, e.Message = nested.Error.Code, nested.Error.Message
	if e.Code == "" && e.Message == "" {
		e.Code, e.Message = nested.Code, nested.Message
	}
	return e
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

type wsEnvelope struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type wsSnapshot struct {
	Ticker     string  `json:"market_ticker"`
	Yes        []Level `json:"yes"`
	No         []Level `json:"no"`
	YesDollars []Level `json:"yes_dollars"`
	NoDollars  []Level `json:"no_dollars"`
}

type wsDelta struct {
	Ticker       string  `json:"market_ticker"`
	Price        int64   `json:"price"`
	PriceDollars string  `json:"price_dollars"`
	Delta        float64 `json:"delta"`
	Side         string  `json:"side"`
}

type wsCommand struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"`
	Params wsSubscribeArgs `json:"params"`
}

type wsSubscribeArgs struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

func centsToDollars(c int64) float64 {
	return decimal.New(c, -2).InexactFloat64()
}

// price prefers the dollar string and falls back to cents.
func price(dollars string, cents int64) float64 {
	if dollars != "" {
		if d, err := decimal.NewFromString(dollars); err == nil {
			return d.InexactFloat64()
		}
	}
	return centsToDollars(cents)
}

// dollarString renders p as the fixed-point dollar string the API expects.
func dollarString(p float64) string {
	return decimal.NewFromFloat(p).Round(4).StringFixed(4)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
