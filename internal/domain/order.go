package domain

import "time"

// Side is one outcome of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Action indicates whether an order buys or sells contracts.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// OrderKind is the exchange order type.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// OrderStatus tracks the order lifecycle as reported by the exchange.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusResting  OrderStatus = "resting"
	OrderStatusExecuted OrderStatus = "executed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusFailed   OrderStatus = "failed"
)

// OrderRequest is a single order sent to the exchange.
type OrderRequest struct {
	ClientOrderID string
	Ticker        string
	Action        Action
	Side          Side
	Count         int
	Kind          OrderKind
	// Price is the limit (or worst acceptable) price per contract in dollars.
	Price float64
}

// OrderResult is the exchange's answer to an order placement.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledCount int
	// AvgPrice is the average fill price per contract in dollars.
	AvgPrice float64
	FeesPaid float64
}

// Filled reports whether at least one contract was executed.
func (r OrderResult) Filled() bool {
	return r.FilledCount > 0 || r.Status == OrderStatusExecuted
}

// AttemptStatus is the outcome recorded for an order attempt.
type AttemptStatus string

const (
	AttemptFilled   AttemptStatus = "filled"
	AttemptFailed   AttemptStatus = "failed"
	AttemptRejected AttemptStatus = "rejected"
)

// OrderAttempt is the structured record written for every order the bot
// tries to place, successful or not.
type OrderAttempt struct {
	ID        string
	Time      time.Time
	Ticker    string
	Series    string
	Side      Side
	Action    Action
	Quantity  int
	Price     float64
	OrderID   string
	Status    AttemptStatus
	Cost      float64
	Fees      float64
	Strategy  StrategyType
	ErrorCode string
	Error     string
}
