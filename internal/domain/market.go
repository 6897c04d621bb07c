package domain

import (
	"strings"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusActive    MarketStatus = "active"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusSettled   MarketStatus = "settled"
	MarketStatusFinalized MarketStatus = "finalized"
)

// Tradable reports whether new orders may be placed in the market.
func (s MarketStatus) Tradable() bool {
	return s == MarketStatusOpen || s == MarketStatusActive
}

// Cadence is the settlement cycle of a market series.
type Cadence string

const (
	Cadence15m Cadence = "15m"
	Cadence1h  Cadence = "1h"
)

// BucketWidth returns the period bucket width used for rate limiting.
func (c Cadence) BucketWidth() time.Duration {
	if c == Cadence15m {
		return 15 * time.Minute
	}
	return time.Hour
}

// MarketSnapshot is the boundary view of a market returned by the exchange.
type MarketSnapshot struct {
	Ticker    string
	Series    string
	Title     string
	Status    MarketStatus
	Strike    float64
	OpenTime  time.Time
	CloseTime time.Time
	YesBid    float64
	YesAsk    float64
	NoBid     float64
	NoAsk     float64
	// Result is "yes" or "no" once the market has settled.
	Result string
}

// ClosedAt reports whether the market close time has passed at now.
func (m MarketSnapshot) ClosedAt(now time.Time) bool {
	return !m.CloseTime.IsZero() && !now.Before(m.CloseTime)
}

// MinutesToClose returns the minutes remaining until close, or -1 when the
// close time is unknown.
func (m MarketSnapshot) MinutesToClose(now time.Time) float64 {
	if m.CloseTime.IsZero() {
		return -1
	}
	return m.CloseTime.Sub(now).Minutes()
}

// Winner returns the settled side, if any.
func (m MarketSnapshot) Winner() (Side, bool) {
	switch strings.ToLower(m.Result) {
	case "yes":
		return SideYes, true
	case "no":
		return SideNo, true
	}
	return "", false
}

// Quote is the current ask for both sides of a market.
type Quote struct {
	Ticker string
	YesAsk float64
	NoAsk  float64
	Time   time.Time
}

// Candle is one OHLCV bar from the price feed.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
