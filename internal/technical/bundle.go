package technical

import (
	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/indicator"
)

// Indicator periods used when building a bundle from candles.
const (
	rsiPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	adxPeriod  = 14
)

// BuildBundle derives the indicator series for candles. minutesToExpiry < 0
// means unknown.
func BuildBundle(candles []domain.Candle, strike, minutesToExpiry float64) Bundle {
	n := len(candles)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	vol := make([]float64, n)
	for i, c := range candles {
		high[i], low[i], closes[i], vol[i] = c.High, c.Low, c.Close, c.Volume
	}

	b := Bundle{
		Strike: strike,
		Prices: closes,
		RSI:    indicator.RSI(closes, rsiPeriod),
		VWAP:   indicator.VWAP(high, low, closes, vol),
	}
	if px, ok := indicator.Last(closes); ok {
		b.Price = px
	}
	if minutesToExpiry >= 0 {
		m := minutesToExpiry
		b.MinutesToExpiry = &m
	}

	macd := indicator.MACD(closes, macdFast, macdSlow, macdSignal)
	b.MACD, b.MACDSignal, b.MACDHist = macd.Line, macd.Signal, macd.Histogram

	if adx, plus, minus, ok := indicator.ADX(high, low, closes, adxPeriod).Last(); ok {
		b.Trend = &Trend{ADX: adx, PlusDI: plus, MinusDI: minus}
	}
	return b
}
