// Package technical scores indicator signals into a directional trade
// decision for binary strike markets.
package technical

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/kalshibot/internal/indicator"
)

// Action is the outcome of a decision.
type Action string

const (
	BuyYes  Action = "BUY_YES"
	BuyNo   Action = "BUY_NO"
	NoTrade Action = "NO_TRADE"
)

// Trend is a trend-strength reading with its two directional components.
type Trend struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// Bundle is the cycle-scoped input to Decide. Missing series are nil.
type Bundle struct {
	Price  float64
	Strike float64
	// MinutesToExpiry is nil when the close time is unknown.
	MinutesToExpiry *float64

	Prices     []float64
	RSI        []float64
	MACD       []float64
	MACDSignal []float64
	MACDHist   []float64
	VWAP       []float64
	Trend      *Trend
}

// Decision is the result of scoring a Bundle.
type Decision struct {
	Action            Action
	Confidence        float64
	BullishConfidence float64
	BearishConfidence float64
	BullishScore      float64
	BearishScore      float64
	Bullish           []string
	Bearish           []string
	Reason            string
}

// Params holds the tunable thresholds of the engine.
type Params struct {
	// StrikeGapPct is the strike-cross buffer as a percentage of the strike.
	StrikeGapPct      float64
	MinMinutes        float64
	MinScore          float64
	MinSignalGap      int
	Threshold         float64
	StrikeFloor       float64
	VolatilityWindow  int
	VolatilityLowPct  float64
	VolatilityHighPct float64
	TrendMin          float64
	TrendSpreadMin    float64
	DeltaPeriods      int
	DeltaPct          float64
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		StrikeGapPct:      0.015,
		MinMinutes:        5,
		MinScore:          8,
		MinSignalGap:      2,
		Threshold:         0.70,
		StrikeFloor:       0.75,
		VolatilityWindow:  20,
		VolatilityLowPct:  0.05,
		VolatilityHighPct: 0.2,
		TrendMin:          22,
		TrendSpreadMin:    3,
		DeltaPeriods:      3,
		DeltaPct:          0.5,
	}
}

// Engine turns signal bundles into decisions. It holds no mutable state.
type Engine struct {
	p Params
}

// NewEngine creates an Engine with params.
func NewEngine(p Params) *Engine {
	return &Engine{p: p}
}

type direction int

const (
	dirNone direction = iota
	dirBull
	dirBear
)

// tally accumulates the weighted score and signal list of each direction.
type tally struct {
	bull, bear       float64
	bullSig, bearSig []string
}

func (t *tally) add(d direction, pts float64, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if d == dirBull {
		t.bull += pts
		t.bullSig = append(t.bullSig, msg)
		return
	}
	t.bear += pts
	t.bearSig = append(t.bearSig, msg)
}

// Decide scores b and returns the resulting decision. It is a pure function
// of its input.
func (e *Engine) Decide(b Bundle) Decision {
	p := e.p

	trendMult, trendDir := e.trendMultiplier(b.Trend)

	distance := 0.0
	strikeMult := 1.0
	var narrative string
	if b.Strike > 0 && b.Price > 0 {
		distance = indicator.PercentDistance(b.Price, b.Strike)
		strikeMult = strikeMultiplier(math.Abs(distance))
		if distance < 0 {
			narrative = fmt.Sprintf("%.3f%% below strike, needs upward cross", -distance)
		} else {
			narrative = fmt.Sprintf("%.3f%% above strike, needs to hold", distance)
		}
	}

	if b.MinutesToExpiry != nil && *b.MinutesToExpiry < p.MinMinutes {
		return Decision{
			Action: NoTrade,
			Reason: fmt.Sprintf("insufficient time: %.1f min to expiry (min %.0f)", *b.MinutesToExpiry, p.MinMinutes),
		}
	}

	volMult := e.volatilityMultiplier(b)

	var t tally
	strikeDir := dirNone
	otherCross := false

	if b.Strike > 0 {
		gap := p.StrikeGapPct / 100
		up := b.Strike * (1 + gap)
		down := b.Strike * (1 - gap)
		switch {
		case indicator.CrossedAboveLevel(b.Prices, up):
			strikeDir = dirBull
			t.add(dirBull, 8, "price crossed above strike %.2f", b.Strike)
		case indicator.CrossedBelowLevel(b.Prices, down):
			strikeDir = dirBear
			t.add(dirBear, 8, "price crossed below strike %.2f", b.Strike)
		}
	}

	switch {
	case indicator.CrossedAbove(b.MACD, b.MACDSignal):
		otherCross = true
		t.add(dirBull, 5, "MACD crossed above signal")
	case indicator.CrossedBelow(b.MACD, b.MACDSignal):
		otherCross = true
		t.add(dirBear, 5, "MACD crossed below signal")
	case len(b.MACDHist) >= 2:
		h := b.MACDHist[len(b.MACDHist)-1]
		if h > 0 {
			t.add(dirBull, 2, "MACD histogram positive")
		} else if h < 0 {
			t.add(dirBear, 2, "MACD histogram negative")
		}
	}

	switch {
	case indicator.CrossedAbove(b.Prices, b.VWAP):
		otherCross = true
		t.add(dirBull, 5, "price crossed above VWAP")
	case indicator.CrossedBelow(b.Prices, b.VWAP):
		otherCross = true
		t.add(dirBear, 5, "price crossed below VWAP")
	case len(b.VWAP) >= 2 && len(b.Prices) >= 2:
		v := b.VWAP[len(b.VWAP)-1]
		px := b.Prices[len(b.Prices)-1]
		if px > v {
			t.add(dirBull, 2, "price above VWAP")
		} else if px < v {
			t.add(dirBear, 2, "price below VWAP")
		}
	}

	switch {
	case indicator.CrossedAboveLevel(b.RSI, 50):
		otherCross = true
		t.add(dirBull, 4, "RSI crossed above 50")
	case indicator.CrossedBelowLevel(b.RSI, 50):
		otherCross = true
		t.add(dirBear, 4, "RSI crossed below 50")
	case len(b.RSI) >= 2:
		r := b.RSI[len(b.RSI)-1]
		switch {
		case r < 30:
			t.add(dirBull, 3, "RSI oversold %.1f", r)
		case r > 70:
			t.add(dirBear, 3, "RSI overbought %.1f", r)
		case r > 55:
			t.add(dirBull, 1, "RSI bullish %.1f", r)
		case r < 45:
			t.add(dirBear, 1, "RSI bearish %.1f", r)
		}
	}

	if d, ok := indicator.Delta(b.Prices, p.DeltaPeriods); ok {
		if d > p.DeltaPct {
			t.add(dirBull, 2, "%d-period delta %+.2f%%", p.DeltaPeriods, d)
		} else if d < -p.DeltaPct {
			t.add(dirBear, 2, "%d-period delta %+.2f%%", p.DeltaPeriods, d)
		}
	}

	dec := Decision{
		Action:       NoTrade,
		BullishScore: t.bull,
		BearishScore: t.bear,
		Bullish:      t.bullSig,
		Bearish:      t.bearSig,
	}

	total := t.bull + t.bear
	if total < p.MinScore {
		dec.Reason = fmt.Sprintf("insufficient signal strength: score %.0f < %.0f", total, p.MinScore)
		return dec
	}

	bullMult := strikeMult * volMult
	bearMult := strikeMult * volMult
	switch trendDir {
	case dirBull:
		bullMult *= trendMult
	case dirBear:
		bearMult *= trendMult
	}
	if strikeDir != dirNone && otherCross {
		if strikeDir == dirBull {
			bullMult *= 1.3
		} else {
			bearMult *= 1.3
		}
	}
	dec.BullishConfidence = clamp(t.bull / total * bullMult)
	dec.BearishConfidence = clamp(t.bear / total * bearMult)

	nBull, nBear := len(t.bullSig), len(t.bearSig)
	if strikeDir == dirNone && absInt(nBull-nBear) < p.MinSignalGap {
		dec.Reason = fmt.Sprintf("signal count too balanced: %d bullish vs %d bearish", nBull, nBear)
		return dec
	}

	switch strikeDir {
	case dirBull:
		dec.BullishConfidence = math.Max(dec.BullishConfidence, p.StrikeFloor)
	case dirBear:
		dec.BearishConfidence = math.Max(dec.BearishConfidence, p.StrikeFloor)
	}

	bullOK := dec.BullishConfidence >= p.Threshold && nBull > nBear
	bearOK := dec.BearishConfidence >= p.Threshold && nBear > nBull
	switch {
	case strikeDir == dirBull && bullOK:
		dec.Action, dec.Confidence = BuyYes, dec.BullishConfidence
	case strikeDir == dirBear && bearOK:
		dec.Action, dec.Confidence = BuyNo, dec.BearishConfidence
	case bullOK:
		dec.Action, dec.Confidence = BuyYes, dec.BullishConfidence
	case bearOK:
		dec.Action, dec.Confidence = BuyNo, dec.BearishConfidence
	}

	if dec.Action == NoTrade {
		dec.Reason = fmt.Sprintf("below threshold: bullish %.2f (%d), bearish %.2f (%d)",
			dec.BullishConfidence, nBull, dec.BearishConfidence, nBear)
		return dec
	}
	signals := t.bullSig
	if dec.Action == BuyNo {
		signals = t.bearSig
	}
	parts := []string{strings.Join(signals, ", ")}
	if narrative != "" {
		parts = append(parts, narrative)
	}
	dec.Reason = strings.Join(parts, "; ")
	return dec
}

func (e *Engine) trendMultiplier(tr *Trend) (float64, direction) {
	if tr == nil || tr.ADX < e.p.TrendMin || math.Abs(tr.PlusDI-tr.MinusDI) < e.p.TrendSpreadMin {
		return 1, dirNone
	}
	dir := dirBear
	if tr.PlusDI > tr.MinusDI {
		dir = dirBull
	}
	switch {
	case tr.ADX >= 40:
		return 1.30, dir
	case tr.ADX >= 30:
		return 1.20, dir
	case tr.ADX >= 25:
		return 1.15, dir
	}
	return 1.10, dir
}

func (e *Engine) volatilityMultiplier(b Bundle) float64 {
	if b.Price <= 0 || len(b.Prices) < 2 {
		return 1
	}
	pct := indicator.StdDev(indicator.Tail(b.Prices, e.p.VolatilityWindow)) / b.Price * 100
	switch {
	case pct < e.p.VolatilityLowPct:
		return 0.7
	case pct > e.p.VolatilityHighPct:
		return 1.2
	}
	return 1
}

func strikeMultiplier(absPct float64) float64 {
	switch {
	case absPct < 0.1:
		return 1.2
	case absPct < 0.3:
		return 1.1
	case absPct < 0.5:
		return 1.0
	case absPct < 1.0:
		return 0.8
	}
	return 0.6
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
