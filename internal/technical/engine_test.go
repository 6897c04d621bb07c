package technical

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

func minutes(v float64) *float64 { return &v }

// strikeCrossBundle is a fully bullish setup: price crosses strike+gap and
// VWAP on the last step, MACD and RSI cross up, 3-period delta is +0.8%.
func strikeCrossBundle() Bundle {
	return Bundle{
		Price:           100.6,
		Strike:          100,
		MinutesToExpiry: minutes(12),
		Prices:          []float64{99.2, 99.8, 99.9, 100.0, 100.6},
		VWAP:            []float64{100.3, 100.3},
		MACD:            []float64{-0.1, 0.2},
		MACDSignal:      []float64{0, 0},
		MACDHist:        []float64{-0.1, 0.2},
		RSI:             []float64{48, 56},
	}
}

func TestDecideStrikeCrossDominance(t *testing.T) {
	e := NewEngine(DefaultParams())
	d := e.Decide(strikeCrossBundle())

	if d.Action != BuyYes {
		t.Fatalf("action = %s (%s), want BUY_YES", d.Action, d.Reason)
	}
	if d.Confidence < 0.75 {
		t.Fatalf("confidence = %v, want >= 0.75", d.Confidence)
	}
	if d.BullishScore < 24 {
		t.Fatalf("bullish score = %v, want >= 24", d.BullishScore)
	}
	if len(d.Bullish) != 5 || len(d.Bearish) != 0 {
		t.Fatalf("signals = %d bullish / %d bearish, want 5/0", len(d.Bullish), len(d.Bearish))
	}
}

func TestDecideBalancedSignalsNoTrade(t *testing.T) {
	e := NewEngine(DefaultParams())
	d := e.Decide(Bundle{
		Price:      99.9,
		Strike:     105,
		Prices:     []float64{100.2, 99.9},
		VWAP:       []float64{100, 100},
		MACD:       []float64{-0.1, 0.1},
		MACDSignal: []float64{0, 0},
	})
	if d.Action != NoTrade {
		t.Fatalf("action = %s, want NO_TRADE", d.Action)
	}
	if len(d.Bullish) != 1 || len(d.Bearish) != 1 {
		t.Fatalf("signals = %d/%d, want 1/1", len(d.Bullish), len(d.Bearish))
	}
	if !strings.Contains(d.Reason, "balanced") {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestDecideTimeGate(t *testing.T) {
	e := NewEngine(DefaultParams())
	b := strikeCrossBundle()
	b.MinutesToExpiry = minutes(3)
	d := e.Decide(b)
	if d.Action != NoTrade || !strings.Contains(d.Reason, "insufficient time") {
		t.Fatalf("got %s %q, want time-gated NO_TRADE", d.Action, d.Reason)
	}
	if d.BullishScore != 0 || d.BearishScore != 0 || len(d.Bullish) != 0 {
		t.Fatal("no scoring should happen behind the time gate")
	}
}

func TestDecideMinimumScore(t *testing.T) {
	e := NewEngine(DefaultParams())
	d := e.Decide(Bundle{Price: 100, MACDHist: []float64{0.1, 0.2}})
	if d.Action != NoTrade || !strings.Contains(d.Reason, "insufficient signal strength") {
		t.Fatalf("got %s %q", d.Action, d.Reason)
	}
}

func TestDecideStrikeCrossConfidenceFloor(t *testing.T) {
	e := NewEngine(DefaultParams())
	// Base bullish confidence 9/11 scaled by far-strike 0.6 and high
	// volatility 1.2 lands near 0.59; the strike cross lifts it to 0.75.
	d := e.Decide(Bundle{
		Price:    101.2,
		Strike:   100,
		Prices:   []float64{98.9, 101.2},
		MACDHist: []float64{-0.1, -0.2},
		RSI:      []float64{56, 57},
	})
	if d.Action != BuyYes {
		t.Fatalf("action = %s (%s), want BUY_YES", d.Action, d.Reason)
	}
	if math.Abs(d.Confidence-0.75) > 1e-9 {
		t.Fatalf("confidence = %v, want floor 0.75", d.Confidence)
	}
}

func TestDecideBearishStrikeCross(t *testing.T) {
	e := NewEngine(DefaultParams())
	d := e.Decide(Bundle{
		Price:      99.4,
		Strike:     100,
		Prices:     []float64{100.6, 100.2, 100.1, 100.0, 99.4},
		VWAP:       []float64{99.7, 99.7},
		MACD:       []float64{0.1, -0.2},
		MACDSignal: []float64{0, 0},
		RSI:        []float64{52, 44},
	})
	if d.Action != BuyNo {
		t.Fatalf("action = %s (%s), want BUY_NO", d.Action, d.Reason)
	}
	if d.BearishScore != 24 {
		t.Fatalf("bearish score = %v, want 24", d.BearishScore)
	}
}

func TestTrendMultiplierOnlyBoostsItsDirection(t *testing.T) {
	e := NewEngine(DefaultParams())
	cases := []struct {
		trend *Trend
		mult  float64
		dir   direction
	}{
		{nil, 1, dirNone},
		{&Trend{ADX: 20, PlusDI: 30, MinusDI: 10}, 1, dirNone},
		{&Trend{ADX: 45, PlusDI: 20, MinusDI: 18}, 1, dirNone},
		{&Trend{ADX: 23, PlusDI: 30, MinusDI: 10}, 1.10, dirBull},
		{&Trend{ADX: 26, PlusDI: 10, MinusDI: 30}, 1.15, dirBear},
		{&Trend{ADX: 31, PlusDI: 30, MinusDI: 10}, 1.20, dirBull},
		{&Trend{ADX: 41, PlusDI: 30, MinusDI: 10}, 1.30, dirBull},
	}
	for i, tc := range cases {
		m, d := e.trendMultiplier(tc.trend)
		if m != tc.mult || d != tc.dir {
			t.Errorf("case %d: got %v/%v, want %v/%v", i, m, d, tc.mult, tc.dir)
		}
	}
}

func TestStrikeMultiplierTiers(t *testing.T) {
	cases := map[float64]float64{0.05: 1.2, 0.2: 1.1, 0.4: 1.0, 0.9: 0.8, 1.5: 0.6}
	for dist, want := range cases {
		if got := strikeMultiplier(dist); got != want {
			t.Errorf("strikeMultiplier(%v) = %v, want %v", dist, got, want)
		}
	}
}

func TestDecideDeterministic(t *testing.T) {
	e := NewEngine(DefaultParams())
	b := strikeCrossBundle()
	first := e.Decide(b)
	for range 5 {
		if got := e.Decide(b); !reflect.DeepEqual(got, first) {
			t.Fatalf("decision changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestBuildBundleFromCandles(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, 60)
	for i := range candles {
		px := 100 + float64(i)*0.1
		candles[i] = domain.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     px, High: px + 0.2, Low: px - 0.2, Close: px, Volume: 10,
		}
	}
	b := BuildBundle(candles, 105, 30)
	if b.Price != candles[59].Close {
		t.Fatalf("price = %v", b.Price)
	}
	if b.MinutesToExpiry == nil || *b.MinutesToExpiry != 30 {
		t.Fatal("minutes to expiry not carried")
	}
	if len(b.RSI) < 2 || len(b.MACD) < 2 || len(b.VWAP) != 60 || b.Trend == nil {
		t.Fatalf("missing series: rsi=%d macd=%d vwap=%d trend=%v", len(b.RSI), len(b.MACD), len(b.VWAP), b.Trend)
	}
	if BuildBundle(candles, 105, -1).MinutesToExpiry != nil {
		t.Fatal("negative minutes should mean unknown")
	}
}

func TestVolatilityMultiplier(t *testing.T) {
	e := NewEngine(DefaultParams())

	choppy := make([]float64, 20)
	trending := make([]float64, 20)
	for i := range choppy {
		choppy[i] = 100 + 0.02*float64(i%2)
		trending[i] = 100 + 0.1*float64(i)
	}

	tests := []struct {
		name   string
		prices []float64
		want   float64
	}{
		{"choppy below 0.05%", choppy, 0.7},
		{"trending above 0.2%", trending, 1.2},
		{"normal", []float64{100, 100.2}, 1.0},
		{"too short", []float64{100}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Bundle{Prices: tt.prices, Price: tt.prices[len(tt.prices)-1]}
			if got := e.volatilityMultiplier(b); got != tt.want {
				t.Fatalf("multiplier = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideConfirmationBonus(t *testing.T) {
	e := NewEngine(DefaultParams())

	// Strike cross (8) and RSI cross (4) bullish; MACD cross (5) and VWAP (2)
	// bearish. Distance 0.05% gives a 1.2 strike multiplier.
	confirmed := e.Decide(Bundle{
		Price:      100.05,
		Strike:     100,
		Prices:     []float64{99.9, 100.05},
		VWAP:       []float64{101, 101},
		MACD:       []float64{0.1, -0.1},
		MACDSignal: []float64{0, 0},
		RSI:        []float64{48, 56},
	})
	if want := 12.0 / 19 * 1.2 * 1.3; math.Abs(confirmed.BullishConfidence-want) > 1e-9 {
		t.Fatalf("confirmed bullish confidence = %v, want %v", confirmed.BullishConfidence, want)
	}

	// Same strike cross with no other cross gets no bonus.
	alone := e.Decide(Bundle{
		Price:    100.05,
		Strike:   100,
		Prices:   []float64{99.9, 100.05},
		VWAP:     []float64{101, 101},
		MACDHist: []float64{-0.1, -0.2},
		RSI:      []float64{60, 60},
	})
	if want := 9.0 / 13 * 1.2; math.Abs(alone.BullishConfidence-want) > 1e-9 {
		t.Fatalf("unconfirmed bullish confidence = %v, want %v", alone.BullishConfidence, want)
	}
}
