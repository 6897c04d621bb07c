package indicator

import (
	"math"
	"testing"
)

func near(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}); !near(got, 2, 1e-12) {
		t.Fatalf("StdDev = %v, want 2", got)
	}
	if got := StdDev([]float64{1}); got != 0 {
		t.Fatalf("StdDev single point = %v, want 0", got)
	}
}

func TestDelta(t *testing.T) {
	pct, ok := Delta([]float64{100, 101, 102, 100.8}, 3)
	if !ok || !near(pct, 0.8, 1e-9) {
		t.Fatalf("Delta = %v %v, want 0.8", pct, ok)
	}
	if _, ok := Delta([]float64{1, 2}, 3); ok {
		t.Fatal("short series should not produce a delta")
	}
}

func TestEMAConstantSeries(t *testing.T) {
	out := EMA([]float64{5, 5, 5, 5, 5}, 3)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for _, v := range out {
		if v != 5 {
			t.Fatalf("EMA of constant series = %v", v)
		}
	}
	if EMA([]float64{1, 2}, 3) != nil {
		t.Fatal("EMA of short series should be nil")
	}
}

func TestRSIBounds(t *testing.T) {
	up := make([]float64, 30)
	for i := range up {
		up[i] = float64(i)
	}
	rsi := RSI(up, 14)
	if len(rsi) != 16 {
		t.Fatalf("len = %d, want 16", len(rsi))
	}
	if last, _ := Last(rsi); last != 100 {
		t.Fatalf("monotonic rise RSI = %v, want 100", last)
	}
	flat := make([]float64, 20)
	if last, _ := Last(RSI(flat, 14)); last != 50 {
		t.Fatalf("flat RSI = %v, want 50", last)
	}
}

func TestMACDAligned(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i)/5)
	}
	m := MACD(closes, 12, 26, 9)
	if len(m.Line) == 0 || len(m.Line) != len(m.Signal) || len(m.Signal) != len(m.Histogram) {
		t.Fatalf("misaligned MACD: %d %d %d", len(m.Line), len(m.Signal), len(m.Histogram))
	}
	i := len(m.Line) - 1
	if !near(m.Histogram[i], m.Line[i]-m.Signal[i], 1e-12) {
		t.Fatal("histogram must equal line minus signal")
	}
	if got := MACD(closes[:20], 12, 26, 9); len(got.Line) != 0 {
		t.Fatal("short input should produce empty MACD")
	}
}

func TestVWAP(t *testing.T) {
	out := VWAP([]float64{11, 12}, []float64{9, 10}, []float64{10, 11}, []float64{1, 3})
	if !near(out[0], 10, 1e-12) || !near(out[1], (10+11*3)/4.0, 1e-12) {
		t.Fatalf("VWAP = %v", out)
	}
}

func TestADXTrending(t *testing.T) {
	n := 60
	high, low, close := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := range n {
		base := 100 + float64(i)
		high[i], low[i], close[i] = base+1, base-1, base+0.5
	}
	adx, plus, minus, ok := ADX(high, low, close, 14).Last()
	if !ok {
		t.Fatal("expected ADX output")
	}
	if plus <= minus {
		t.Fatalf("uptrend should have +DI > -DI, got %v %v", plus, minus)
	}
	if adx < 25 {
		t.Fatalf("steady uptrend ADX = %v, want strong", adx)
	}
	if _, _, _, ok := ADX(high[:20], low[:20], close[:20], 14).Last(); ok {
		t.Fatal("short input should produce no ADX")
	}
}

func TestCrosses(t *testing.T) {
	cases := []struct {
		name         string
		a, b         []float64
		above, below bool
	}{
		{"cross up", []float64{1, 3}, []float64{2, 2}, true, false},
		{"cross down", []float64{3, 1}, []float64{2, 2}, false, true},
		{"touch then up", []float64{2, 3}, []float64{2, 2}, true, false},
		{"stays above", []float64{3, 4}, []float64{2, 2}, false, false},
		{"too short", []float64{3}, []float64{2}, false, false},
	}
	for _, tc := range cases {
		if got := CrossedAbove(tc.a, tc.b); got != tc.above {
			t.Errorf("%s: CrossedAbove = %v", tc.name, got)
		}
		if got := CrossedBelow(tc.a, tc.b); got != tc.below {
			t.Errorf("%s: CrossedBelow = %v", tc.name, got)
		}
	}
	if !CrossedAboveLevel([]float64{49, 51}, 50) || CrossedBelowLevel([]float64{49, 51}, 50) {
		t.Fatal("level cross mismatch")
	}
}
