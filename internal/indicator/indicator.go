// Package indicator provides pure technical-analysis functions over numeric
// series. Every series is ordered oldest first and outputs are aligned to the
// tail of their inputs.
package indicator

import "math"

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values. Fewer than two
// points yield 0.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Tail returns the last n values, or all of them when fewer exist.
func Tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// PercentDistance returns (price-ref)/ref as a percentage.
func PercentDistance(price, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return (price - ref) / ref * 100
}

// Delta returns the percent change between the value n periods back and the
// last value. ok is false when the series is too short.
func Delta(values []float64, n int) (pct float64, ok bool) {
	if n <= 0 || len(values) < n+1 {
		return 0, false
	}
	base := values[len(values)-1-n]
	if base == 0 {
		return 0, false
	}
	return PercentDistance(values[len(values)-1], base), true
}

// EMA returns the exponential moving average of values seeded with the simple
// average of the first period points. The output has len(values)-period+1
// points; nil when values is shorter than period.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	ema := Mean(values[:period])
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

// RSI returns Wilder's relative strength index of closes.
func RSI(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	out := make([]float64, 0, len(closes)-period)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds aligned MACD line, signal and histogram series.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the moving average convergence divergence of closes. All
// three output series have the same length.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	if len(fastEMA) == 0 || len(slowEMA) == 0 {
		return MACDResult{}
	}
	fastEMA = Tail(fastEMA, len(slowEMA))
	n := min(len(fastEMA), len(slowEMA))
	line := make([]float64, n)
	for i := range n {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	if len(sig) == 0 {
		return MACDResult{}
	}
	line = Tail(line, len(sig))
	hist := make([]float64, len(sig))
	for i := range sig {
		hist[i] = line[i] - sig[i]
	}
	return MACDResult{Line: line, Signal: sig, Histogram: hist}
}

// VWAP returns the cumulative volume-weighted average of the typical price
// (high+low+close)/3. Bars with no cumulative volume carry the typical price.
func VWAP(high, low, close, volume []float64) []float64 {
	n := min(len(high), len(low), len(close), len(volume))
	out := make([]float64, n)
	var pv, vol float64
	for i := range n {
		tp := (high[i] + low[i] + close[i]) / 3
		pv += tp * volume[i]
		vol += volume[i]
		if vol == 0 {
			out[i] = tp
			continue
		}
		out[i] = pv / vol
	}
	return out
}

// ADXResult holds aligned trend-strength and directional index series.
type ADXResult struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// Last returns the most recent ADX, +DI and -DI values.
func (r ADXResult) Last() (adx, plusDI, minusDI float64, ok bool) {
	if len(r.ADX) == 0 {
		return 0, 0, 0, false
	}
	i := len(r.ADX) - 1
	return r.ADX[i], r.PlusDI[i], r.MinusDI[i], true
}

// ADX computes Wilder's average directional index. At least 2*period+1 bars
// are required.
func ADX(high, low, close []float64, period int) ADXResult {
	n := min(len(high), len(low), len(close))
	if period <= 0 || n < 2*period+1 {
		return ADXResult{}
	}
	tr := make([]float64, n)
	pdm := make([]float64, n)
	mdm := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			pdm[i] = up
		}
		if down > up && down > 0 {
			mdm[i] = down
		}
		tr[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}

	var sTR, sP, sM float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sP += pdm[i]
		sM += mdm[i]
	}

	p := float64(period)
	var plus, minus, dx []float64
	for i := period; i < n; i++ {
		if i > period {
			sTR = sTR - sTR/p + tr[i]
			sP = sP - sP/p + pdm[i]
			sM = sM - sM/p + mdm[i]
		}
		var pdi, mdi float64
		if sTR > 0 {
			pdi = 100 * sP / sTR
			mdi = 100 * sM / sTR
		}
		plus = append(plus, pdi)
		minus = append(minus, mdi)
		var d float64
		if pdi+mdi > 0 {
			d = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
		}
		dx = append(dx, d)
	}

	adx := make([]float64, 0, len(dx)-period+1)
	cur := Mean(dx[:period])
	adx = append(adx, cur)
	for _, d := range dx[period:] {
		cur = (cur*(p-1) + d) / p
		adx = append(adx, cur)
	}
	return ADXResult{
		ADX:     adx,
		PlusDI:  Tail(plus, len(adx)),
		MinusDI: Tail(minus, len(adx)),
	}
}
