// Package exit decides when open positions should be closed.
package exit

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Trigger names the rule that produced an exit.
type Trigger string

const (
	TriggerNone          Trigger = ""
	TriggerStrikeStop    Trigger = "strike_stop"
	TriggerVolatility    Trigger = "volatility_tier"
	TriggerProfitTarget  Trigger = "profit_target"
	TriggerNormalization Trigger = "normalization"
	TriggerStopLoss      Trigger = "stop_loss"
)

// Decision is the outcome of evaluating one position.
type Decision struct {
	ShouldClose bool
	CloseYes    bool
	CloseNo     bool
	Trigger     Trigger
	Reason      string
	Profit      float64
	// Tier is the 1-based volatility tier reached, zero otherwise.
	Tier int
}

// Params holds the exit thresholds. Percentages are in percent units.
type Params struct {
	ProfitTarget      float64
	VolatilityTiers   []float64
	NormalizationBand float64
	StopLossPct       float64
	StrikeStopPct     float64
	Fees              domain.FeeModel
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		ProfitTarget:      0.05,
		VolatilityTiers:   []float64{0.05, 0.10, 0.15, 0.20},
		NormalizationBand: 0.02,
		StopLossPct:       15,
		StrikeStopPct:     0.05,
		Fees:              domain.FeeModel{TakerRate: 0.007},
	}
}

// Evaluator applies the exit rules in a fixed priority order: strike stop,
// volatility tier, profit target, normalization, legacy stop loss.
type Evaluator struct {
	p Params
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(p Params) *Evaluator {
	return &Evaluator{p: p}
}

func askFor(q domain.Quote, side domain.Side) (float64, bool) {
	px := q.YesAsk
	if side == domain.SideNo {
		px = q.NoAsk
	}
	return px, px > 0 && px < 1
}

// Evaluate decides whether pos should be closed given the current quote and
// the underlying price history (oldest first, may be empty).
func (e *Evaluator) Evaluate(pos *domain.MultiLegPosition, q domain.Quote, history []float64) Decision {
	legs := pos.Legs()
	if len(legs) == 0 {
		return Decision{}
	}

	if d, ok := e.strikeStop(pos, q, history); ok {
		return d
	}

	profit, priced := e.combinedProfit(legs, q)

	if priced && profit > 0 && len(history) > 0 {
		if d, ok := e.volatilityTier(pos, history, profit); ok {
			return d
		}
	}

	if priced {
		for _, l := range legs {
			px, _ := askFor(q, l.Side)
			if legProfit := e.p.Fees.ExitProfit(l, px); legProfit >= e.p.ProfitTarget {
				d := closeAll(pos, TriggerProfitTarget, profit)
				d.Reason = fmt.Sprintf("profit target: %s leg $%.4f >= $%.4f", l.Side, legProfit, e.p.ProfitTarget)
				return d
			}
		}
	}

	if priced && pos.Yes != nil && pos.No != nil && profit > 0 {
		sum := q.YesAsk + q.NoAsk
		if math.Abs(sum-1) <= e.p.NormalizationBand {
			d := closeAll(pos, TriggerNormalization, profit)
			d.Reason = fmt.Sprintf("price normalized: yes+no=%.4f", sum)
			return d
		}
	}

	if len(legs) == 1 {
		l := legs[0]
		if px, ok := askFor(q, l.Side); ok && l.EntryPrice > 0 {
			drop := (l.EntryPrice - px) / l.EntryPrice * 100
			if drop > e.p.StopLossPct {
				d := closeLeg(l.Side, TriggerStopLoss, e.p.Fees.ExitProfit(l, px))
				d.Reason = fmt.Sprintf("stop loss: %s down %.1f%% from entry", l.Side, drop)
				return d
			}
		}
	}

	return Decision{Reason: "hold"}
}

func (e *Evaluator) strikeStop(pos *domain.MultiLegPosition, q domain.Quote, history []float64) (Decision, bool) {
	if !pos.SingleLeg() || len(history) == 0 {
		return Decision{}, false
	}
	legs := pos.Legs()
	if len(legs) != 1 || legs[0].Strike <= 0 {
		return Decision{}, false
	}
	l := legs[0]
	underlying := history[len(history)-1]
	band := l.Strike * e.p.StrikeStopPct / 100
	ref := pos.Reference
	if ref <= 0 {
		ref = history[0]
	}

	// The underlying must have moved back toward the strike since entry.
	// An entry taken inside the band holds until the price reverts.
	reverted := false
	if l.Side == domain.SideYes {
		reverted = underlying < ref && underlying <= l.Strike+band
	} else {
		reverted = underlying > ref && underlying >= l.Strike-band
	}
	if !reverted {
		return Decision{}, false
	}
	profit := 0.0
	if px, ok := askFor(q, l.Side); ok {
		profit = e.p.Fees.ExitProfit(l, px)
	}
	d := closeLeg(l.Side, TriggerStrikeStop, profit)
	d.Reason = fmt.Sprintf("stop loss: price returned to strike (%.2f vs %.2f)", underlying, l.Strike)
	return d, true
}

func (e *Evaluator) volatilityTier(pos *domain.MultiLegPosition, history []float64, profit float64) (Decision, bool) {
	ref := pos.Reference
	if ref <= 0 {
		ref = history[0]
	}
	if ref <= 0 {
		return Decision{}, false
	}
	move := math.Abs(history[len(history)-1]-ref) / ref * 100
	for i := len(e.p.VolatilityTiers) - 1; i >= 0; i-- {
		if move >= e.p.VolatilityTiers[i] {
			d := closeAll(pos, TriggerVolatility, profit)
			d.Tier = i + 1
			d.Reason = fmt.Sprintf("volatility tier %d: move %.3f%% >= %.3f%%", i+1, move, e.p.VolatilityTiers[i])
			return d, true
		}
	}
	return Decision{}, false
}

// combinedProfit is the profit of selling every held leg at the current ask.
func (e *Evaluator) combinedProfit(legs []*domain.Position, q domain.Quote) (float64, bool) {
	var total float64
	for _, l := range legs {
		px, ok := askFor(q, l.Side)
		if !ok {
			return 0, false
		}
		total += e.p.Fees.ExitProfit(l, px)
	}
	return total, true
}

func closeAll(pos *domain.MultiLegPosition, t Trigger, profit float64) Decision {
	return Decision{
		ShouldClose: true,
		CloseYes:    pos.Yes != nil,
		CloseNo:     pos.No != nil,
		Trigger:     t,
		Profit:      profit,
	}
}

func closeLeg(side domain.Side, t Trigger, profit float64) Decision {
	return Decision{
		ShouldClose: true,
		CloseYes:    side == domain.SideYes,
		CloseNo:     side == domain.SideNo,
		Trigger:     t,
		Profit:      profit,
	}
}
