package domain

import "time"

// StrategyType is the family of strategy that opened a position.
type StrategyType string

const (
	StrategyArbitrage StrategyType = "arbitrage"
	StrategyTechnical StrategyType = "technical"
)

// PositionStatus tracks the state of a ledger entry.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusPartial PositionStatus = "partial"
	PositionStatusClosed  PositionStatus = "closed"
)

// EntryMode is the intent of an entry: both sides or one.
type EntryMode string

const (
	ModeTwoLeg    EntryMode = "two_leg"
	ModeSingleLeg EntryMode = "single_leg"
)

// Position is one filled leg of a market bet.
type Position struct {
	Ticker     string
	Side       Side
	Count      int
	EntryPrice float64
	EntryTime  time.Time
	Fees       float64
	Strategy   StrategyType
	// Strike is the market strike at entry, zero when unknown.
	Strike  float64
	OrderID string
}

// Cost returns the capital committed to the leg, fees included.
func (p Position) Cost() float64 {
	return float64(p.Count)*p.EntryPrice + p.Fees
}

// MultiLegPosition is the ledger entry for one market.
type MultiLegPosition struct {
	ID        string
	Ticker    string
	Series    string
	Strategy  StrategyType
	Mode      EntryMode
	Yes       *Position
	No        *Position
	EntryTime time.Time
	Status    PositionStatus
	// Reference is the underlying asset price at entry, zero when unknown.
	Reference float64
}

// Legs returns the present legs, yes first.
func (m *MultiLegPosition) Legs() []*Position {
	out := make([]*Position, 0, 2)
	if m.Yes != nil {
		out = append(out, m.Yes)
	}
	if m.No != nil {
		out = append(out, m.No)
	}
	return out
}

// Leg returns the leg held on side, or nil.
func (m *MultiLegPosition) Leg(side Side) *Position {
	if side == SideYes {
		return m.Yes
	}
	return m.No
}

// TotalCost is the sum of leg costs including fees.
func (m *MultiLegPosition) TotalCost() float64 {
	var total float64
	for _, l := range m.Legs() {
		total += l.Cost()
	}
	return total
}

// ExpectedProfit is the settlement payout minus total cost. For a balanced
// two-leg entry exactly one leg pays 1.00 per contract, so the value is
// guaranteed. A lone leg reports its win case.
func (m *MultiLegPosition) ExpectedProfit() float64 {
	switch {
	case m.Yes != nil && m.No != nil:
		return float64(min(m.Yes.Count, m.No.Count)) - m.TotalCost()
	case m.Yes != nil:
		return float64(m.Yes.Count) - m.TotalCost()
	case m.No != nil:
		return float64(m.No.Count) - m.TotalCost()
	}
	return 0
}

// SettlementPnL returns payout minus total cost when winner settles at 1.00.
func (m *MultiLegPosition) SettlementPnL(winner Side) float64 {
	var payout float64
	if l := m.Leg(winner); l != nil {
		payout = float64(l.Count)
	}
	return payout - m.TotalCost()
}

// SingleLeg reports whether the entry holds exactly one leg by design.
func (m *MultiLegPosition) SingleLeg() bool {
	return m.Mode == ModeSingleLeg
}

// Refresh recomputes Status from the legs present.
func (m *MultiLegPosition) Refresh() {
	switch n := len(m.Legs()); {
	case n == 0:
		m.Status = PositionStatusClosed
	case n == 1 && m.Mode == ModeTwoLeg:
		m.Status = PositionStatusPartial
	default:
		m.Status = PositionStatusOpen
	}
}

// Clone returns a deep copy safe to hand outside the ledger.
func (m *MultiLegPosition) Clone() *MultiLegPosition {
	out := *m
	if m.Yes != nil {
		y := *m.Yes
		out.Yes = &y
	}
	if m.No != nil {
		n := *m.No
		out.No = &n
	}
	return &out
}

// ClosedPosition records the realized outcome of closing legs or settling.
type ClosedPosition struct {
	PositionID  string
	Ticker      string
	Series      string
	Strategy    StrategyType
	Sides       []Side
	Reason      string
	Proceeds    float64
	Cost        float64
	RealizedPnL float64
	ClosedAt    time.Time
}
