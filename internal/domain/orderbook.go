package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Orderbook holds resting bids for both sides of a binary market. A bid for
// one side at p is an offer of the other side at 1-p, so asks are derived.
type Orderbook struct {
	Ticker    string
	YesBids   []PriceLevel
	NoBids    []PriceLevel
	Timestamp time.Time
}

func bestLevel(levels []PriceLevel) (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, l := range levels {
		if l.Size <= 0 {
			continue
		}
		if !found || l.Price > best.Price {
			best = l
			found = true
		}
	}
	return best, found
}

// BestAsk returns the lowest price at which side can be bought.
func (o Orderbook) BestAsk(side Side) (float64, bool) {
	opp := o.NoBids
	if side == SideNo {
		opp = o.YesBids
	}
	l, ok := bestLevel(opp)
	if !ok {
		return 0, false
	}
	return 1 - l.Price, true
}

// AskDepth returns the number of contracts available at the best ask for side.
func (o Orderbook) AskDepth(side Side) float64 {
	opp := o.NoBids
	if side == SideNo {
		opp = o.YesBids
	}
	l, ok := bestLevel(opp)
	if !ok {
		return 0
	}
	return l.Size
}
