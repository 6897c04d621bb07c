package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// sellFloor is the worst price accepted by a market sell.
const sellFloor = 0.01

// Legs selects which legs of a position to close.
type Legs struct {
	Yes bool
	No  bool
}

// CloseResult reports what a Close call achieved.
type CloseResult struct {
	Position    *domain.MultiLegPosition
	Closed      []domain.Side
	RealizedPnL float64
}

// Close sells the requested legs of the ledger entry for ticker with market
// orders. Legs that sell are removed from the entry; legs that fail stay and
// are reported in the returned error. quote supplies a fallback exit price
// when the exchange does not report one.
func (e *Executor) Close(ctx context.Context, ticker, reason string, legs Legs, quote domain.Quote) (CloseResult, error) {
	pos, ok := e.ledger.Get(ticker)
	if !ok {
		return CloseResult{}, fmt.Errorf("executor: close %s: %w", ticker, domain.ErrNotFound)
	}
	log := e.logger.With(slog.String("ticker", ticker), slog.String("reason", reason))

	var (
		closed   []domain.Side
		proceeds float64
		cost     float64
		firstErr error
	)
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		want := (side == domain.SideYes && legs.Yes) || (side == domain.SideNo && legs.No)
		leg := pos.Leg(side)
		if !want || leg == nil {
			continue
		}
		fallback := quote.YesAsk
		if side == domain.SideNo {
			fallback = quote.NoAsk
		}
		value, err := e.sellLeg(ctx, pos, leg, fallback)
		if err != nil {
			log.WarnContext(ctx, "close leg failed", slog.String("side", string(side)), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed = append(closed, side)
		proceeds += value
		cost += leg.Cost()
	}

	res := CloseResult{Position: pos, Closed: closed, RealizedPnL: proceeds - cost}
	if len(closed) > 0 {
		updated, err := e.ledger.CloseLegs(ticker, containsSide(closed, domain.SideYes), containsSide(closed, domain.SideNo))
		if err != nil {
			return res, fmt.Errorf("executor: close %s: %w", ticker, err)
		}
		res.Position = updated
		log.InfoContext(ctx, "legs closed",
			slog.Int("legs", len(closed)),
			slog.Float64("pnl", res.RealizedPnL),
			slog.String("status", string(updated.Status)),
		)
		e.journal.RecordClose(ctx, domain.ClosedPosition{
			PositionID:  pos.ID,
			Ticker:      ticker,
			Series:      pos.Series,
			Strategy:    pos.Strategy,
			Sides:       closed,
			Reason:      reason,
			Proceeds:    proceeds,
			Cost:        cost,
			RealizedPnL: res.RealizedPnL,
			ClosedAt:    e.ledger.Now(),
		})
	}
	if firstErr != nil {
		return res, asOrderFailure(firstErr)
	}
	return res, nil
}

// sellLeg sells every contract of leg and returns the proceeds after fees.
func (e *Executor) sellLeg(ctx context.Context, pos *domain.MultiLegPosition, leg *domain.Position, fallback float64) (float64, error) {
	order := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Ticker:        pos.Ticker,
		Action:        domain.ActionSell,
		Side:          leg.Side,
		Count:         leg.Count,
		Kind:          domain.OrderKindMarket,
		Price:         sellFloor,
	}
	attempt := domain.OrderAttempt{
		ID:       order.ClientOrderID,
		Time:     e.ledger.Now(),
		Ticker:   pos.Ticker,
		Series:   pos.Series,
		Side:     leg.Side,
		Action:   domain.ActionSell,
		Quantity: leg.Count,
		Strategy: pos.Strategy,
	}

	res, err := e.ex.PlaceOrder(ctx, order)
	if err == nil && !res.Filled() {
		err = fmt.Errorf("sell %s not filled (status %s)", res.OrderID, res.Status)
	}
	if err != nil {
		attempt.Status = domain.AttemptFailed
		attempt.Error = err.Error()
		e.journal.RecordAttempt(ctx, attempt)
		return 0, err
	}

	price := res.AvgPrice
	if price <= 0 {
		price = fallback
	}
	gross := price * float64(leg.Count)
	fees := res.FeesPaid
	if fees <= 0 {
		fees = e.cfg.Fees.Fee(gross)
	}
	attempt.Status = domain.AttemptFilled
	attempt.OrderID = res.OrderID
	attempt.Price = price
	attempt.Cost = gross
	attempt.Fees = fees
	e.journal.RecordAttempt(ctx, attempt)
	return gross - fees, nil
}

// Settle removes the entry of a settled market, records its settlement P&L
// and clears the market's retry state. It reports false when there is no
// entry or the market has no result yet.
func (e *Executor) Settle(ctx context.Context, snap domain.MarketSnapshot) (domain.ClosedPosition, bool) {
	winner, ok := snap.Winner()
	if !ok {
		return domain.ClosedPosition{}, false
	}
	pos, ok := e.ledger.Remove(snap.Ticker)
	e.ledger.ClearRetries(snap.Ticker)
	if !ok {
		return domain.ClosedPosition{}, false
	}

	var payout float64
	if l := pos.Leg(winner); l != nil {
		payout = float64(l.Count)
	}
	sides := make([]domain.Side, 0, 2)
	for _, l := range pos.Legs() {
		sides = append(sides, l.Side)
	}
	c := domain.ClosedPosition{
		PositionID:  pos.ID,
		Ticker:      pos.Ticker,
		Series:      pos.Series,
		Strategy:    pos.Strategy,
		Sides:       sides,
		Reason:      "settled " + string(winner),
		Proceeds:    payout,
		Cost:        pos.TotalCost(),
		RealizedPnL: pos.SettlementPnL(winner),
		ClosedAt:    e.ledger.Now(),
	}
	e.logger.InfoContext(ctx, "market settled",
		slog.String("ticker", pos.Ticker),
		slog.String("winner", string(winner)),
		slog.Float64("pnl", c.RealizedPnL),
	)
	e.journal.RecordClose(ctx, c)
	return c, true
}

func containsSide(sides []domain.Side, s domain.Side) bool {
	for _, v := range sides {
		if v == s {
			return true
		}
	}
	return false
}
