package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Runner is the read side of a running asset loop.
type Runner interface {
	Asset() string
	Positions() []*domain.MultiLegPosition
	Cycles() int64
}

// ClosedLister lists settled or sold entries.
type ClosedLister interface {
	ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedPosition, error)
}

type legView struct {
	Side       string    `json:"side"`
	Count      int       `json:"count"`
	EntryPrice float64   `json:"entry_price"`
	Fees       float64   `json:"fees"`
	EntryTime  time.Time `json:"entry_time"`
	OrderID    string    `json:"order_id,omitempty"`
}

type positionView struct {
	ID             string    `json:"id"`
	Asset          string    `json:"asset"`
	Ticker         string    `json:"ticker"`
	Series         string    `json:"series"`
	Strategy       string    `json:"strategy"`
	Mode           string    `json:"mode"`
	Status         string    `json:"status"`
	EntryTime      time.Time `json:"entry_time"`
	TotalCost      float64   `json:"total_cost"`
	ExpectedProfit float64   `json:"expected_profit"`
	Legs           []legView `json:"legs"`
}

type closedView struct {
	PositionID  string    `json:"position_id"`
	Ticker      string    `json:"ticker"`
	Series      string    `json:"series"`
	Strategy    string    `json:"strategy"`
	Reason      string    `json:"reason"`
	Proceeds    float64   `json:"proceeds"`
	Cost        float64   `json:"cost"`
	RealizedPnL float64   `json:"realized_pnl"`
	ClosedAt    time.Time `json:"closed_at"`
}

// PositionHandler serves open positions from the runners and closed ones
// from the store.
type PositionHandler struct {
	runners []Runner
	closed  ClosedLister
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler. closed may be nil.
func NewPositionHandler(runners []Runner, closed ClosedLister, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{runners: runners, closed: closed, logger: logger}
}

// ListOpen returns every open ledger entry, oldest first.
// GET /api/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	out := []positionView{}
	for _, rn := range h.runners {
		for _, p := range rn.Positions() {
			out = append(out, toPositionView(rn.Asset(), p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ListClosed returns closed entries newest first.
// GET /api/positions/closed
func (h *PositionHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	if h.closed == nil {
		writeError(w, http.StatusNotImplemented, "position history requires postgres")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return
	}
	rows, err := h.closed.ListClosed(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list closed positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	out := make([]closedView, 0, len(rows))
	for _, c := range rows {
		out = append(out, closedView{
			PositionID:  c.PositionID,
			Ticker:      c.Ticker,
			Series:      c.Series,
			Strategy:    string(c.Strategy),
			Reason:      c.Reason,
			Proceeds:    c.Proceeds,
			Cost:        c.Cost,
			RealizedPnL: c.RealizedPnL,
			ClosedAt:    c.ClosedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func toPositionView(asset string, p *domain.MultiLegPosition) positionView {
	v := positionView{
		ID:             p.ID,
		Asset:          asset,
		Ticker:         p.Ticker,
		Series:         p.Series,
		Strategy:       string(p.Strategy),
		Mode:           string(p.Mode),
		Status:         string(p.Status),
		EntryTime:      p.EntryTime,
		TotalCost:      p.TotalCost(),
		ExpectedProfit: p.ExpectedProfit(),
	}
	for _, l := range p.Legs() {
		v.Legs = append(v.Legs, legView{
			Side:       string(l.Side),
			Count:      l.Count,
			EntryPrice: l.EntryPrice,
			Fees:       l.Fees,
			EntryTime:  l.EntryTime,
			OrderID:    l.OrderID,
		})
	}
	return v
}
