package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

type attemptView struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Ticker    string    `json:"ticker"`
	Series    string    `json:"series"`
	Side      string    `json:"side"`
	Action    string    `json:"action"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    string    `json:"status"`
	Cost      float64   `json:"cost"`
	Fees      float64   `json:"fees"`
	Strategy  string    `json:"strategy"`
	ErrorCode string    `json:"error_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// AttemptHandler serves the order attempt journal.
type AttemptHandler struct {
	attempts domain.AttemptStore
	logger   *slog.Logger
}

// NewAttemptHandler creates an AttemptHandler. attempts may be nil.
func NewAttemptHandler(attempts domain.AttemptStore, logger *slog.Logger) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, logger: logger}
}

// ListRecent returns attempts newest first.
// GET /api/attempts?limit=&offset=&since=
func (h *AttemptHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeError(w, http.StatusNotImplemented, "attempt history requires postgres")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return
	}
	rows, err := h.attempts.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list attempts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	out := make([]attemptView, 0, len(rows))
	for _, a := range rows {
		out = append(out, attemptView{
			ID:        a.ID,
			Time:      a.Time,
			Ticker:    a.Ticker,
			Series:    a.Series,
			Side:      string(a.Side),
			Action:    string(a.Action),
			Quantity:  a.Quantity,
			Price:     a.Price,
			OrderID:   a.OrderID,
			Status:    string(a.Status),
			Cost:      a.Cost,
			Fees:      a.Fees,
			Strategy:  string(a.Strategy),
			ErrorCode: a.ErrorCode,
			Error:     a.Error,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}
