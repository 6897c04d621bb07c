package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports the run mode and per-runner activity.
type StatusHandler struct {
	mode      string
	runners   []Runner
	startedAt time.Time
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, runners []Runner, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, runners: runners, startedAt: startedAt, now: time.Now}
}

type runnerStatus struct {
	Asset    string  `json:"asset"`
	Cycles   int64   `json:"cycles"`
	Open     int     `json:"open_positions"`
	Exposure float64 `json:"exposure"`
}

// GetStatus responds with mode, uptime and runner summaries.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	runners := make([]runnerStatus, 0, len(h.runners))
	for _, rn := range h.runners {
		st := runnerStatus{Asset: rn.Asset(), Cycles: rn.Cycles()}
		for _, p := range rn.Positions() {
			st.Open++
			st.Exposure += p.TotalCost()
		}
		runners = append(runners, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(h.now().Sub(h.startedAt).Seconds()),
		"runners":        runners,
	})
}
