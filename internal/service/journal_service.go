// Package service fans execution events out to the persistence, messaging
// and notification layers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/notify"
)

// Bus channel and stream that carry execution events.
const (
	EventsChannel = "events"
	EventsStream  = "events:stream"
)

// writeTimeout bounds each sink call so a slow database cannot stall a
// trading cycle.
const writeTimeout = 5 * time.Second

// AttemptRecorder receives every order attempt, e.g. the CSV trade log.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a domain.OrderAttempt)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Sinks are the optional destinations of a JournalService.
type Sinks struct {
	Attempts  domain.AttemptStore
	Positions domain.PositionStore
	Audit     domain.AuditStore
	Bus       domain.EventBus
	TradeLog  AttemptRecorder
	Notifier  Notifier
}

// JournalService implements domain.Journal over Sinks. Sink failures are
// logged and never returned to the executor.
type JournalService struct {
	sinks  Sinks
	logger *slog.Logger
}

// NewJournalService creates a JournalService. Nil sinks are skipped.
func NewJournalService(sinks Sinks, logger *slog.Logger) *JournalService {
	return &JournalService{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "journal")),
	}
}

// Event is the JSON payload published on the bus.
type Event struct {
	Type     string    `json:"type"`
	Ticker   string    `json:"ticker"`
	Time     time.Time `json:"time"`
	Position string    `json:"position_id,omitempty"`
	Side     string    `json:"side,omitempty"`
	Status   string    `json:"status,omitempty"`
	Amount   float64   `json:"amount,omitempty"`
	PnL      float64   `json:"pnl,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

func (s *JournalService) RecordAttempt(ctx context.Context, a domain.OrderAttempt) {
	if s.sinks.TradeLog != nil {
		s.sinks.TradeLog.RecordAttempt(ctx, a)
	}
	if s.sinks.Attempts != nil {
		s.write(ctx, "insert attempt", func(ctx context.Context) error { return s.sinks.Attempts.Insert(ctx, a) })
	}
	s.publish(ctx, Event{
		Type:   "order_attempt",
		Ticker: a.Ticker,
		Time:   a.Time,
		Side:   string(a.Side),
		Status: string(a.Status),
		Amount: a.Cost,
		Detail: a.Error,
	})
}

func (s *JournalService) RecordOpen(ctx context.Context, pos *domain.MultiLegPosition) {
	snap := *pos.Clone()
	if s.sinks.Positions != nil {
		s.write(ctx, "upsert position", func(ctx context.Context) error { return s.sinks.Positions.Upsert(ctx, snap) })
	}
	s.audit(ctx, "position_opened", map[string]any{
		"position_id":     snap.ID,
		"ticker":          snap.Ticker,
		"strategy":        string(snap.Strategy),
		"mode":            string(snap.Mode),
		"total_cost":      snap.TotalCost(),
		"expected_profit": snap.ExpectedProfit(),
	})
	s.publish(ctx, Event{
		Type:     "position_opened",
		Ticker:   snap.Ticker,
		Time:     snap.EntryTime,
		Position: snap.ID,
		Status:   string(snap.Status),
		Amount:   snap.TotalCost(),
	})
	s.notify(ctx, notify.EventPositionOpened, "Position opened", describeOpen(&snap))
}

func (s *JournalService) RecordClose(ctx context.Context, c domain.ClosedPosition) {
	if s.sinks.Positions != nil {
		s.write(ctx, "close position", func(ctx context.Context) error { return s.sinks.Positions.Close(ctx, c) })
	}
	s.audit(ctx, "position_closed", map[string]any{
		"position_id":  c.PositionID,
		"ticker":       c.Ticker,
		"sides":        sideNames(c.Sides),
		"reason":       c.Reason,
		"proceeds":     c.Proceeds,
		"cost":         c.Cost,
		"realized_pnl": c.RealizedPnL,
	})
	s.publish(ctx, Event{
		Type:     "position_closed",
		Ticker:   c.Ticker,
		Time:     c.ClosedAt,
		Position: c.PositionID,
		Side:     strings.Join(sideNames(c.Sides), ","),
		Amount:   c.Proceeds,
		PnL:      c.RealizedPnL,
		Detail:   c.Reason,
	})
	s.notify(ctx, notify.EventPositionClosed, "Position closed",
		fmt.Sprintf("%s %s\nreason: %s\npnl: %+.2f", c.Ticker, strings.Join(sideNames(c.Sides), "+"), c.Reason, c.RealizedPnL))
}

func (s *JournalService) RecordPartialFill(ctx context.Context, ticker string, filled domain.Side, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.audit(ctx, "partial_fill", map[string]any{
		"ticker": ticker,
		"filled": string(filled),
		"error":  detail,
	})
	s.publish(ctx, Event{Type: "partial_fill", Ticker: ticker, Time: time.Now().UTC(), Side: string(filled), Detail: detail})
	s.notify(ctx, notify.EventPartialFill, "Partial fill",
		fmt.Sprintf("%s: %s filled, %s failed\n%s", ticker, filled, filled.Opposite(), detail))
}

// write runs fn with a bounded context detached from ctx cancellation, so
// records of filled orders survive shutdown.
func (s *JournalService) write(ctx context.Context, op string, fn func(context.Context) error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := fn(wctx); err != nil {
		s.logger.WarnContext(ctx, "journal write failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

func (s *JournalService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.sinks.Audit == nil {
		return
	}
	s.write(ctx, "audit "+event, func(ctx context.Context) error { return s.sinks.Audit.Log(ctx, event, detail) })
}

func (s *JournalService) publish(ctx context.Context, evt Event) {
	if s.sinks.Bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed", slog.String("type", evt.Type), slog.String("error", err.Error()))
		return
	}
	s.write(ctx, "publish "+evt.Type, func(ctx context.Context) error { return s.sinks.Bus.Publish(ctx, EventsChannel, payload) })
	s.write(ctx, "stream "+evt.Type, func(ctx context.Context) error { return s.sinks.Bus.StreamAppend(ctx, EventsStream, payload) })
}

func (s *JournalService) notify(ctx context.Context, event, title, message string) {
	if s.sinks.Notifier == nil {
		return
	}
	// Sender failures are logged by the notifier itself.
	s.write(ctx, "notify "+event, func(ctx context.Context) error { return s.sinks.Notifier.Notify(ctx, event, title, message) })
}

func describeOpen(pos *domain.MultiLegPosition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s)", pos.Ticker, pos.Strategy, pos.Mode)
	for _, l := range pos.Legs() {
		fmt.Fprintf(&b, "\n%s x%d @ %.2f", l.Side, l.Count, l.EntryPrice)
	}
	fmt.Fprintf(&b, "\ncost: %.2f", pos.TotalCost())
	if ep := pos.ExpectedProfit(); ep != 0 {
		label := "expected profit"
		if pos.Yes == nil || pos.No == nil {
			label = "profit if won"
		}
		fmt.Fprintf(&b, "\n%s: %.2f", label, ep)
	}
	return b.String()
}

func sideNames(sides []domain.Side) []string {
	out := make([]string, len(sides))
	for i, s := range sides {
		out[i] = string(s)
	}
	return out
}

var _ domain.Journal = (*JournalService)(nil)
