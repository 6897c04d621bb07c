package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/notify"
)

type memSinks struct {
	mu        sync.Mutex
	attempts  []domain.OrderAttempt
	logged    []domain.OrderAttempt
	upserts   []domain.MultiLegPosition
	closes    []domain.ClosedPosition
	audits    []string
	published [][]byte
	streamed  int
	notified  []string
	failAll   bool
}

func (m *memSinks) fail() error {
	if m.failAll {
		return errors.New("sink down")
	}
	return nil
}

func (m *memSinks) Insert(_ context.Context, a domain.OrderAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return m.fail()
}

func (m *memSinks) ListRecent(context.Context, domain.ListOpts) ([]domain.OrderAttempt, error) {
	return m.attempts, nil
}

func (m *memSinks) Upsert(_ context.Context, pos domain.MultiLegPosition) error {
	m.upserts = append(m.upserts, pos)
	return m.fail()
}

func (m *memSinks) Close(_ context.Context, c domain.ClosedPosition) error {
	m.closes = append(m.closes, c)
	return m.fail()
}

func (m *memSinks) Log(_ context.Context, event string, _ map[string]any) error {
	m.audits = append(m.audits, event)
	return m.fail()
}

func (m *memSinks) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memSinks) Publish(_ context.Context, _ string, payload []byte) error {
	m.published = append(m.published, payload)
	return m.fail()
}

func (m *memSinks) StreamAppend(context.Context, string, []byte) error {
	m.streamed++
	return m.fail()
}

func (m *memSinks) RecordAttempt(_ context.Context, a domain.OrderAttempt) {
	m.logged = append(m.logged, a)
}

func (m *memSinks) Notify(_ context.Context, event, _, _ string) error {
	m.notified = append(m.notified, event)
	return m.fail()
}

func newJournal(m *memSinks) *JournalService {
	return NewJournalService(Sinks{
		Attempts:  m,
		Positions: m,
		Audit:     m,
		Bus:       m,
		TradeLog:  m,
		Notifier:  m,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func samplePosition() *domain.MultiLegPosition {
	now := time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC)
	pos := &domain.MultiLegPosition{
		ID: "p1", Ticker: "KXBTC15M-T", Series: "KXBTC15M",
		Strategy: domain.StrategyArbitrage, Mode: domain.ModeTwoLeg, EntryTime: now,
		Yes: &domain.Position{Side: domain.SideYes, Count: 1, EntryPrice: 0.45},
		No:  &domain.Position{Side: domain.SideNo, Count: 1, EntryPrice: 0.50},
	}
	pos.Refresh()
	return pos
}

func TestRecordAttemptFansOut(t *testing.T) {
	m := &memSinks{}
	j := newJournal(m)
	j.RecordAttempt(context.Background(), domain.OrderAttempt{ID: "a1", Ticker: "T", Status: domain.AttemptFilled})

	if len(m.attempts) != 1 || len(m.logged) != 1 || len(m.published) != 1 || m.streamed != 1 {
		t.Fatalf("attempt sinks: db=%d csv=%d pub=%d stream=%d", len(m.attempts), len(m.logged), len(m.published), m.streamed)
	}
	var evt Event
	if err := json.Unmarshal(m.published[0], &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != "order_attempt" || evt.Status != "filled" {
		t.Fatalf("event = %+v", evt)
	}
	if len(m.notified) != 0 {
		t.Fatalf("attempts should not notify: %v", m.notified)
	}
}

func TestRecordOpenSnapshotsPosition(t *testing.T) {
	m := &memSinks{}
	pos := samplePosition()
	newJournal(m).RecordOpen(context.Background(), pos)
	pos.Yes = nil

	if len(m.upserts) != 1 || m.upserts[0].Yes == nil {
		t.Fatal("upsert should hold a copy unaffected by later ledger changes")
	}
	if len(m.audits) != 1 || m.audits[0] != "position_opened" {
		t.Fatalf("audits = %v", m.audits)
	}
	if len(m.notified) != 1 || m.notified[0] != notify.EventPositionOpened {
		t.Fatalf("notified = %v", m.notified)
	}
}

func TestSinkFailuresDoNotPanicOrBlock(t *testing.T) {
	m := &memSinks{failAll: true}
	j := newJournal(m)
	ctx := context.Background()
	j.RecordClose(ctx, domain.ClosedPosition{PositionID: "p1", Ticker: "T", Sides: []domain.Side{domain.SideYes}, RealizedPnL: 0.04})
	j.RecordPartialFill(ctx, "T", domain.SideNo, errors.New("yes leg rejected"))

	if len(m.closes) != 1 {
		t.Fatal("close not attempted")
	}
	if len(m.notified) != 2 || m.notified[1] != notify.EventPartialFill {
		t.Fatalf("notified = %v", m.notified)
	}
}

func TestJournalWritesSurviveCanceledContext(t *testing.T) {
	m := &memSinks{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newJournal(m).RecordOpen(ctx, samplePosition())
	if len(m.upserts) != 1 {
		t.Fatal("upsert skipped")
	}
}

func TestDescribeOpen(t *testing.T) {
	got := describeOpen(samplePosition())
	want := "KXBTC15M-T (arbitrage, two_leg)\nyes x1 @ 0.45\nno x1 @ 0.50\ncost: 0.95\nexpected profit: 0.05"
	if got != want {
		t.Fatalf("describeOpen =\n%s\nwant\n%s", got, want)
	}
}

func TestDescribeOpenSingleLegShowsWinCase(t *testing.T) {
	pos := samplePosition()
	pos.Strategy, pos.Mode, pos.No = domain.StrategyTechnical, domain.ModeSingleLeg, nil
	got := describeOpen(pos)
	want := "KXBTC15M-T (technical, single_leg)\nyes x1 @ 0.45\ncost: 0.45\nprofit if won: 0.55"
	if got != want {
		t.Fatalf("describeOpen =\n%s\nwant\n%s", got, want)
	}
}
