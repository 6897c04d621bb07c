package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRunner struct {
	asset     string
	cycles    int64
	positions []*domain.MultiLegPosition
}

func (f *fakeRunner) Asset() string { return f.asset }
func (f *fakeRunner) Cycles() int64 { return f.cycles }
func (f *fakeRunner) Positions() []*domain.MultiLegPosition { return f.positions }

type fakeAttempts struct {
	rows []domain.OrderAttempt
	opts domain.ListOpts
	err  error
}

func (f *fakeAttempts) Insert(context.Context, domain.OrderAttempt) error { return nil }
func (f *fakeAttempts) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.OrderAttempt, error) {
	f.opts = opts
	return f.rows, f.err
}

type fakeClosed struct {
	rows []domain.ClosedPosition
	err  error
}

func (f *fakeClosed) ListClosed(context.Context, domain.ListOpts) ([]domain.ClosedPosition, error) {
	return f.rows, f.err
}

func twoLeg(id string, at time.Time) *domain.MultiLegPosition {
	return &domain.MultiLegPosition{
		ID:        id,
		Ticker:    "KXBTC15M-26MAR021215-15",
		Series:    "KXBTC15M",
		Strategy:  domain.StrategyArbitrage,
		Mode:      domain.ModeTwoLeg,
		Status:    domain.PositionStatusOpen,
		EntryTime: at,
		Yes:       &domain.Position{Side: domain.SideYes, Count: 10, EntryPrice: 0.45, EntryTime: at},
		No:        &domain.Position{Side: domain.SideNo, Count: 10, EntryPrice: 0.50, EntryTime: at},
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9999&offset=5&since=2026-03-02T12:00:00Z", nil)
	opts, err := parseListOpts(r)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Limit != 500 || opts.Offset != 5 || opts.Since == nil || opts.Since.Hour() != 12 {
		t.Fatalf("opts = %+v", opts)
	}

	opts, err = parseListOpts(httptest.NewRequest(http.MethodGet, "/?limit=-1", nil))
	if err != nil || opts.Limit != 50 {
		t.Fatalf("default limit = %d, err %v", opts.Limit, err)
	}

	if _, err := parseListOpts(httptest.NewRequest(http.MethodGet, "/?since=yesterday", nil)); err == nil {
		t.Fatal("bad since accepted")
	}
}

func TestHealthCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"postgres": ok}, discard).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"postgres": ok, "redis": down}, discard).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded code = %d", rec.Code)
	}
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	decode(t, rec, &body)
	if body.Status != "degraded" || body.Dependencies["redis"] != "connection refused" || body.Dependencies["postgres"] != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestStatusSummarisesRunners(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h := NewStatusHandler("paper", []Runner{
		&fakeRunner{asset: "BTC", cycles: 7, positions: []*domain.MultiLegPosition{twoLeg("a", start)}},
		&fakeRunner{asset: "ETH"},
	}, start)
	h.now = func() time.Time { return start.Add(90 * time.Second) }

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body struct {
		Mode    string         `json:"mode"`
		Uptime  int64          `json:"uptime_seconds"`
		Runners []runnerStatus `json:"runners"`
	}
	decode(t, rec, &body)
	if body.Mode != "paper" || body.Uptime != 90 || len(body.Runners) != 2 {
		t.Fatalf("body = %+v", body)
	}
	btc := body.Runners[0]
	if btc.Asset != "BTC" || btc.Cycles != 7 || btc.Open != 1 || btc.Exposure < 9.49 || btc.Exposure > 9.51 {
		t.Fatalf("btc = %+v", btc)
	}
}

func TestListOpenMergesRunnersOldestFirst(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h := NewPositionHandler([]Runner{
		&fakeRunner{asset: "ETH", positions: []*domain.MultiLegPosition{twoLeg("late", t0.Add(time.Minute))}},
		&fakeRunner{asset: "BTC", positions: []*domain.MultiLegPosition{twoLeg("early", t0)}},
	}, nil, discard)

	rec := httptest.NewRecorder()
	h.ListOpen(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	var body struct {
		Positions []positionView `json:"positions"`
	}
	decode(t, rec, &body)
	if len(body.Positions) != 2 || body.Positions[0].ID != "early" || body.Positions[0].Asset != "BTC" {
		t.Fatalf("positions = %+v", body.Positions)
	}
	if len(body.Positions[0].Legs) != 2 || body.Positions[0].Legs[0].Side != "yes" {
		t.Fatalf("legs = %+v", body.Positions[0].Legs)
	}
}

func TestListClosed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPositionHandler(nil, nil, discard).ListClosed(rec, httptest.NewRequest(http.MethodGet, "/api/positions/closed", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("without store code = %d", rec.Code)
	}

	store := &fakeClosed{rows: []domain.ClosedPosition{{PositionID: "p1", Reason: "profit_target", RealizedPnL: 0.8}}}
	rec = httptest.NewRecorder()
	NewPositionHandler(nil, store, discard).ListClosed(rec, httptest.NewRequest(http.MethodGet, "/api/positions/closed", nil))
	var body struct {
		Positions []closedView `json:"positions"`
	}
	decode(t, rec, &body)
	if len(body.Positions) != 1 || body.Positions[0].Reason != "profit_target" {
		t.Fatalf("closed = %+v", body.Positions)
	}

	store.err = errors.New("boom")
	rec = httptest.NewRecorder()
	NewPositionHandler(nil, store, discard).ListClosed(rec, httptest.NewRequest(http.MethodGet, "/api/positions/closed", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("store error code = %d", rec.Code)
	}
}

func TestListAttempts(t *testing.T) {
	store := &fakeAttempts{rows: []domain.OrderAttempt{{
		ID: "a1", Ticker: "KXBTC15M-X", Side: domain.SideYes, Status: domain.AttemptFailed, ErrorCode: "insufficient_balance",
	}}}
	h := NewAttemptHandler(store, discard)

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/attempts?limit=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if store.opts.Limit != 3 {
		t.Fatalf("limit passed = %d", store.opts.Limit)
	}
	var body struct {
		Attempts []attemptView `json:"attempts"`
	}
	decode(t, rec, &body)
	if len(body.Attempts) != 1 || body.Attempts[0].ErrorCode != "insufficient_balance" || body.Attempts[0].Side != "yes" {
		t.Fatalf("attempts = %+v", body.Attempts)
	}

	rec = httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/attempts?since=nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since code = %d", rec.Code)
	}
}
