package tradelog

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

type fakeBlob struct {
	mu   sync.Mutex
	puts map[string]string
}

func (b *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.puts == nil {
		b.puts = make(map[string]string)
	}
	b.puts[path] = string(body)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	w, err := New(dir, quietLogger(), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	a := domain.OrderAttempt{
		ID: "a1", Time: now, Ticker: "KXBTC15M-26MAR021015-15", Series: "KXBTC15M",
		Side: domain.SideYes, Action: domain.ActionBuy, Quantity: 2, Price: 0.45,
		Status: domain.AttemptFilled, Cost: 0.9, Fees: 0.0063, Strategy: domain.StrategyArbitrage,
	}
	w.RecordAttempt(ctx, a)
	a.ID, a.Status, a.Error = "a2", domain.AttemptFailed, `insufficient, "balance"`
	w.RecordAttempt(ctx, a)
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	rows := readRows(t, filepath.Join(dir, "trades-2026-03-02.csv"))
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "time" || len(rows[0]) != len(header) {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][1] != "a1" || rows[1][8] != "0.4500" || rows[1][12] != "0.0063" {
		t.Fatalf("row 1 = %v", rows[1])
	}
	if rows[2][14] != `insufficient, "balance"` {
		t.Fatalf("error column not round-tripped: %q", rows[2][14])
	}
}

func TestRotationArchivesPreviousDay(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	blob := &fakeBlob{}
	w, err := New(dir, quietLogger(),
		WithClock(func() time.Time { return now }),
		WithArchive(blob, "kalshibot/trades"),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	w.RecordAttempt(ctx, domain.OrderAttempt{ID: "d1", Time: now})

	now = now.Add(2 * time.Minute)
	w.RecordAttempt(ctx, domain.OrderAttempt{ID: "d2", Time: now})

	body, ok := blob.puts["kalshibot/trades/trades-2026-03-02.csv"]
	if !ok {
		t.Fatalf("previous day not archived: %v", blob.puts)
	}
	if n := strings.Count(body, "\n"); n != 2 {
		t.Fatalf("archived body has %d lines, want header + 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "trades-2026-03-03.csv")); err != nil {
		t.Fatalf("new day file missing: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := blob.puts["kalshibot/trades/trades-2026-03-03.csv"]; !ok {
		t.Fatal("close did not archive current file")
	}
}

func TestReopenAppendsWithoutSecondHeader(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2"} {
		w, err := New(dir, quietLogger(), WithClock(func() time.Time { return now }))
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Append(ctx, domain.OrderAttempt{ID: id, Time: now}); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if rows := readRows(t, filepath.Join(dir, FileName(now))); len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
}
