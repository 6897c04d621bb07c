// Package tradelog writes every order attempt to a CSV file that rotates at
// UTC midnight. Closed files can be archived to object storage.
package tradelog

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

var header = []string{
	"time", "attempt_id", "ticker", "series", "strategy", "side", "action",
	"quantity", "price", "order_id", "status", "cost", "fees", "error_code", "error",
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the time source used for rotation.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithArchive uploads each rotated file to blob under prefix.
func WithArchive(blob domain.BlobWriter, prefix string) Option {
	return func(w *Writer) {
		w.blob = blob
		w.prefix = prefix
	}
}

// Writer appends attempts to trades-YYYY-MM-DD.csv in dir.
type Writer struct {
	dir    string
	now    func() time.Time
	blob   domain.BlobWriter
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	day  string
	file *os.File
	csv  *csv.Writer
}

// New creates dir if needed and returns a Writer. No file is opened until the
// first attempt.
func New(dir string, logger *slog.Logger, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tradelog: create dir %s: %w", dir, err)
	}
	w := &Writer{
		dir:    dir,
		now:    time.Now,
		prefix: "trades",
		logger: logger.With(slog.String("component", "tradelog")),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// FileName returns the log file name for day.
func FileName(day time.Time) string {
	return "trades-" + day.UTC().Format("2006-01-02") + ".csv"
}

// RecordAttempt appends one row. Write failures are logged.
func (w *Writer) RecordAttempt(ctx context.Context, a domain.OrderAttempt) {
	if err := w.Append(ctx, a); err != nil {
		w.logger.WarnContext(ctx, "trade log write failed", slog.String("attempt_id", a.ID), slog.String("error", err.Error()))
	}
}

// Append writes a and flushes it to disk.
func (w *Writer) Append(ctx context.Context, a domain.OrderAttempt) error {
	w.mu.Lock()
	rotated, err := w.rotateLocked()
	if err == nil {
		err = w.csv.Write(row(a))
		if err == nil {
			w.csv.Flush()
			err = w.csv.Error()
		}
	}
	w.mu.Unlock()

	if rotated != "" {
		w.archive(ctx, rotated)
	}
	if err != nil {
		return fmt.Errorf("tradelog: append: %w", err)
	}
	return nil
}

// rotateLocked opens today's file, closing yesterday's. It returns the path
// of a file that was closed, if any.
func (w *Writer) rotateLocked() (string, error) {
	now := w.now()
	day := now.UTC().Format("2006-01-02")
	if w.file != nil && day == w.day {
		return "", nil
	}

	var closed string
	if w.file != nil {
		closed = w.file.Name()
		if err := w.file.Close(); err != nil {
			w.logger.Warn("close trade log failed", slog.String("file", closed), slog.String("error", err.Error()))
		}
		w.file, w.csv = nil, nil
	}

	path := filepath.Join(w.dir, FileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return closed, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return closed, fmt.Errorf("stat %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(header); err != nil {
			_ = f.Close()
			return closed, fmt.Errorf("write header: %w", err)
		}
	}
	w.day, w.file, w.csv = day, f, cw
	return closed, nil
}

func (w *Writer) archive(ctx context.Context, path string) {
	if w.blob == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.WarnContext(ctx, "read trade log for archive failed", slog.String("file", path), slog.String("error", err.Error()))
		return
	}
	key := w.prefix + "/" + filepath.Base(path)
	if err := w.blob.Put(ctx, key, bytes.NewReader(data), "text/csv"); err != nil {
		w.logger.WarnContext(ctx, "trade log archive failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	w.logger.InfoContext(ctx, "trade log archived", slog.String("key", key), slog.Int("bytes", len(data)))
}

// Close flushes and closes the current file, archiving it when an archive
// is configured.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	f := w.file
	if w.csv != nil {
		w.csv.Flush()
	}
	w.file, w.csv, w.day = nil, nil, ""
	w.mu.Unlock()

	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("tradelog: close: %w", err)
	}
	w.archive(ctx, f.Name())
	return nil
}

func row(a domain.OrderAttempt) []string {
	return []string{
		a.Time.UTC().Format(time.RFC3339),
		a.ID,
		a.Ticker,
		a.Series,
		string(a.Strategy),
		string(a.Side),
		string(a.Action),
		strconv.Itoa(a.Quantity),
		strconv.FormatFloat(a.Price, 'f', 4, 64),
		a.OrderID,
		string(a.Status),
		strconv.FormatFloat(a.Cost, 'f', 4, 64),
		strconv.FormatFloat(a.Fees, 'f', 4, 64),
		a.ErrorCode,
		a.Error,
	}
}
