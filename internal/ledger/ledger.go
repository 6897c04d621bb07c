// Package ledger tracks open multi-leg positions for one runner together with
// the per-period position counters and per-market retry state that bound how
// often the runner may trade.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// DefaultRetention is how long period counters are kept.
const DefaultRetention = 4 * time.Hour

// Limits caps how many positions a strategy type may open per period.
type Limits struct {
	Arbitrage int
	Technical int
}

// Max returns the cap for strategy.
func (l Limits) Max(strategy domain.StrategyType) int {
	if strategy == domain.StrategyArbitrage {
		return l.Arbitrage
	}
	return l.Technical
}

type periodKey struct {
	bucket   int64
	width    int64
	series   string
	strategy domain.StrategyType
}

// RetryState is the failed-attempt record of one market.
type RetryState struct {
	Bucket int64
	Width  int64
	Count  int
	Last   time.Time
}

// OpenRequest describes an entry whose legs have already filled.
type OpenRequest struct {
	Ticker    string
	Series    string
	Cadence   domain.Cadence
	Strategy  domain.StrategyType
	Mode      domain.EntryMode
	Yes       *domain.Position
	No        *domain.Position
	Reference float64
}

// Removed describes an entry dropped by CleanupStale.
type Removed struct {
	Position *domain.MultiLegPosition
	Reason   string
}

// Ledger is the in-memory position store of a single runner. All methods are
// safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	limits    Limits
	retention time.Duration
	now       func() time.Time

	positions map[string]*domain.MultiLegPosition
	counters  map[periodKey]int
	retries   map[string]*RetryState
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRetention overrides how long period counters are kept.
func WithRetention(d time.Duration) Option {
	return func(l *Ledger) { l.retention = d }
}

// New creates an empty Ledger.
func New(limits Limits, opts ...Option) *Ledger {
	l := &Ledger{
		limits:    limits,
		retention: DefaultRetention,
		now:       time.Now,
		positions: make(map[string]*domain.MultiLegPosition),
		counters:  make(map[periodKey]int),
		retries:   make(map[string]*RetryState),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time { return l.now() }

func bucketOf(t time.Time, cadence domain.Cadence) (bucket, width int64) {
	width = int64(cadence.BucketWidth() / time.Second)
	return t.Unix() / width, width
}

// CanOpen reports whether an entry for ticker would be accepted now. It never
// mutates state.
func (l *Ledger) CanOpen(ticker, series string, cadence domain.Cadence, strategy domain.StrategyType) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(ticker, series, cadence, strategy)
}

func (l *Ledger) checkLocked(ticker, series string, cadence domain.Cadence, strategy domain.StrategyType) error {
	if _, ok := l.positions[ticker]; ok {
		return fmt.Errorf("%w: %s", domain.ErrPositionExists, ticker)
	}
	bucket, width := bucketOf(l.now(), cadence)
	key := periodKey{bucket: bucket, width: width, series: series, strategy: strategy}
	if limit := l.limits.Max(strategy); l.counters[key] >= limit {
		return fmt.Errorf("%w: %s %s has %d/%d this period", domain.ErrRateLimited, series, strategy, l.counters[key], limit)
	}
	return nil
}

// Open inserts an entry built from filled legs and increments the period
// counter. It is rejected without mutation when an entry already exists for
// the ticker or the period limit is reached.
func (l *Ledger) Open(req OpenRequest) (*domain.MultiLegPosition, error) {
	if req.Yes == nil && req.No == nil {
		return nil, fmt.Errorf("ledger: open %s: no filled legs", req.Ticker)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkLocked(req.Ticker, req.Series, req.Cadence, req.Strategy); err != nil {
		return nil, err
	}

	now := l.now()
	pos := &domain.MultiLegPosition{
		ID:        uuid.NewString(),
		Ticker:    req.Ticker,
		Series:    req.Series,
		Strategy:  req.Strategy,
		Mode:      req.Mode,
		Yes:       req.Yes,
		No:        req.No,
		EntryTime: now,
		Reference: req.Reference,
	}
	pos.Refresh()
	l.positions[req.Ticker] = pos

	bucket, width := bucketOf(now, req.Cadence)
	l.counters[periodKey{bucket: bucket, width: width, series: req.Series, strategy: req.Strategy}]++
	l.pruneCountersLocked(now)

	return pos.Clone(), nil
}

// Get returns a copy of the entry for ticker.
func (l *Ledger) Get(ticker string) (*domain.MultiLegPosition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[ticker]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// Remove deletes the entry for ticker and returns it.
func (l *Ledger) Remove(ticker string) (*domain.MultiLegPosition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[ticker]
	if ok {
		delete(l.positions, ticker)
	}
	return pos, ok
}

// ListOpen returns copies of every entry that still holds a leg, ordered by
// entry time.
func (l *Ledger) ListOpen() []*domain.MultiLegPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.MultiLegPosition, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status != domain.PositionStatusClosed {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Len returns the number of entries, closed ones included.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// CloseLegs removes the given legs from the entry for ticker and refreshes
// its status. An entry left without legs stays in the ledger as closed until
// the next CleanupStale. The updated entry is returned.
func (l *Ledger) CloseLegs(ticker string, yes, no bool) (*domain.MultiLegPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[ticker]
	if !ok {
		return nil, fmt.Errorf("ledger: close %s: %w", ticker, domain.ErrNotFound)
	}
	if yes {
		pos.Yes = nil
	}
	if no {
		pos.No = nil
	}
	pos.Refresh()
	return pos.Clone(), nil
}

// PeriodCount returns the number of positions opened in the current period.
func (l *Ledger) PeriodCount(series string, cadence domain.Cadence, strategy domain.StrategyType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, width := bucketOf(l.now(), cadence)
	return l.counters[periodKey{bucket: bucket, width: width, series: series, strategy: strategy}]
}

// CleanupStale removes closed entries and entries older than maxAge. A
// non-positive maxAge only removes closed entries.
func (l *Ledger) CleanupStale(maxAge time.Duration) []Removed {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var out []Removed
	for ticker, p := range l.positions {
		switch {
		case p.Status == domain.PositionStatusClosed:
			out = append(out, Removed{Position: p, Reason: "closed"})
		case maxAge > 0 && now.Sub(p.EntryTime) > maxAge:
			out = append(out, Removed{Position: p, Reason: "stale"})
		default:
			continue
		}
		delete(l.positions, ticker)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position.Ticker < out[j].Position.Ticker })
	return out
}

func (l *Ledger) pruneCountersLocked(now time.Time) {
	cutoff := now.Add(-l.retention).Unix()
	for k := range l.counters {
		if (k.bucket+1)*k.width <= cutoff {
			delete(l.counters, k)
		}
	}
}
