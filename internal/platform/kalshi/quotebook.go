package kalshi

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// QuoteBook holds the live bid ladders of subscribed markets, built from
// websocket snapshots and deltas. It is safe for concurrent use.
type QuoteBook struct {
	mu    sync.RWMutex
	books map[string]*ladder
}

type ladder struct {
	yes     map[int64]float64 // price in basis points -> size
	no      map[int64]float64
	updated time.Time
}

// NewQuoteBook returns an empty book.
func NewQuoteBook() *QuoteBook {
	return &QuoteBook{books: make(map[string]*ladder)}
}

func priceKey(p float64) int64 { return int64(math.Round(p * 10000)) }

// ApplySnapshot replaces both ladders of ticker.
func (q *QuoteBook) ApplySnapshot(ticker string, yes, no []domain.PriceLevel, ts time.Time) {
	l := &ladder{
		yes:     make(map[int64]float64, len(yes)),
		no:      make(map[int64]float64, len(no)),
		updated: ts,
	}
	for _, lv := range yes {
		if lv.Size > 0 {
			l.yes[priceKey(lv.Price)] = lv.Size
		}
	}
	for _, lv := range no {
		if lv.Size > 0 {
			l.no[priceKey(lv.Price)] = lv.Size
		}
	}
	q.mu.Lock()
	q.books[ticker] = l
	q.mu.Unlock()
}

// ApplyDelta adjusts the size resting at price on one side of ticker.
// Levels whose size drops to zero are removed.
func (q *QuoteBook) ApplyDelta(ticker string, side domain.Side, price, delta float64, ts time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.books[ticker]
	if !ok {
		l = &ladder{yes: map[int64]float64{}, no: map[int64]float64{}}
		q.books[ticker] = l
	}
	m := l.yes
	if side == domain.SideNo {
		m = l.no
	}
	k := priceKey(price)
	if size := m[k] + delta; size > 0 {
		m[k] = size
	} else {
		delete(m, k)
	}
	l.updated = ts
}

// Orderbook returns the current ladders of ticker, best bid first.
func (q *QuoteBook) Orderbook(ticker string) (domain.Orderbook, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	l, ok := q.books[ticker]
	if !ok {
		return domain.Orderbook{}, false
	}
	return domain.Orderbook{
		Ticker:    ticker,
		YesBids:   sortedLevels(l.yes),
		NoBids:    sortedLevels(l.no),
		Timestamp: l.updated,
	}, true
}

// Quote returns the asks of ticker when both sides are quoted and the book
// was updated within maxAge of now. A zero maxAge disables the age check.
func (q *QuoteBook) Quote(ticker string, maxAge time.Duration, now time.Time) (domain.Quote, bool) {
	book, ok := q.Orderbook(ticker)
	if !ok {
		return domain.Quote{}, false
	}
	if maxAge > 0 && now.Sub(book.Timestamp) > maxAge {
		return domain.Quote{}, false
	}
	yes, okYes := book.BestAsk(domain.SideYes)
	no, okNo := book.BestAsk(domain.SideNo)
	if !okYes || !okNo || yes <= 0 || yes >= 1 || no <= 0 || no >= 1 {
		return domain.Quote{}, false
	}
	return domain.Quote{Ticker: ticker, YesAsk: yes, NoAsk: no, Time: book.Timestamp}, true
}

// Forget drops ticker from the book.
func (q *QuoteBook) Forget(ticker string) {
	q.mu.Lock()
	delete(q.books, ticker)
	q.mu.Unlock()
}

// Reset drops every ladder. Used after a reconnect, before fresh snapshots.
func (q *QuoteBook) Reset() {
	q.mu.Lock()
	q.books = make(map[string]*ladder)
	q.mu.Unlock()
}

func sortedLevels(m map[int64]float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for k, size := range m {
		out = append(out, domain.PriceLevel{Price: float64(k) / 10000, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}
