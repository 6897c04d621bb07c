package ledger

import (
	"time"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// RecordFailure increments the failed-attempt count of ticker for the current
// period and returns the new count. A record from an earlier period restarts
// at one.
func (l *Ledger) RecordFailure(ticker string, cadence domain.Cadence) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	bucket, width := bucketOf(now, cadence)
	st, ok := l.retries[ticker]
	if !ok || st.Bucket != bucket || st.Width != width {
		st = &RetryState{Bucket: bucket, Width: width}
		l.retries[ticker] = st
	}
	st.Count++
	st.Last = now
	return st.Count
}

// Retries returns the failed-attempt count of ticker in the current period.
func (l *Ledger) Retries(ticker string, cadence domain.Cadence) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.retries[ticker]
	if !ok {
		return 0
	}
	bucket, width := bucketOf(l.now(), cadence)
	if st.Bucket != bucket || st.Width != width {
		return 0
	}
	return st.Count
}

// RetryRecord returns a copy of the retry record of ticker.
func (l *Ledger) RetryRecord(ticker string) (RetryState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.retries[ticker]
	if !ok {
		return RetryState{}, false
	}
	return *st, true
}

// ClearRetries drops the retry record of ticker.
func (l *Ledger) ClearRetries(ticker string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.retries, ticker)
}

// Sweep prunes expired period counters and retry records whose period has
// ended. It returns the number of retry records dropped.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneCountersLocked(now)
	dropped := 0
	for ticker, st := range l.retries {
		if (st.Bucket+1)*st.Width <= now.Unix() {
			delete(l.retries, ticker)
			dropped++
		}
	}
	return dropped
}

// Age returns the time since the last failed attempt.
func (st RetryState) Age(now time.Time) time.Duration {
	return now.Sub(st.Last)
}
