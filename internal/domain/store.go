package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// AttemptStore persists order attempts.
type AttemptStore interface {
	Insert(ctx context.Context, a OrderAttempt) error
	ListRecent(ctx context.Context, opts ListOpts) ([]OrderAttempt, error)
}

// PositionStore persists the lifecycle of ledger entries.
type PositionStore interface {
	Upsert(ctx context.Context, pos MultiLegPosition) error
	Close(ctx context.Context, c ClosedPosition) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Journal receives every execution event. Implementations must not block the
// trading cycle for long and report their own failures through logging.
type Journal interface {
	RecordAttempt(ctx context.Context, a OrderAttempt)
	RecordOpen(ctx context.Context, pos *MultiLegPosition)
	RecordClose(ctx context.Context, c ClosedPosition)
	RecordPartialFill(ctx context.Context, ticker string, filled Side, err error)
}
