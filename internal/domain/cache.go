package domain

import (
	"context"
	"time"
)

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease; it returns ErrLockHeld when the lock was
	// lost to another holder.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// EventBus publishes execution events to other processes.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
