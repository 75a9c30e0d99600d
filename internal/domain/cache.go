package domain

import (
	"context"
	"time"
)

// ProcessedOrderSet records order identifiers that have already been queued.
// It only grows.
type ProcessedOrderSet interface {
	Contains(ctx context.Context, orderID string) (bool, error)
	// Add records orderID and reports whether it was not present before.
	Add(ctx context.Context, orderID string) (bool, error)
	Len(ctx context.Context) (int64, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventPublisher fans out trade lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SignalBus provides pub/sub.
type SignalBus interface {
	EventPublisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
