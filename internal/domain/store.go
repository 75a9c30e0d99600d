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
	Until  *time.Time
}

// TradeStore persists transaction log entries.
type TradeStore interface {
	Insert(ctx context.Context, entry TransactionLogEntry) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TransactionLogEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first.
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
