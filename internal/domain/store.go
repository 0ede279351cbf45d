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

// MarketStateStore persists the latest funding state of each market so a
// restarted process can resume the cumulative index.
type MarketStateStore interface {
	Save(ctx context.Context, snap MarketSnapshot) error
	LoadAll(ctx context.Context) ([]MarketSnapshot, error)
}

// FundingHistoryStore persists every committed funding outcome.
type FundingHistoryStore interface {
	Insert(ctx context.Context, o FundingOutcome) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]FundingOutcome, error)
	ListBefore(ctx context.Context, before time.Time) ([]FundingOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log. List with an empty event
// returns every event.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
