package dlq

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Type filters by job type. Empty means all types.
	Type string
	// OwnerID filters by owner. Empty means all owners.
	OwnerID string
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds an entry to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns DLQ entries matching the given options, oldest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves a DLQ entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ sets ReplayedAt on an entry. The re-enqueue is handled at
	// the service layer.
	ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error

	// PurgeDLQ removes DLQ entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the dead letter queue.
	CountDLQ(ctx context.Context) (int64, error)
}
