package dlq

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
)

// ListOpts controls pagination and filtering for dead letter listings.
type ListOpts struct {
	// Limit caps the number of entries returned. Zero means no cap.
	Limit int
	// Offset skips the first N entries, newest failures first.
	Offset int
	// Queue restricts the listing to one queue. Empty means all.
	Queue string
}

// Store is the persistence contract for the dead letter queue. Entries
// land here when a task exhausts its retries; operators inspect, replay
// or purge them.
type Store interface {
	// PushDLQ records an exhausted task.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching opts, newest failures first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ fetches one entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ stamps an entry as replayed. Re-enqueuing the underlying
	// task is the replay service's job, not the store's.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ deletes entries that failed before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
