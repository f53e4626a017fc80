package cron

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
)

// Store is the persistence contract for cron entries. Locks are advisory
// and time-bound: a crashed worker's lock lapses after its TTL so another
// scheduler can fire the entry.
type Store interface {
	// RegisterCron persists a new entry. A duplicate name returns
	// ErrDuplicateCron.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron fetches an entry by ID.
	GetCron(ctx context.Context, entryID id.CronID) (*Entry, error)

	// ListCrons returns every registered entry.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// AcquireCronLock claims the firing lock for an entry until ttl
	// elapses. Returns false when another live worker holds it; the
	// current holder may re-acquire to extend.
	AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseCronLock drops the lock if workerID holds it; a no-op
	// otherwise.
	ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error

	// UpdateCronLastRun records when the entry last fired.
	UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error

	// UpdateCronEntry updates an entry's schedule, task, Enabled flag and
	// NextRunAt. Lock fields are owned by Acquire/Release and not touched.
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes an entry by ID.
	DeleteCron(ctx context.Context, entryID id.CronID) error
}
