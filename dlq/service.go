package dlq

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

// Service buries exhausted tasks and reissues them on demand. It sits
// between the worker pool, which pushes, and the admin surface, which
// lists and replays.
type Service struct {
	store     Store
	taskStore task.Store
}

// NewService creates a DLQ service over the given stores.
func NewService(store Store, taskStore task.Store) *Service {
	return &Service{store: store, taskStore: taskStore}
}

// bury snapshots a failed task into an Entry. The cause is flattened to
// its string form; the original error chain does not survive the trip
// through storage.
func bury(t *task.Task, cause error, now time.Time) *Entry {
	return &Entry{
		ID:         id.NewDLQID(),
		TaskID:     t.ID,
		TaskName:   t.Name,
		Queue:      t.Queue,
		Payload:    t.Payload,
		Error:      cause.Error(),
		RetryCount: t.RetryCount,
		MaxRetries: t.MaxRetries,
		FailedAt:   now,
		CreatedAt:  now,
	}
}

// Push records a task whose retries are spent, along with the error
// that finished it off.
func (s *Service) Push(ctx context.Context, t *task.Task, taskErr error) error {
	return s.store.PushDLQ(ctx, bury(t, taskErr, time.Now().UTC()))
}

// DLQStore exposes the underlying store for List, Get, Purge, and
// Count, which need no service-level logic.
func (s *Service) DLQStore() Store {
	return s.store
}
