package task

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
)

// ListOpts paginates and filters task list queries.
type ListOpts struct {
	// Limit caps the result size. Zero means no limit.
	Limit int
	// Offset skips that many tasks.
	Offset int
	// Queue restricts results to one queue. Empty means all queues.
	Queue string
}

// CountOpts filters task count queries.
type CountOpts struct {
	// Queue restricts the count to one queue. Empty means all queues.
	Queue string
	// State restricts the count to one state. Empty means all states.
	State State
}

// Store is the persistence contract for tasks. The memory, sqlite, and
// postgres backends all satisfy it.
type Store interface {
	// EnqueueTask persists a new task in pending state.
	EnqueueTask(ctx context.Context, t *Task) error

	// DequeueTasks atomically claims up to limit due tasks from the given
	// queues and flips them to running. Claim order is priority descending,
	// then RunAt ascending, so urgent cutover work goes first.
	DequeueTasks(ctx context.Context, queues []string, limit int) ([]*Task, error)

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// UpdateTask persists changes to an existing task.
	UpdateTask(ctx context.Context, t *Task) error

	// DeleteTask removes a task by ID.
	DeleteTask(ctx context.Context, taskID id.TaskID) error

	// ListTasksByState returns tasks in the given state.
	ListTasksByState(ctx context.Context, state State, opts ListOpts) ([]*Task, error)

	// HeartbeatTask refreshes a running task's liveness timestamp on
	// behalf of the worker executing it.
	HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error

	// ReapStaleTasks returns running tasks whose last heartbeat is older
	// than threshold. Their worker is presumed dead and the tasks are
	// candidates for re-dispatch.
	ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*Task, error)

	// CountTasks returns the number of tasks matching opts.
	CountTasks(ctx context.Context, opts CountOpts) (int64, error)
}
