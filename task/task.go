package task

import (
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
)

// State is where a task sits in its lifecycle.
type State string

const (
	// StatePending means the task is waiting for a worker to claim it.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the task.
	StateRunning State = "running"
	// StateCompleted means the task finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the task failed with no retry budget left.
	StateFailed State = "failed"
	// StateRetrying means the task failed and is scheduled to run again.
	StateRetrying State = "retrying"
	// StateCancelled means the task was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Task is one unit of migration work: remapping a mailbox batch, swapping
// a meeting's owner, verifying a directory entry. Workers claim pending
// tasks off a queue and drive them to a terminal state.
type Task struct {
	calshift.Entity

	ID          id.TaskID     `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	MaxRetries  int           `json:"max_retries"`
	RetryCount  int           `json:"retry_count"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// CanRetry reports whether the task still has retry budget.
func (t *Task) CanRetry() bool {
	return t.RetryCount <= t.MaxRetries
}
