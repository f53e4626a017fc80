package ext

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

// Extension is the base interface every extension implements. An
// extension opts into lifecycle notifications by additionally
// implementing any of the hook interfaces below; the registry performs
// the type assertions once, at registration.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// Task lifecycle. A migration task moves through enqueued → started →
// completed/retrying/failed, with failed tasks landing in the DLQ.

// TaskEnqueued fires after a task is persisted in pending state.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, t *task.Task) error
}

// TaskStarted fires when a worker claims a task and begins executing it.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskCompleted fires after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed fires when a task fails with no retry budget left.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// TaskRetrying fires when a failed task is rescheduled for another
// attempt.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error
}

// TaskDLQ fires when an exhausted task is captured in the dead letter
// queue.
type TaskDLQ interface {
	OnTaskDLQ(ctx context.Context, t *task.Task, err error) error
}

// Workflow lifecycle. A run brackets its steps: started, then step
// completions and failures as the handler progresses, then one terminal
// completed or failed notification.

// WorkflowStarted fires when a workflow run begins.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, r *workflow.Run) error
}

// WorkflowStepCompleted fires after a durable step checkpoints.
type WorkflowStepCompleted interface {
	OnWorkflowStepCompleted(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error
}

// WorkflowStepFailed fires when a durable step returns an error.
type WorkflowStepFailed interface {
	OnWorkflowStepFailed(ctx context.Context, r *workflow.Run, stepName string, err error) error
}

// WorkflowCompleted fires after a run finishes successfully.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// WorkflowFailed fires when a run fails terminally.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, r *workflow.Run, err error) error
}

// CronFired fires when a cron entry fires and enqueues its task.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, taskID id.TaskID) error
}

// Shutdown fires during graceful engine shutdown, after workers drain.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
