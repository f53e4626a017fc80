package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time, so emits never type-assert back to Extension.
type entry[H any] struct {
	name string
	hook H
}

// addHook appends e to the set when it implements hook interface H.
func addHook[H any](set []entry[H], e Extension) []entry[H] {
	if h, ok := any(e).(H); ok {
		return append(set, entry[H]{e.Name(), h})
	}
	return set
}

// Registry fans lifecycle notifications out to registered extensions. Each
// hook interface gets its own pre-filtered set built at registration time,
// so an emit touches only the extensions that care about that hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	taskEnqueued          []entry[TaskEnqueued]
	taskStarted           []entry[TaskStarted]
	taskCompleted         []entry[TaskCompleted]
	taskFailed            []entry[TaskFailed]
	taskRetrying          []entry[TaskRetrying]
	taskDLQ               []entry[TaskDLQ]
	workflowStarted       []entry[WorkflowStarted]
	workflowStepCompleted []entry[WorkflowStepCompleted]
	workflowStepFailed    []entry[WorkflowStepFailed]
	workflowCompleted     []entry[WorkflowCompleted]
	workflowFailed        []entry[WorkflowFailed]
	cronFired             []entry[CronFired]
	shutdown              []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension to every hook set it implements. A later emit
// notifies extensions in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.taskEnqueued = addHook(r.taskEnqueued, e)
	r.taskStarted = addHook(r.taskStarted, e)
	r.taskCompleted = addHook(r.taskCompleted, e)
	r.taskFailed = addHook(r.taskFailed, e)
	r.taskRetrying = addHook(r.taskRetrying, e)
	r.taskDLQ = addHook(r.taskDLQ, e)
	r.workflowStarted = addHook(r.workflowStarted, e)
	r.workflowStepCompleted = addHook(r.workflowStepCompleted, e)
	r.workflowStepFailed = addHook(r.workflowStepFailed, e)
	r.workflowCompleted = addHook(r.workflowCompleted, e)
	r.workflowFailed = addHook(r.workflowFailed, e)
	r.cronFired = addHook(r.cronFired, e)
	r.shutdown = addHook(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// emit invokes one hook across a set. A hook error is logged and swallowed;
// extensions never block or fail the pipeline that notified them.
func emit[H any](r *Registry, hookName string, set []entry[H], call func(H) error) {
	for _, en := range set {
		if err := call(en.hook); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", hookName),
				slog.String("extension", en.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// EmitTaskEnqueued notifies extensions that a task entered the queue.
func (r *Registry) EmitTaskEnqueued(ctx context.Context, t *task.Task) {
	emit(r, "OnTaskEnqueued", r.taskEnqueued, func(h TaskEnqueued) error {
		return h.OnTaskEnqueued(ctx, t)
	})
}

// EmitTaskStarted notifies extensions that a worker picked a task up.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *task.Task) {
	emit(r, "OnTaskStarted", r.taskStarted, func(h TaskStarted) error {
		return h.OnTaskStarted(ctx, t)
	})
}

// EmitTaskCompleted notifies extensions that a task finished successfully.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	emit(r, "OnTaskCompleted", r.taskCompleted, func(h TaskCompleted) error {
		return h.OnTaskCompleted(ctx, t, elapsed)
	})
}

// EmitTaskFailed notifies extensions that a task failed terminally.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *task.Task, taskErr error) {
	emit(r, "OnTaskFailed", r.taskFailed, func(h TaskFailed) error {
		return h.OnTaskFailed(ctx, t, taskErr)
	})
}

// EmitTaskRetrying notifies extensions that a task was rescheduled.
func (r *Registry) EmitTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) {
	emit(r, "OnTaskRetrying", r.taskRetrying, func(h TaskRetrying) error {
		return h.OnTaskRetrying(ctx, t, attempt, nextRunAt)
	})
}

// EmitTaskDLQ notifies extensions that a task was dead-lettered.
func (r *Registry) EmitTaskDLQ(ctx context.Context, t *task.Task, taskErr error) {
	emit(r, "OnTaskDLQ", r.taskDLQ, func(h TaskDLQ) error {
		return h.OnTaskDLQ(ctx, t, taskErr)
	})
}

// EmitWorkflowStarted notifies extensions that a run began executing.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	emit(r, "OnWorkflowStarted", r.workflowStarted, func(h WorkflowStarted) error {
		return h.OnWorkflowStarted(ctx, run)
	})
}

// EmitWorkflowStepCompleted notifies extensions that a step checkpointed.
func (r *Registry) EmitWorkflowStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	emit(r, "OnWorkflowStepCompleted", r.workflowStepCompleted, func(h WorkflowStepCompleted) error {
		return h.OnWorkflowStepCompleted(ctx, run, stepName, elapsed)
	})
}

// EmitWorkflowStepFailed notifies extensions that a step errored.
func (r *Registry) EmitWorkflowStepFailed(ctx context.Context, run *workflow.Run, stepName string, stepErr error) {
	emit(r, "OnWorkflowStepFailed", r.workflowStepFailed, func(h WorkflowStepFailed) error {
		return h.OnWorkflowStepFailed(ctx, run, stepName, stepErr)
	})
}

// EmitWorkflowCompleted notifies extensions that a run finished.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	emit(r, "OnWorkflowCompleted", r.workflowCompleted, func(h WorkflowCompleted) error {
		return h.OnWorkflowCompleted(ctx, run, elapsed)
	})
}

// EmitWorkflowFailed notifies extensions that a run failed or was terminated.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, runErr error) {
	emit(r, "OnWorkflowFailed", r.workflowFailed, func(h WorkflowFailed) error {
		return h.OnWorkflowFailed(ctx, run, runErr)
	})
}

// EmitCronFired notifies extensions that a cron entry enqueued its task.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, taskID id.TaskID) {
	emit(r, "OnCronFired", r.cronFired, func(h CronFired) error {
		return h.OnCronFired(ctx, entryName, taskID)
	})
}

// EmitShutdown gives extensions a chance to flush before the engine stops.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}
