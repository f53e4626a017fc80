// Package worker provides the task execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for tasks.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calshift/calshift/backoff"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/ext"
	"github.com/calshift/calshift/middleware"
	"github.com/calshift/calshift/task"
)

// Executor runs a single task through middleware and the registered handler,
// then handles retry logic, DLQ push, state updates, and lifecycle events.
type Executor struct {
	registry   *task.Registry
	extensions *ext.Registry
	store      task.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	extensions *ext.Registry,
	store task.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		logger:     logger,
	}
	e.mw = middleware.Chain(mws...)
	return e
}

// Execute runs a task through the middleware chain and handler.
// On success: marks completed, emits TaskCompleted.
// On failure with retries remaining: marks retrying with backoff, emits TaskRetrying.
// On failure with retries exhausted: marks failed, pushes to DLQ, emits TaskFailed + TaskDLQ.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	handler, ok := e.registry.Get(t.Name)
	if !ok {
		return fmt.Errorf("no handler registered for task %q", t.Name)
	}

	start := time.Now()
	err := e.mw(ctx, t, func(ctx context.Context) error {
		return handler(ctx, t.Payload)
	})
	elapsed := time.Since(start)

	now := time.Now().UTC()
	t.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, t, err, now)
	}
	return e.handleSuccess(ctx, t, now, elapsed)
}

// persist writes the task's new state, logging and returning any store
// error. Every outcome path funnels through here.
func (e *Executor) persist(ctx context.Context, t *task.Task, what string) error {
	updateErr := e.store.UpdateTask(ctx, t)
	if updateErr != nil {
		e.logger.Error("failed to update task "+what,
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("error", updateErr.Error()))
	}
	return updateErr
}

// handleSuccess marks the task as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, t *task.Task, now time.Time, elapsed time.Duration) error {
	t.State = task.StateCompleted
	t.CompletedAt = &now

	if err := e.persist(ctx, t, "after success"); err != nil {
		return err
	}
	e.extensions.EmitTaskCompleted(ctx, t, elapsed)
	return nil
}

// handleFailure increments the retry counter and either retries or sends to DLQ.
func (e *Executor) handleFailure(ctx context.Context, t *task.Task, handlerErr error, now time.Time) error {
	t.RetryCount++
	t.LastError = handlerErr.Error()

	if t.CanRetry() {
		return e.scheduleRetry(ctx, t, now)
	}
	return e.sendToDLQ(ctx, t, handlerErr)
}

// scheduleRetry sets the task to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, t *task.Task, now time.Time) error {
	delay := e.backoff.Delay(t.RetryCount)
	nextRunAt := now.Add(delay)
	t.RunAt = nextRunAt
	t.State = task.StateRetrying

	if err := e.persist(ctx, t, "for retry"); err != nil {
		return err
	}
	e.extensions.EmitTaskRetrying(ctx, t, t.RetryCount, nextRunAt)

	e.logger.Info("task scheduled for retry",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("attempt", t.RetryCount),
		slog.Int("max_retries", t.MaxRetries),
		slog.Duration("delay", delay))

	return fmt.Errorf("task %s retry %d/%d: %w", t.Name, t.RetryCount, t.MaxRetries, fmt.Errorf("%s", t.LastError))
}

// sendToDLQ marks the task as failed, pushes it to the DLQ, and emits events.
func (e *Executor) sendToDLQ(ctx context.Context, t *task.Task, handlerErr error) error {
	t.State = task.StateFailed

	if err := e.persist(ctx, t, "as failed"); err != nil {
		return err
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, t, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push task to DLQ",
				slog.String("task_id", t.ID.String()),
				slog.String("error", dlqErr.Error()))
		}
	}

	e.extensions.EmitTaskFailed(ctx, t, handlerErr)
	e.extensions.EmitTaskDLQ(ctx, t, handlerErr)

	e.logger.Warn("task moved to DLQ after exhausting retries",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("retry_count", t.RetryCount),
		slog.String("error", handlerErr.Error()))

	return handlerErr
}
