package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/id"
)

// StepEmitter receives step lifecycle notifications. The engine package
// adapts ext.Registry onto it, keeping this package free of an ext import.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, err error)
}

// ChildStarter starts child workflow runs. Implemented by *Runner and
// injected into the Workflow context so step.go does not reach back into
// the runner directly.
type ChildStarter interface {
	StartChildRaw(ctx context.Context, parentRunID id.RunID, name string, input []byte) (*Run, error)
	SpawnChildRaw(ctx context.Context, parentRunID id.RunID, name string, input []byte) (*Run, error)
}

// ActivityExecutor runs a named activity with retries and returns its raw
// JSON result. Satisfied by activity.Executor via an adapter in the engine
// package to break the import cycle between workflow and activity.
type ActivityExecutor interface {
	ExecuteRaw(ctx context.Context, name string, input []byte) ([]byte, error)
}

// ActorInvoker invokes operations on keyed actors. Satisfied by
// actor.Service via an adapter in the engine package.
type ActorInvoker interface {
	// InvokeRaw calls an operation on the actor identified by kind/key
	// and returns the raw JSON result.
	InvokeRaw(ctx context.Context, kind, key, op string, input []byte) ([]byte, error)
	// SignalRaw calls an operation without waiting for a result.
	SignalRaw(ctx context.Context, kind, key, op string, input []byte) error
}

// Workflow is the execution context handed to a migration handler. Its
// primitives (Step, RunActivity, FanOut, WaitForEvent, Sleep, actor calls)
// checkpoint their results, so a run resumed after a crash skips work that
// already happened, and each logical action lands in history exactly once.
type Workflow struct {
	ctx        context.Context
	run        *Run
	store      Store
	eventStore event.Store
	emitter    StepEmitter
	logger     *slog.Logger

	childStarter  ChildStarter
	activities    ActivityExecutor
	actors        ActorInvoker
	compensations []Compensation
}

// NewWorkflowContext builds the execution context for one run. Only the
// runner calls this; handlers receive the result.
func NewWorkflowContext(
	ctx context.Context,
	run *Run,
	store Store,
	eventStore event.Store,
	emitter StepEmitter,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		ctx:        ctx,
		run:        run,
		store:      store,
		eventStore: eventStore,
		emitter:    emitter,
		logger:     logger,
	}
}

// SetChildStarter injects the child workflow starter. Called by the runner.
func (w *Workflow) SetChildStarter(cs ChildStarter) { w.childStarter = cs }

// SetActivityExecutor injects the activity executor. Called by the runner.
func (w *Workflow) SetActivityExecutor(ae ActivityExecutor) { w.activities = ae }

// SetActorInvoker injects the actor invoker. Called by the runner.
func (w *Workflow) SetActorInvoker(ai ActorInvoker) { w.actors = ai }

// Context returns the context the run is executing under.
func (w *Workflow) Context() context.Context { return w.ctx }

// RunID returns the ID of the executing run.
func (w *Workflow) RunID() id.RunID { return w.run.ID }

// Run returns the executing run record.
func (w *Workflow) Run() *Run { return w.run }

// SetOutput records the workflow's result value. The value is JSON-marshaled
// onto the Run and persisted when the run completes, so parents composing
// this workflow via RunChild or FanOut can decode it.
func (w *Workflow) SetOutput(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("workflow %s: marshal output: %w", w.run.Name, err)
	}
	w.run.Output = data
	return nil
}

// appendHistory records one history event for this run. History writes are
// best-effort relative to the workflow itself: a failed append is logged
// but never fails the step that produced it.
func (w *Workflow) appendHistory(kind HistoryEventKind, name string, data []byte) {
	evt := NewHistoryEvent(w.run.ID, kind, name, data)
	if err := w.store.AppendHistory(w.ctx, evt); err != nil {
		w.logger.Warn("failed to append history event",
			slog.String("run_id", w.run.ID.String()),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
