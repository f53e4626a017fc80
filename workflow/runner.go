package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/id"
)

// RunEmitter emits workflow-level lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type RunEmitter interface {
	StepEmitter
	EmitWorkflowStarted(ctx context.Context, run *Run)
	EmitWorkflowCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, run *Run, err error)
}

// Runner orchestrates workflow execution: creating runs, building
// the Workflow context, invoking handlers, and managing state.
type Runner struct {
	registry   *Registry
	store      Store
	eventStore event.Store
	emitter    RunEmitter
	logger     *slog.Logger

	activities ActivityExecutor
	actors     ActorInvoker

	// live holds the cancel function of every run executing in this
	// process, so Terminate can abort the handler instead of waiting
	// for it to notice the stored record.
	liveMu sync.Mutex
	live   map[string]context.CancelFunc
}

// NewRunner creates a workflow runner.
func NewRunner(
	registry *Registry,
	store Store,
	eventStore event.Store,
	emitter RunEmitter,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		registry:   registry,
		store:      store,
		eventStore: eventStore,
		emitter:    emitter,
		logger:     logger,
		live:       make(map[string]context.CancelFunc),
	}
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// SetActivityExecutor wires the activity executor used by ExecuteActivity.
// Called once during engine assembly, before any run starts.
func (r *Runner) SetActivityExecutor(ae ActivityExecutor) { r.activities = ae }

// SetActorInvoker wires the actor invoker used by CallActor.
// Called once during engine assembly, before any run starts.
func (r *Runner) SetActorInvoker(ai ActorInvoker) { r.actors = ai }

// Submit starts a new workflow run with a typed input.
// The input is JSON-marshaled and stored on the Run.
func Submit[T any](ctx context.Context, runner *Runner, name string, input T) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}

	return runner.SubmitRaw(ctx, name, data)
}

// Spawn starts a new workflow run with a typed input and returns without
// waiting for it to finish. The caller gets the run ID immediately and
// polls the store for progress.
func Spawn[T any](ctx context.Context, runner *Runner, name string, input T) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}

	return runner.SpawnRaw(ctx, name, data)
}

// launch creates and persists a fresh run, records the start, and hands
// back the handler to execute. Every entry point (submit, child start,
// spawn) funnels through here.
func (r *Runner) launch(ctx context.Context, name string, input []byte, parent *id.RunID) (*Run, RunnerFunc, error) {
	handler, ok := r.registry.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("no workflow registered for %q", name)
	}

	run := r.newRun(name, input, parent)
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	r.appendHistory(ctx, run, HistoryOrchestratorStarted, name, nil)
	r.emitter.EmitWorkflowStarted(ctx, run)
	return run, handler, nil
}

// SubmitRaw starts a workflow run with pre-serialized JSON input.
// The run is stamped with the latest registered version and executed
// synchronously; the returned Run is in a terminal state unless the
// process crashes mid-execution.
func (r *Runner) SubmitRaw(ctx context.Context, name string, input []byte) (*Run, error) {
	run, handler, err := r.launch(ctx, name, input, nil)
	if err != nil {
		return nil, err
	}

	r.executeRun(ctx, run, handler, input)
	return run, nil
}

// SpawnRaw starts a workflow run without waiting for it. The returned
// Run is a snapshot taken while still in the running state; execution
// continues in a background goroutine detached from the caller's
// context, so cancelling an HTTP request does not kill the run.
func (r *Runner) SpawnRaw(ctx context.Context, name string, input []byte) (*Run, error) {
	run, handler, err := r.launch(ctx, name, input, nil)
	if err != nil {
		return nil, err
	}

	snapshot := *run
	go r.executeRun(context.WithoutCancel(ctx), run, handler, input)
	return &snapshot, nil
}

// StartChildRaw starts a child workflow and blocks until it completes.
// The child run's ParentRunID is set to the given parent.
// Implements ChildStarter.
func (r *Runner) StartChildRaw(ctx context.Context, parentRunID id.RunID, name string, input []byte) (*Run, error) {
	run, handler, err := r.launch(ctx, name, input, &parentRunID)
	if err != nil {
		return nil, err
	}

	r.executeRun(ctx, run, handler, input)
	return run, nil
}

// SpawnChildRaw starts a child workflow without waiting for it: the run
// is persisted, then executes in a background goroutine.
// Implements ChildStarter.
func (r *Runner) SpawnChildRaw(ctx context.Context, parentRunID id.RunID, name string, input []byte) (*Run, error) {
	run, handler, err := r.launch(ctx, name, input, &parentRunID)
	if err != nil {
		return nil, err
	}

	snapshot := *run
	go r.executeRun(context.WithoutCancel(ctx), run, handler, input)
	return &snapshot, nil
}

// newRun builds a fresh Run record stamped with the latest version.
func (r *Runner) newRun(name string, input []byte, parent *id.RunID) *Run {
	return &Run{
		Entity:      calshift.NewEntity(),
		ID:          id.NewRunID(),
		Name:        name,
		State:       RunStateRunning,
		Input:       input,
		Version:     r.registry.LatestVersion(name),
		ParentRunID: parent,
		StartedAt:   time.Now().UTC(),
	}
}

// executeRun runs the workflow handler and settles the outcome. It
// injects the Runner itself as the ChildStarter, and triggers saga
// compensations on workflow failure.
func (r *Runner) executeRun(ctx context.Context, run *Run, handler RunnerFunc, input []byte) {
	start := time.Now()

	// The handler runs under a cancellable context registered with the
	// runner, so Terminate can abort in-flight steps.
	runCtx, cancel := context.WithCancel(ctx)
	r.track(run.ID, cancel)
	defer r.untrack(run.ID)

	wf := NewWorkflowContext(runCtx, run, r.store, r.eventStore, r.emitter, r.logger)
	wf.SetChildStarter(r) // Inject self as child starter.
	wf.SetActivityExecutor(r.activities)
	wf.SetActorInvoker(r.actors)

	err := handler(wf, input)
	elapsed := time.Since(start)

	// A concurrent Terminate wins over the handler's own outcome: the
	// terminal record an operator wrote is never overwritten.
	if stored, getErr := r.store.GetRun(ctx, run.ID); getErr == nil && stored.State == RunStateTerminated {
		r.logger.Info("run terminated while executing, keeping terminated state",
			slog.String("run_id", run.ID.String()),
		)
		*run = *stored
		return
	}

	if err != nil {
		r.compensate(wf, run)
		r.settleRun(ctx, run, RunStateFailed, err.Error())
		r.emitter.EmitWorkflowFailed(ctx, run, err)
		return
	}

	r.settleRun(ctx, run, RunStateCompleted, "")
	r.emitter.EmitWorkflowCompleted(ctx, run, elapsed)
}

// track registers the cancel function that aborts a live run.
func (r *Runner) track(runID id.RunID, cancel context.CancelFunc) {
	r.liveMu.Lock()
	r.live[runID.String()] = cancel
	r.liveMu.Unlock()
}

// untrack releases a finished run's cancel function.
func (r *Runner) untrack(runID id.RunID) {
	r.liveMu.Lock()
	if cancel, ok := r.live[runID.String()]; ok {
		cancel()
		delete(r.live, runID.String())
	}
	r.liveMu.Unlock()
}

// cancelLive aborts the in-process execution of runID, if any. Runs
// owned by another process are untouched; they stop at their next
// durable primitive when they read the terminated record.
func (r *Runner) cancelLive(runID id.RunID) {
	r.liveMu.Lock()
	if cancel, ok := r.live[runID.String()]; ok {
		cancel()
	}
	r.liveMu.Unlock()
}

// compensate unwinds the run's recorded saga compensations, if any.
func (r *Runner) compensate(wf *Workflow, run *Run) {
	if len(wf.Compensations()) == 0 {
		return
	}
	r.logger.Info("running saga compensations",
		slog.String("run_id", run.ID.String()),
		slog.Int("count", len(wf.Compensations())),
	)
	if err := wf.RunCompensations(); err != nil {
		r.logger.Error("compensation errors during workflow failure",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// settleRun writes the run's terminal state and records it in history.
// The update is best-effort; a write failure is logged, not returned,
// because the handler outcome is already decided.
func (r *Runner) settleRun(ctx context.Context, run *Run, state RunState, errMsg string) {
	now := time.Now().UTC()
	run.State = state
	run.Error = errMsg
	run.CompletedAt = &now
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("failed to update run outcome",
			slog.String("run_id", run.ID.String()),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}
	r.appendHistory(ctx, run, HistoryExecutionCompleted, run.Name, []byte(state))
}

// Resume re-executes a run left in "running" state, typically after a
// crash. Steps with checkpoints are skipped automatically, and the run
// continues on its stamped version (not necessarily the latest).
func (r *Runner) Resume(ctx context.Context, runID id.RunID) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State != RunStateRunning {
		return fmt.Errorf("run %s is in state %q: %w", runID, run.State, calshift.ErrInvalidState)
	}

	// Use version-aware lookup so existing runs continue on their version.
	handler, ok := r.registry.GetVersion(run.Name, run.Version)
	if !ok {
		return fmt.Errorf("no workflow registered for %q version %d (run %s)", run.Name, run.Version, runID)
	}

	r.appendHistory(ctx, run, HistoryOrchestratorStarted, run.Name, nil)
	r.executeRun(ctx, run, handler, run.Input)
	return nil
}

// ResumeAll resumes every run in "running" state. Called at startup for
// crash recovery.
func (r *Runner) ResumeAll(ctx context.Context) error {
	runs, err := r.store.ListRuns(ctx, ListOpts{State: RunStateRunning})
	if err != nil {
		return fmt.Errorf("list running workflow runs: %w", err)
	}

	for _, run := range runs {
		r.logger.Info("resuming workflow run",
			slog.String("run_id", run.ID.String()),
			slog.String("workflow", run.Name),
		)
		if resumeErr := r.Resume(ctx, run.ID); resumeErr != nil {
			r.logger.Error("failed to resume workflow run",
				slog.String("run_id", run.ID.String()),
				slog.String("error", resumeErr.Error()),
			)
		}
	}

	return nil
}

// Terminate cancels a running workflow and every live descendant under
// it. The run moves to the terminated state with the given reason and
// never transitions again; a handler still executing has its context
// cancelled and its in-flight results discarded, since the terminal
// record an operator wrote is never overwritten. Terminating a run that
// already reached a terminal state returns ErrInvalidState.
func (r *Runner) Terminate(ctx context.Context, runID id.RunID, reason string) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State.Terminal() {
		return fmt.Errorf("run %s is in state %q: %w", runID, run.State, calshift.ErrInvalidState)
	}

	now := time.Now().UTC()
	run.State = RunStateTerminated
	run.Error = reason
	run.CompletedAt = &now
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("terminate run %s: %w", runID, err)
	}

	r.appendHistory(ctx, run, HistoryExecutionCompleted, run.Name, []byte(RunStateTerminated))
	r.cancelLive(runID)
	r.logger.Info("workflow run terminated",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.Name),
		slog.String("reason", reason),
	)
	r.emitter.EmitWorkflowFailed(ctx, run, calshift.ErrRunTerminated)

	// The walk below must survive the self-terminate case, where ctx is
	// the run's own context and cancelLive just cancelled it.
	wctx := context.WithoutCancel(ctx)
	children, err := r.store.ListChildRuns(wctx, runID)
	if err != nil {
		return fmt.Errorf("list child runs of %s: %w", runID, err)
	}
	for _, child := range children {
		if child.State.Terminal() {
			continue
		}
		if termErr := r.Terminate(wctx, child.ID, reason); termErr != nil {
			r.logger.Warn("failed to terminate child run",
				slog.String("run_id", child.ID.String()),
				slog.String("parent_run_id", runID.String()),
				slog.String("error", termErr.Error()),
			)
		}
	}
	return nil
}

// MigrateRun upgrades a workflow run to a new version. It updates the
// run's Version field and re-executes on the new handler. Checkpoints
// are preserved so completed steps are skipped during replay on the
// new version's handler.
func (r *Runner) MigrateRun(ctx context.Context, runID id.RunID, toVersion int) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}

	// Verify the target version exists.
	handler, ok := r.registry.GetVersion(run.Name, toVersion)
	if !ok {
		return fmt.Errorf("no workflow registered for %q version %d", run.Name, toVersion)
	}

	run.Version = toVersion
	run.State = RunStateRunning
	run.Error = ""
	run.CompletedAt = nil

	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run %s version to %d: %w", runID, toVersion, err)
	}

	r.appendHistory(ctx, run, HistoryOrchestratorStarted, run.Name, nil)
	r.emitter.EmitWorkflowStarted(ctx, run)
	r.executeRun(ctx, run, handler, run.Input)

	return nil
}

// History returns a run's append-only execution history in append order.
func (r *Runner) History(ctx context.Context, runID id.RunID) ([]*HistoryEvent, error) {
	events, err := r.store.ListHistory(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list history for run %s: %w", runID, err)
	}
	return events, nil
}

// appendHistory records a runner-level history event. Best-effort, same
// as Workflow.appendHistory.
func (r *Runner) appendHistory(ctx context.Context, run *Run, kind HistoryEventKind, name string, data []byte) {
	evt := NewHistoryEvent(run.ID, kind, name, data)
	if err := r.store.AppendHistory(ctx, evt); err != nil {
		r.logger.Warn("failed to append history event",
			slog.String("run_id", run.ID.String()),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
