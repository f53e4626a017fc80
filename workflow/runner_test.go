package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calshift/calshift/store/memory"
	"github.com/calshift/calshift/workflow"
)

// noopEmitter satisfies workflow.RunEmitter for tests that don't care about
// lifecycle notifications.
type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(_ context.Context, _ *workflow.Run, _ string, _ time.Duration) {
}
func (noopEmitter) EmitStepFailed(_ context.Context, _ *workflow.Run, _ string, _ error) {}
func (noopEmitter) EmitWorkflowStarted(_ context.Context, _ *workflow.Run)               {}
func (noopEmitter) EmitWorkflowCompleted(_ context.Context, _ *workflow.Run, _ time.Duration) {
}
func (noopEmitter) EmitWorkflowFailed(_ context.Context, _ *workflow.Run, _ error) {}

func TestSubmitRunsHandlerAndPersistsOutcome(t *testing.T) {
	runner, reg, s := newTestRunner()

	var got sweepInput
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, input sweepInput) error {
		got = input
		return nil
	}))

	run, err := workflow.Submit(context.Background(), runner, "sweep-mailbox", sweepInput{
		Principal: "pat@source.example",
		Meetings:  5,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	wantState(t, run, workflow.RunStateCompleted)
	if run.CompletedAt == nil {
		t.Error("completed run has no completion time")
	}
	if got.Principal != "pat@source.example" || got.Meetings != 5 {
		t.Errorf("handler input = %+v", got)
	}

	stored, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	wantState(t, stored, workflow.RunStateCompleted)
}

func TestSubmitRecordsHandlerFailure(t *testing.T) {
	runner, reg, s := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, _ struct{}) error {
		return errors.New("directory timeout")
	}))

	run := mustSubmit(t, runner, "sweep-mailbox")
	wantState(t, run, workflow.RunStateFailed)
	if run.Error != "directory timeout" {
		t.Errorf("run error = %q, want the handler's message", run.Error)
	}

	stored, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	wantState(t, stored, workflow.RunStateFailed)
}

func TestSubmitRejectsUnknownWorkflow(t *testing.T) {
	runner, _, _ := newTestRunner()
	if _, err := workflow.Submit(context.Background(), runner, "never-registered", struct{}{}); err == nil {
		t.Fatal("submitting an unregistered workflow succeeded")
	}
}

func TestResumeSkipsCheckpointedSteps(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	var firstCalls, secondCalls int
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-user", func(wf *workflow.Workflow, _ struct{}) error {
		if err := wf.Step("list-meetings", func(_ context.Context) error {
			firstCalls++
			return nil
		}); err != nil {
			return err
		}
		return wf.Step("remap-attendees", func(_ context.Context) error {
			secondCalls++
			return nil
		})
	}))

	run := mustSubmit(t, runner, "migrate-user")
	if firstCalls != 1 || secondCalls != 1 {
		t.Fatalf("first pass: calls = %d/%d, want 1/1", firstCalls, secondCalls)
	}

	firstCalls, secondCalls = 0, 0
	crashAndResume(t, s, runner, run)
	if firstCalls != 0 || secondCalls != 0 {
		t.Errorf("checkpointed steps re-ran on resume (calls = %d/%d)", firstCalls, secondCalls)
	}
}

func TestResumeAllPicksUpEveryRunningRun(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	var calls int
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-user", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("swap-owner", func(_ context.Context) error {
			calls++
			return nil
		})
	}))

	runs := []*workflow.Run{
		mustSubmit(t, runner, "migrate-user"),
		mustSubmit(t, runner, "migrate-user"),
	}
	for _, run := range runs {
		run.State = workflow.RunStateRunning
		run.CompletedAt = nil
		if err := s.UpdateRun(context.Background(), run); err != nil {
			t.Fatalf("UpdateRun: %v", err)
		}
	}

	calls = 0
	if err := runner.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if calls != 0 {
		t.Errorf("checkpointed steps re-ran during recovery (%d calls)", calls)
	}

	for _, run := range runs {
		stored, err := s.GetRun(context.Background(), run.ID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		wantState(t, stored, workflow.RunStateCompleted)
	}
}

func TestResumeRejectsFinishedRuns(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-user", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run := mustSubmit(t, runner, "migrate-user")
	if err := runner.Resume(context.Background(), run.ID); err == nil {
		t.Fatal("resuming a completed run succeeded")
	}
}

func TestTerminate(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-user", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run := mustSubmit(t, runner, "migrate-user")

	// Rewind to running so the run is terminable.
	run.State = workflow.RunStateRunning
	run.CompletedAt = nil
	if err := s.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	if err := runner.Terminate(context.Background(), run.ID, "operator request"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	stored, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	wantState(t, stored, workflow.RunStateTerminated)
	if stored.Error != "operator request" {
		t.Errorf("recorded reason = %q, want %q", stored.Error, "operator request")
	}

	if err := runner.Terminate(context.Background(), run.ID, "again"); err == nil {
		t.Fatal("terminating an already-terminal run succeeded")
	}
}

func TestTerminationOutlivesHandlerReturn(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	// The handler terminates its own run mid-flight. Its clean return must
	// not flip the record back to completed.
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("self-stop", func(wf *workflow.Workflow, _ struct{}) error {
		return runner.Terminate(wf.Context(), wf.RunID(), "stopped mid-flight")
	}))

	run := mustSubmit(t, runner, "self-stop")
	wantState(t, run, workflow.RunStateTerminated)

	stored, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	wantState(t, stored, workflow.RunStateTerminated)
}

func TestSpawnReturnsRunningRun(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	release := make(chan struct{})
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-user", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("swap-owner", func(_ context.Context) error {
			<-release
			return nil
		})
	}))

	run, err := workflow.Spawn(context.Background(), runner, "migrate-user", struct{}{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	wantState(t, run, workflow.RunStateRunning)
	if run.CompletedAt != nil {
		t.Error("spawned run already has a completion time")
	}

	close(release)
	awaitState(t, s, run.ID, workflow.RunStateCompleted)
}

func TestTerminateCancelsDescendantsAndStopsScheduling(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	parentHolding := make(chan struct{})
	releaseParent := make(chan struct{})
	parentDone := make(chan struct{})
	var lateStep atomic.Bool

	// The child blocks until its context is cancelled.
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("sweep-mailbox", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("hold", func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}))

	// The parent spawns the child, parks, and tries one more step after
	// being released. Termination must reach the child and keep the
	// parked parent from executing that step's side effect.
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-user", func(wf *workflow.Workflow, _ struct{}) error {
		defer close(parentDone)
		if _, err := workflow.SpawnChild(wf, "sweep-mailbox", struct{}{}); err != nil {
			return err
		}
		if err := wf.Step("park", func(_ context.Context) error {
			close(parentHolding)
			<-releaseParent
			return nil
		}); err != nil {
			return err
		}
		return wf.Step("after-park", func(_ context.Context) error {
			lateStep.Store(true)
			return nil
		})
	}))

	parent, err := workflow.Spawn(context.Background(), runner, "migrate-user", struct{}{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	<-parentHolding

	if err := runner.Terminate(context.Background(), parent.ID, "operator request"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	close(releaseParent)
	<-parentDone

	stored := awaitState(t, s, parent.ID, workflow.RunStateTerminated)
	if stored.Error != "operator request" {
		t.Errorf("recorded reason = %q", stored.Error)
	}
	if lateStep.Load() {
		t.Error("parent executed a step after termination")
	}

	children, err := s.ListChildRuns(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("ListChildRuns: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("children = %d, want 1", len(children))
	}
	awaitState(t, s, children[0].ID, workflow.RunStateTerminated)
}

func TestHistoryBracketsTheRun(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-user", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("swap-owner", func(_ context.Context) error { return nil })
	}))

	run := mustSubmit(t, runner, "migrate-user")

	history, err := runner.History(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) < 2 {
		t.Fatalf("history has %d entries, want at least start and finish", len(history))
	}
	if history[0].Kind != workflow.HistoryOrchestratorStarted {
		t.Errorf("first entry = %q, want %q", history[0].Kind, workflow.HistoryOrchestratorStarted)
	}
	last := history[len(history)-1]
	if last.Kind != workflow.HistoryExecutionCompleted {
		t.Errorf("last entry = %q, want %q", last.Kind, workflow.HistoryExecutionCompleted)
	}
	if string(last.Data) != string(workflow.RunStateCompleted) {
		t.Errorf("final entry records %q, want the completed state", last.Data)
	}
}
