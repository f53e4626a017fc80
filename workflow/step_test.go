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

// countingEmitter tallies step outcomes so tests can assert the runner
// reported them.
type countingEmitter struct {
	noopEmitter
	completed atomic.Int32
	failed    atomic.Int32
}

func (e *countingEmitter) EmitStepCompleted(_ context.Context, _ *workflow.Run, _ string, _ time.Duration) {
	e.completed.Add(1)
}

func (e *countingEmitter) EmitStepFailed(_ context.Context, _ *workflow.Run, _ string, _ error) {
	e.failed.Add(1)
}

func TestStepsRunInOrderAndEmit(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	emitter := &countingEmitter{}
	runner := workflow.NewRunner(reg, s, s, emitter, testLogger())

	var order []string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-batch", func(wf *workflow.Workflow, _ struct{}) error {
		if err := wf.Step("list-meetings", func(_ context.Context) error {
			order = append(order, "list-meetings")
			return nil
		}); err != nil {
			return err
		}
		return wf.Step("remap-attendees", func(_ context.Context) error {
			order = append(order, "remap-attendees")
			return nil
		})
	}))

	run := mustSubmit(t, runner, "migrate-batch")
	wantState(t, run, workflow.RunStateCompleted)
	if len(order) != 2 || order[0] != "list-meetings" || order[1] != "remap-attendees" {
		t.Errorf("execution order = %v", order)
	}
	if got := emitter.completed.Load(); got != 2 {
		t.Errorf("step completed events = %d, want 2", got)
	}
}

func TestStepFailureFailsRunAndEmits(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	emitter := &countingEmitter{}
	runner := workflow.NewRunner(reg, s, s, emitter, testLogger())

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-batch", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("verify-ownership", func(_ context.Context) error {
			return errors.New("directory timeout")
		})
	}))

	run := mustSubmit(t, runner, "migrate-batch")
	wantState(t, run, workflow.RunStateFailed)
	if got := emitter.failed.Load(); got != 1 {
		t.Errorf("step failed events = %d, want 1", got)
	}
}

func TestStepNotRepeatedAfterCrash(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	var calls int
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-batch", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("swap-owner", func(_ context.Context) error {
			calls++
			return nil
		})
	}))

	run := mustSubmit(t, runner, "migrate-batch")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	crashAndResume(t, s, runner, run)
	if calls != 1 {
		t.Errorf("checkpointed step ran again after resume (calls = %d)", calls)
	}
}

func TestStepWithResult(t *testing.T) {
	type tally struct {
		Batch    string
		Meetings int
	}

	t.Run("value reaches the handler", func(t *testing.T) {
		runner, reg, _ := newTestRunner()

		var got tally
		workflow.RegisterDefinition(reg, workflow.NewWorkflow("count-meetings", func(wf *workflow.Workflow, _ struct{}) error {
			r, err := workflow.StepWithResult[tally](wf, "count", func(_ context.Context) (tally, error) {
				return tally{Batch: "finance", Meetings: 42}, nil
			})
			if err != nil {
				return err
			}
			got = r
			return nil
		}))

		run := mustSubmit(t, runner, "count-meetings")
		wantState(t, run, workflow.RunStateCompleted)
		if got.Batch != "finance" || got.Meetings != 42 {
			t.Errorf("result = %+v", got)
		}
	})

	t.Run("replay reads the checkpoint, not the function", func(t *testing.T) {
		s := memory.New()
		runner, reg := newTestRunnerWithStore(s)

		var calls int
		var got int
		workflow.RegisterDefinition(reg, workflow.NewWorkflow("count-meetings", func(wf *workflow.Workflow, _ struct{}) error {
			r, err := workflow.StepWithResult[int](wf, "count", func(_ context.Context) (int, error) {
				calls++
				return 999, nil
			})
			if err != nil {
				return err
			}
			got = r
			return nil
		}))

		run := mustSubmit(t, runner, "count-meetings")
		if calls != 1 || got != 999 {
			t.Fatalf("first pass: calls = %d, got = %d", calls, got)
		}

		calls, got = 0, 0
		crashAndResume(t, s, runner, run)
		if calls != 0 {
			t.Errorf("step function re-ran on resume (calls = %d)", calls)
		}
		if got != 999 {
			t.Errorf("replayed result = %d, want 999", got)
		}
	})
}

func TestParallel(t *testing.T) {
	t.Run("all branches run", func(t *testing.T) {
		runner, reg, _ := newTestRunner()

		var done atomic.Int32
		branch := func(_ context.Context) error { done.Add(1); return nil }
		workflow.RegisterDefinition(reg, workflow.NewWorkflow("fan-work", func(wf *workflow.Workflow, _ struct{}) error {
			return wf.Parallel("remap-rooms", branch, branch, branch)
		}))

		run := mustSubmit(t, runner, "fan-work")
		wantState(t, run, workflow.RunStateCompleted)
		if done.Load() != 3 {
			t.Errorf("branches completed = %d, want 3", done.Load())
		}
	})

	t.Run("one failing branch fails the run", func(t *testing.T) {
		runner, reg, _ := newTestRunner()

		workflow.RegisterDefinition(reg, workflow.NewWorkflow("fan-work", func(wf *workflow.Workflow, _ struct{}) error {
			return wf.Parallel("remap-rooms",
				func(_ context.Context) error { return nil },
				func(_ context.Context) error { return errors.New("room not found") },
				func(_ context.Context) error { return nil },
			)
		}))

		run := mustSubmit(t, runner, "fan-work")
		wantState(t, run, workflow.RunStateFailed)
	})

	t.Run("the whole group checkpoints as one unit", func(t *testing.T) {
		s := memory.New()
		runner, reg := newTestRunnerWithStore(s)

		var done atomic.Int32
		branch := func(_ context.Context) error { done.Add(1); return nil }
		workflow.RegisterDefinition(reg, workflow.NewWorkflow("fan-work", func(wf *workflow.Workflow, _ struct{}) error {
			return wf.Parallel("remap-rooms", branch, branch)
		}))

		run := mustSubmit(t, runner, "fan-work")
		if done.Load() != 2 {
			t.Fatalf("branches completed = %d, want 2", done.Load())
		}

		done.Store(0)
		crashAndResume(t, s, runner, run)
		if done.Load() != 0 {
			t.Errorf("checkpointed group ran again after resume (%d branches)", done.Load())
		}
	})
}

func TestSleepCheckpointsAndSkipsOnResume(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("paced-batch", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Sleep("settle", 1*time.Millisecond)
	}))

	run := mustSubmit(t, runner, "paced-batch")
	wantState(t, run, workflow.RunStateCompleted)

	data, err := s.GetCheckpoint(context.Background(), run.ID, "sleep:settle")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if data == nil {
		t.Fatal("sleep left no checkpoint")
	}

	start := time.Now()
	crashAndResume(t, s, runner, run)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("resumed past a completed sleep in %v, want near-instant", elapsed)
	}
}
