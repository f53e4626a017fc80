package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/store/memory"
	"github.com/calshift/calshift/workflow"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRunnerWithStore creates a runner using an explicit store.
func newTestRunnerWithStore(s *memory.Store) (*workflow.Runner, *workflow.Registry) {
	reg := workflow.NewRegistry()
	runner := workflow.NewRunner(reg, s, s, noopEmitter{}, testLogger())
	return runner, reg
}

func newTestRunner() (*workflow.Runner, *workflow.Registry, *memory.Store) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)
	return runner, reg, s
}

// mustSubmit runs the named workflow with an empty input and fails the test
// on submission errors. Handler errors are reported through run.State, not
// the Submit error, so most tests want this form.
func mustSubmit(t *testing.T, runner *workflow.Runner, name string) *workflow.Run {
	t.Helper()
	run, err := workflow.Submit(context.Background(), runner, name, struct{}{})
	if err != nil {
		t.Fatalf("Submit(%q): %v", name, err)
	}
	return run
}

// crashAndResume rewinds a finished run to running, as if the process died
// mid-flight, then resumes it. Checkpointed work must not execute again.
func crashAndResume(t *testing.T, s *memory.Store, runner *workflow.Runner, run *workflow.Run) {
	t.Helper()
	run.State = workflow.RunStateRunning
	run.CompletedAt = nil
	if err := s.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
}

func wantState(t *testing.T, run *workflow.Run, want workflow.RunState) {
	t.Helper()
	if run.State != want {
		t.Errorf("run state = %q, want %q", run.State, want)
	}
}

// awaitState polls the store until the run reaches want. Spawned runs
// finish in the background, so assertions on their outcome go through
// here instead of the snapshot Spawn returned.
func awaitState(t *testing.T, s *memory.Store, runID id.RunID, want workflow.RunState) *workflow.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := s.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.State == want {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run state = %q after deadline, want %q", run.State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
