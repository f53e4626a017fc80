package workflow_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/calshift/calshift/store/memory"
	"github.com/calshift/calshift/workflow"
)

func noopHandler(_ *workflow.Workflow, _ struct{}) error { return nil }

// registerVersion installs a handler under an explicit version and bumps the
// given counter when it runs, so tests can tell which revision executed.
func registerVersion(reg *workflow.Registry, name string, version int, calls *atomic.Int32, steps ...string) {
	workflow.RegisterDefinition(reg, workflow.NewWorkflowVersion(name, version,
		func(wf *workflow.Workflow, _ struct{}) error {
			calls.Add(1)
			for _, step := range steps {
				if err := wf.Step(step, func(_ context.Context) error { return nil }); err != nil {
					return err
				}
			}
			return nil
		},
	))
}

func TestRegistryTracksVersions(t *testing.T) {
	reg := workflow.NewRegistry()
	workflow.RegisterDefinition(reg, workflow.NewWorkflowVersion("migrate-batch", 1, noopHandler))
	workflow.RegisterDefinition(reg, workflow.NewWorkflowVersion("migrate-batch", 2, noopHandler))

	if v := reg.LatestVersion("migrate-batch"); v != 2 {
		t.Errorf("LatestVersion = %d, want 2", v)
	}
	if r, ok := reg.Get("migrate-batch"); !ok || r == nil {
		t.Fatal("Get did not resolve the latest revision")
	}
	for _, v := range []int{1, 2} {
		if r, ok := reg.GetVersion("migrate-batch", v); !ok || r == nil {
			t.Fatalf("GetVersion(%d) did not resolve", v)
		}
	}
	if _, ok := reg.GetVersion("migrate-batch", 3); ok {
		t.Error("GetVersion resolved a revision that was never registered")
	}
}

func TestUnversionedRegistrationIsVersionOne(t *testing.T) {
	reg := workflow.NewRegistry()
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("migrate-batch", noopHandler))

	if v := reg.LatestVersion("migrate-batch"); v != 1 {
		t.Errorf("LatestVersion = %d, want 1", v)
	}
	if _, ok := reg.GetVersion("migrate-batch", 1); !ok {
		t.Error("implicit version 1 not resolvable")
	}
}

func TestSubmitStampsLatestVersion(t *testing.T) {
	runner, reg, _ := newTestRunner()
	var calls atomic.Int32
	registerVersion(reg, "migrate-batch", 1, &calls)
	registerVersion(reg, "migrate-batch", 2, &calls)

	run := mustSubmit(t, runner, "migrate-batch")
	wantState(t, run, workflow.RunStateCompleted)
	if run.Version != 2 {
		t.Errorf("run stamped with version %d, want 2", run.Version)
	}
}

func TestResumeSticksToTheStampedVersion(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	var v1Calls, v2Calls atomic.Int32
	registerVersion(reg, "migrate-batch", 1, &v1Calls, "swap-owner")

	run := mustSubmit(t, runner, "migrate-batch")
	if run.Version != 1 || v1Calls.Load() != 1 {
		t.Fatalf("first pass: version = %d, v1 calls = %d", run.Version, v1Calls.Load())
	}

	// A new revision ships while the run is in flight. The run was stamped
	// v1, so resume must keep replaying v1.
	registerVersion(reg, "migrate-batch", 2, &v2Calls, "swap-owner")

	v1Calls.Store(0)
	crashAndResume(t, s, runner, run)
	if v1Calls.Load() != 1 {
		t.Errorf("v1 calls after resume = %d, want 1", v1Calls.Load())
	}
	if v2Calls.Load() != 0 {
		t.Errorf("resume drifted onto v2 (%d calls)", v2Calls.Load())
	}
}

func TestMigrateRunMovesToNewVersionKeepingCheckpoints(t *testing.T) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)

	var v1Calls, v2Calls atomic.Int32
	registerVersion(reg, "migrate-batch", 1, &v1Calls, "swap-owner")

	run := mustSubmit(t, runner, "migrate-batch")
	if run.Version != 1 || v1Calls.Load() != 1 {
		t.Fatalf("first pass: version = %d, v1 calls = %d", run.Version, v1Calls.Load())
	}

	// v2 keeps swap-owner and adds a verification pass. Migrating the run
	// replays against v2: the shared step hits its checkpoint, the new step
	// actually runs.
	registerVersion(reg, "migrate-batch", 2, &v2Calls, "swap-owner", "verify-ownership")

	v1Calls.Store(0)
	if err := runner.MigrateRun(context.Background(), run.ID, 2); err != nil {
		t.Fatalf("MigrateRun: %v", err)
	}
	if v2Calls.Load() != 1 {
		t.Errorf("v2 calls = %d, want 1", v2Calls.Load())
	}
	if v1Calls.Load() != 0 {
		t.Errorf("v1 ran during migration (%d calls)", v1Calls.Load())
	}

	migrated, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if migrated.Version != 2 {
		t.Errorf("stored version = %d, want 2", migrated.Version)
	}
	wantState(t, migrated, workflow.RunStateCompleted)
}
