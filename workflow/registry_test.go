package workflow_test

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/calshift/calshift/workflow"
)

type sweepInput struct {
	Principal string `json:"principal"`
	Meetings  int    `json:"meetings"`
}

// lookup fetches a registered runner closure or fails the test.
func lookup(t *testing.T, r *workflow.Registry, name string) workflow.RunnerFunc {
	t.Helper()
	runner, ok := r.Get(name)
	if !ok {
		t.Fatalf("workflow %q not registered", name)
	}
	return runner
}

func TestRegistryDecodesInputForTypedHandlers(t *testing.T) {
	r := workflow.NewRegistry()

	var got sweepInput
	workflow.RegisterDefinition(r, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, input sweepInput) error {
		got = input
		return nil
	}))

	payload, _ := json.Marshal(sweepInput{Principal: "pat@source.example", Meetings: 3})
	// The handler never touches its *Workflow, so a nil context suffices to
	// exercise the decode-and-dispatch closure.
	if err := lookup(t, r, "sweep-mailbox")(nil, payload); err != nil {
		t.Fatalf("runner: %v", err)
	}
	if got.Principal != "pat@source.example" || got.Meetings != 3 {
		t.Errorf("decoded input = %+v", got)
	}
}

func TestRegistryRunnerClosureEdges(t *testing.T) {
	t.Run("garbage payload never reaches the handler", func(t *testing.T) {
		r := workflow.NewRegistry()
		workflow.RegisterDefinition(r, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, _ sweepInput) error {
			t.Error("handler ran on undecodable input")
			return nil
		}))
		if err := lookup(t, r, "sweep-mailbox")(nil, []byte(`{not json`)); err == nil {
			t.Error("undecodable input produced no error")
		}
	})

	t.Run("nil payload is fine for empty inputs", func(t *testing.T) {
		r := workflow.NewRegistry()
		ran := false
		workflow.RegisterDefinition(r, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, _ struct{}) error {
			ran = true
			return nil
		}))
		if err := lookup(t, r, "sweep-mailbox")(nil, nil); err != nil {
			t.Fatalf("runner: %v", err)
		}
		if !ran {
			t.Error("handler never ran")
		}
	})

	t.Run("handler errors come back unwrapped", func(t *testing.T) {
		r := workflow.NewRegistry()
		want := errors.New("mailbox locked")
		workflow.RegisterDefinition(r, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, _ struct{}) error {
			return want
		}))
		if err := lookup(t, r, "sweep-mailbox")(nil, nil); !errors.Is(err, want) {
			t.Errorf("runner error = %v, want %v", err, want)
		}
	})
}

func TestRegistryUnknownName(t *testing.T) {
	r := workflow.NewRegistry()
	if _, ok := r.Get("never-registered"); ok {
		t.Error("Get resolved a name that was never registered")
	}
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	r := workflow.NewRegistry()
	workflow.RegisterDefinition(r, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, _ struct{}) error {
		return errors.New("old revision")
	}))
	workflow.RegisterDefinition(r, workflow.NewWorkflow("sweep-mailbox", func(_ *workflow.Workflow, _ struct{}) error {
		return errors.New("new revision")
	}))

	err := lookup(t, r, "sweep-mailbox")(nil, nil)
	if err == nil || err.Error() != "new revision" {
		t.Errorf("got %v, want the replacement handler's error", err)
	}
}

func TestRegistryNames(t *testing.T) {
	r := workflow.NewRegistry()
	for _, name := range []string{"migrate-user", "sweep-mailbox", "refresh-mappings"} {
		workflow.RegisterDefinition(r, workflow.NewWorkflow(name, func(_ *workflow.Workflow, _ struct{}) error { return nil }))
	}

	names := r.Names()
	sort.Strings(names)
	want := []string{"migrate-user", "refresh-mappings", "sweep-mailbox"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
