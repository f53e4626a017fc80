package workflow

// Definition binds a workflow name to its typed orchestrator function.
// T is the run input and must round-trip through JSON, since it is
// persisted on the Run row.
type Definition[T any] struct {
	// Name identifies the workflow type, e.g. "migrate-tenant".
	Name string

	// Version separates incompatible revisions of the orchestrator.
	// Zero means version 1. In-flight runs stay pinned to the version
	// they started on.
	Version int

	// Handler drives the run. The *Workflow argument carries Step,
	// Parallel, Sleep, and the event waits; activities, actors, and
	// child workflows go through the package-level generic helpers.
	Handler func(wf *Workflow, input T) error
}

// NewWorkflow creates a typed workflow definition at version 1.
func NewWorkflow[T any](name string, handler func(wf *Workflow, input T) error) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler}
}

// NewWorkflowVersion creates a typed workflow definition at a specific version.
func NewWorkflowVersion[T any](name string, version int, handler func(wf *Workflow, input T) error) *Definition[T] {
	return &Definition[T]{Name: name, Version: version, Handler: handler}
}
