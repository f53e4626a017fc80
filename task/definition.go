package task

import "context"

// Definition binds a task name to a typed handler. T is the payload type
// and must round-trip through JSON.
type Definition[T any] struct {
	// Name uniquely identifies this task type across the cluster.
	Name string

	// Handler processes one decoded payload.
	Handler func(ctx context.Context, payload T) error

	// Opts carries retry, queue, priority, and timeout settings applied
	// to every task enqueued under this definition.
	Opts Options
}

// NewDefinition creates a typed task definition with the given options
// layered over the defaults.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{Name: name, Handler: handler, Opts: DefaultOptions()}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
