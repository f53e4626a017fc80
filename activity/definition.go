package activity

import "context"

// Definition is a typed activity definition with a handler function.
// T is the input type and R the result type (both JSON-serializable).
type Definition[T, R any] struct {
	// Name is the unique identifier for this activity.
	Name string

	// Handler performs the work. It may have side effects; the workflow
	// engine memoizes its result so it runs at most once per step key.
	Handler func(ctx context.Context, input T) (R, error)

	// Policy controls retries. Zero value means [DefaultRetryPolicy].
	Policy RetryPolicy
}

// Option configures a Definition at construction time.
type Option func(*options)

type options struct {
	policy RetryPolicy
}

// WithRetryPolicy sets the retry policy for the activity.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.policy = p }
}

// NewDefinition creates a typed activity definition.
func NewDefinition[T, R any](name string, handler func(ctx context.Context, input T) (R, error), opts ...Option) *Definition[T, R] {
	o := options{policy: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Definition[T, R]{
		Name:    name,
		Handler: handler,
		Policy:  o.policy,
	}
}
