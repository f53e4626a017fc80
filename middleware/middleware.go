package middleware

import (
	"context"
	"log/slog"
	"slices"

	"github.com/calshift/calshift/task"
)

// Handler is the innermost call that runs the task's logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting behavior. It must call
// next to keep the chain going unless it is deliberately
// short-circuiting, as a throttle or circuit breaker would.
type Middleware func(ctx context.Context, t *task.Task, next Handler) error

// Chain folds a list of middleware into one. The first element becomes
// the outermost wrapper, so Chain(logging, recover, throttle) runs
// logging around recover around throttle around the handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		h := next
		for _, mw := range slices.Backward(mws) {
			h = bindNext(mw, t, h)
		}
		return h(ctx)
	}
}

func bindNext(mw Middleware, t *task.Task, next Handler) Handler {
	return func(ctx context.Context) error {
		return mw(ctx, t, next)
	}
}

// taskAttrs returns the slog attributes every middleware log line
// shares, so task records are greppable by the same keys.
func taskAttrs(t *task.Task) []any {
	return []any{
		slog.String("task_name", t.Name),
		slog.String("task_id", t.ID.String()),
	}
}
