package middleware

import (
	"context"
	"log/slog"

	"github.com/calshift/calshift/task"
)

// Timeout applies the task's own Timeout as a context deadline. Tasks
// with a zero Timeout run unbounded. On expiry the handler sees a
// cancelled context and should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		if t.Timeout <= 0 {
			return next(ctx)
		}
		logger.Debug("task timeout set",
			slog.String("task_id", t.ID.String()),
			slog.Duration("timeout", t.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()
		return next(ctx)
	}
}
