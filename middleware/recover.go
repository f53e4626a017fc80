package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/calshift/calshift/task"
)

// Recover turns a panicking handler into a failed task instead of a
// dead worker. The panic value and stack are logged, and the task goes
// through normal retry handling.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			attrs := append(taskAttrs(t),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			logger.Error("task handler panicked", attrs...)
			retErr = fmt.Errorf("panic in task %s: %v", t.Name, r)
		}()
		return next(ctx)
	}
}
