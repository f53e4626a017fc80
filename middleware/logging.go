package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/calshift/calshift/task"
)

// Logging records one line when a task starts and one when it settles,
// with the elapsed time and, on failure, the error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		startAttrs := append(taskAttrs(t), slog.String("queue", t.Queue))
		logger.Info("task started", startAttrs...)

		start := time.Now()
		err := next(ctx)

		attrs := append(taskAttrs(t), slog.Duration("elapsed", time.Since(start)))
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.Error("task failed", attrs...)
		} else {
			logger.Info("task completed", attrs...)
		}
		return err
	}
}
