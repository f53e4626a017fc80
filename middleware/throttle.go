package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/calshift/calshift/task"
)

// Throttle returns middleware that blocks task execution until the given
// rate limiter permits it. Useful in front of handlers that fan out to
// quota-limited directory APIs where backpressure is preferable to
// rejection. If the context is cancelled while waiting, the task fails
// with the context error and goes through normal retry handling.
func Throttle(limiter *rate.Limiter) Middleware {
	return func(ctx context.Context, _ *task.Task, next Handler) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		return next(ctx)
	}
}
