// Package middleware wraps task handlers with cross-cutting behavior.
//
// A [Middleware] sees the task and the next handler in line; [Chain]
// composes several into one, outermost first. The worker applies the
// composed chain around every handler invocation.
//
//	// logging wraps recover wraps the handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// The built-ins cover the usual concerns: [Logging] and [Metrics] for
// observability, [Tracing] for OpenTelemetry spans, [Recover] for
// panics, [Timeout] for per-task deadlines, and [Throttle] for pacing
// handlers that call quota-limited directory APIs.
//
// A custom middleware is just a closure over the next handler:
//
//	func audit(log *slog.Logger) middleware.Middleware {
//	    return func(ctx context.Context, t *task.Task, next middleware.Handler) error {
//	        err := next(ctx)
//	        log.Info("audited", "task", t.Name, "ok", err == nil)
//	        return err
//	    }
//	}
//
// A middleware that never calls next short-circuits the chain; do that
// only on purpose.
package middleware
