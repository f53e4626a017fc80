package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calshift/calshift"
)

// Executor runs registered activities with retry and error classification.
// It satisfies the workflow package's ActivityExecutor interface.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		logger:   logger,
	}
}

// ExecuteRaw runs the named activity with the raw JSON input, retrying
// transient failures per the activity's retry policy. Permanent errors
// (see [Permanent]) and context cancellation stop retries immediately.
// After the policy is exhausted a [*Failure] is returned carrying the
// attempt count and the last error.
func (e *Executor) ExecuteRaw(ctx context.Context, name string, input []byte) ([]byte, error) {
	handler, policy, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", calshift.ErrActivityNotFound, name)
	}

	strategy := policy.strategy()
	attempts := policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := handler(ctx, input)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) {
			e.logger.Warn("activity failed permanently",
				slog.String("activity", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == attempts {
			break
		}

		delay := strategy.Delay(attempt)
		e.logger.Warn("activity failed, retrying",
			slog.String("activity", name),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, &Failure{Name: name, Attempts: attempts, Err: lastErr}
}
