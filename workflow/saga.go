package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Compensation is an undo action registered by a completed step. When a
// workflow fails, registered compensations run in reverse order (saga
// pattern) to unwind partially completed work.
type Compensation struct {
	StepName   string
	Compensate func(ctx context.Context) error
}

// Compensations returns the compensation stack registered so far.
func (w *Workflow) Compensations() []Compensation { return w.compensations }

// RunCompensations executes all registered compensations in reverse
// (LIFO) order. Each compensation error is collected; execution continues
// through the stack so later compensations are not skipped because an
// earlier one failed. Returns the joined errors, or nil if all succeeded.
func (w *Workflow) RunCompensations() error {
	var errs []error
	for i := len(w.compensations) - 1; i >= 0; i-- {
		comp := w.compensations[i]
		w.logger.Debug("running compensation",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", comp.StepName),
		)
		if err := comp.Compensate(w.ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %q: %w", comp.StepName, err))
		}
	}
	return errors.Join(errs...)
}
