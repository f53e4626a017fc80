package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Step executes a named step at most once per run. A checkpoint hit means
// the step already ran before a crash or migration, so it is skipped.
func (w *Workflow) Step(name string, fn func(ctx context.Context) error) error {
	if _, done, err := w.replayed(w.ctx, name); err != nil {
		return err
	} else if done {
		w.replayLog("step", name)
		return nil
	}
	return w.execStep(name, fn, func() error {
		return w.mark(w.ctx, name)
	})
}

// StepWithResult executes a named step whose return value is memoized.
// On replay the cached value is decoded and returned without calling fn.
//
// Package-level because Go has no generic methods.
func StepWithResult[T any](w *Workflow, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T

	if data, done, err := w.replayed(w.ctx, name); err != nil {
		return out, err
	} else if done {
		cached, decErr := gobDecode[T](data)
		if decErr != nil {
			return out, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.run.Name, name, decErr)
		}
		w.replayLog("step result", name)
		return cached, nil
	}

	err := w.execStep(name, func(ctx context.Context) error {
		v, fnErr := fn(ctx)
		if fnErr != nil {
			return fnErr
		}
		out = v
		return nil
	}, func() error {
		data, encErr := gobEncode(out)
		if encErr != nil {
			return fmt.Errorf("workflow %s: encode checkpoint %q: %w", w.run.Name, name, encErr)
		}
		return w.persist(w.ctx, name, data)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Parallel runs branches concurrently and waits for all of them. Each
// branch checkpoints independently, so a crash mid-group only re-runs the
// branches that had not finished. The first branch error cancels the rest.
func (w *Workflow) Parallel(group string, branches ...func(ctx context.Context) error) error {
	groupKey := "parallel:" + group

	if _, done, err := w.replayed(w.ctx, groupKey); err != nil {
		return err
	} else if done {
		w.replayLog("parallel group", group)
		return nil
	}

	g, gctx := errgroup.WithContext(w.ctx)
	for i, branch := range branches {
		key := fmt.Sprintf("parallel:%s:%d", group, i)
		g.Go(func() error {
			if _, done, err := w.replayed(gctx, key); err != nil || done {
				return err
			}
			start := time.Now()
			if err := branch(gctx); err != nil {
				w.emitter.EmitStepFailed(w.ctx, w.run, key, err)
				return err
			}
			if err := w.mark(gctx, key); err != nil {
				return err
			}
			w.emitter.EmitStepCompleted(w.ctx, w.run, key, time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("workflow %s parallel %q: %w", w.run.Name, group, err)
	}
	return w.mark(w.ctx, groupKey)
}

// Sleep pauses the run for d. The elapsed sleep is checkpointed, so a run
// resumed after a crash does not wait again. Cancelling the run context
// interrupts the sleep.
func (w *Workflow) Sleep(name string, d time.Duration) error {
	key := "sleep:" + name

	if _, done, err := w.replayed(w.ctx, key); err != nil {
		return err
	} else if done {
		w.replayLog("sleep", name)
		return nil
	}

	select {
	case <-time.After(d):
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.appendHistory(HistoryTimerFired, name, nil)
	return w.mark(w.ctx, key)
}

// StepWithCompensation runs a step and, on success, registers an undo
// function. If the run fails later, registered compensations execute in
// reverse order to roll back completed work.
func (w *Workflow) StepWithCompensation(
	name string,
	execute func(ctx context.Context) error,
	compensate func(ctx context.Context) error,
) error {
	if err := w.Step(name, execute); err != nil {
		return err
	}
	w.compensations = append(w.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return nil
}

// StepWithResultAndCompensation is StepWithResult plus an undo function,
// registered only after the step succeeds.
func StepWithResultAndCompensation[T any](
	w *Workflow,
	name string,
	execute func(ctx context.Context) (T, error),
	compensate func(ctx context.Context) error,
) (T, error) {
	result, err := StepWithResult(w, name, execute)
	if err != nil {
		return result, err
	}
	w.compensations = append(w.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return result, nil
}
