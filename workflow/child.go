package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calshift/calshift/id"

	"golang.org/x/sync/errgroup"
)

// Child inputs and outputs travel as JSON so parent and child agree on a
// wire shape regardless of their Go types.

// startChild launches a registered workflow as a blocking child of this
// run and waits for it to finish.
func (w *Workflow) startChild(ctx context.Context, name string, input any) (*Run, error) {
	if w.childStarter == nil {
		return nil, fmt.Errorf("workflow %s: child starter not configured", w.run.Name)
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: marshal input for child %q: %w", w.run.Name, name, err)
	}
	w.appendHistory(HistorySubOrchestrationScheduled, name, nil)
	return w.childStarter.StartChildRaw(ctx, w.run.ID, name, payload)
}

// decodeOutput unmarshals a finished run's output. Runs that set no output
// decode to the zero value.
func decodeOutput[R any](run *Run) (R, error) {
	var out R
	if len(run.Output) == 0 {
		return out, nil
	}
	err := json.Unmarshal(run.Output, &out)
	return out, err
}

// RunChild starts a child workflow and blocks until it completes, returning
// its decoded output. The child is linked to this run via ParentRunID and
// the output is checkpointed, so a replayed parent does not start a second
// child.
func RunChild[T, R any](w *Workflow, name string, input T) (R, error) {
	var zero R
	key := "child:" + name

	if data, done, err := w.replayed(w.ctx, key); err != nil {
		return zero, err
	} else if done {
		var cached R
		if decErr := json.Unmarshal(data, &cached); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode child checkpoint %q: %w", w.run.Name, name, decErr)
		}
		w.replayLog("child", name)
		return cached, nil
	}

	start := time.Now()
	childRun, err := w.startChild(w.ctx, name, input)
	if err != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, key, err)
		return zero, fmt.Errorf("workflow %s child %q: %w", w.run.Name, name, err)
	}
	if childRun.State != RunStateCompleted {
		childErr := fmt.Errorf("child workflow %q failed: %s", name, childRun.Error)
		w.emitter.EmitStepFailed(w.ctx, w.run, key, childErr)
		return zero, childErr
	}
	w.appendHistory(HistorySubOrchestrationCompleted, name, childRun.Output)

	result, err := decodeOutput[R](childRun)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: decode child output %q: %w", w.run.Name, name, err)
	}

	chk, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: encode child checkpoint %q: %w", w.run.Name, name, err)
	}
	if err := w.persist(w.ctx, key, chk); err != nil {
		return zero, err
	}
	w.emitter.EmitStepCompleted(w.ctx, w.run, key, time.Since(start))
	return result, nil
}

// SpawnChild starts a child workflow without waiting for it and returns the
// child's run ID. The checkpoint stores the ID, so a replayed parent gets
// the same child back instead of spawning another.
func SpawnChild[T any](w *Workflow, name string, input T) (id.RunID, error) {
	key := "spawn:" + name

	if data, done, err := w.replayed(w.ctx, key); err != nil {
		return id.Nil, err
	} else if done {
		childID, parseErr := id.ParseRunID(string(data))
		if parseErr != nil {
			return id.Nil, fmt.Errorf("workflow %s: decode spawn checkpoint %q: %w", w.run.Name, name, parseErr)
		}
		w.replayLog("spawn", name)
		return childID, nil
	}

	if w.childStarter == nil {
		return id.Nil, fmt.Errorf("workflow %s: child starter not configured", w.run.Name)
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return id.Nil, fmt.Errorf("workflow %s: marshal input for spawn %q: %w", w.run.Name, name, err)
	}

	start := time.Now()
	w.appendHistory(HistorySubOrchestrationScheduled, name, nil)
	childRun, err := w.childStarter.SpawnChildRaw(w.ctx, w.run.ID, name, payload)
	if err != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, key, err)
		return id.Nil, fmt.Errorf("workflow %s spawn %q: %w", w.run.Name, name, err)
	}

	if err := w.persist(w.ctx, key, []byte(childRun.ID.String())); err != nil {
		return id.Nil, err
	}
	w.emitter.EmitStepCompleted(w.ctx, w.run, key, time.Since(start))
	return childRun.ID, nil
}

// FanOut starts one child per input, all running the same workflow, and
// collects their outputs in input order. Any child failure cancels the rest
// and fails the fan-out. Finished children are checkpointed individually,
// so a crash mid-fan-out only re-runs the unfinished ones.
func FanOut[T, R any](w *Workflow, name string, inputs []T) ([]R, error) {
	groupKey := "fanout:" + name

	if data, done, err := w.replayed(w.ctx, groupKey); err != nil {
		return nil, err
	} else if done {
		var cached []R
		if decErr := json.Unmarshal(data, &cached); decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode fanout checkpoint %q: %w", w.run.Name, name, decErr)
		}
		w.replayLog("fanout", name)
		return cached, nil
	}

	results := make([]R, len(inputs))
	g, gctx := errgroup.WithContext(w.ctx)
	for i, input := range inputs {
		g.Go(func() error {
			key := fmt.Sprintf("child:%s:%d", name, i)

			data, done, chkErr := w.replayed(gctx, key)
			if chkErr != nil {
				return chkErr
			}
			if done {
				return json.Unmarshal(data, &results[i])
			}

			childRun, startErr := w.startChild(gctx, name, input)
			if startErr != nil {
				return fmt.Errorf("fanout child %d: %w", i, startErr)
			}
			if childRun.State != RunStateCompleted {
				return fmt.Errorf("fanout child %d failed: %s", i, childRun.Error)
			}

			result, decErr := decodeOutput[R](childRun)
			if decErr != nil {
				return fmt.Errorf("decode fanout child %d output: %w", i, decErr)
			}
			chk, encErr := json.Marshal(result)
			if encErr != nil {
				return fmt.Errorf("encode fanout child %d checkpoint: %w", i, encErr)
			}
			if saveErr := w.store.SaveCheckpoint(gctx, w.run.ID, key, chk); saveErr != nil {
				return saveErr
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("workflow %s fanout %q: %w", w.run.Name, name, err)
	}

	chk, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: encode fanout checkpoint %q: %w", w.run.Name, name, err)
	}
	if err := w.persist(w.ctx, groupKey, chk); err != nil {
		return nil, err
	}
	return results, nil
}

// ChildOutcome is the settled result of one fan-out child: either a decoded
// output or the child's failure message.
type ChildOutcome[R any] struct {
	Result R      `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the child ended in failure.
func (o ChildOutcome[R]) Failed() bool { return o.Error != "" }

// FanOutSettled starts one child per input and waits for all of them, like
// FanOut, but child failures do not cancel the siblings. Each outcome
// records either the child's output or its error; only infrastructure
// errors fail the fan-out itself.
func FanOutSettled[T, R any](w *Workflow, name string, inputs []T) ([]ChildOutcome[R], error) {
	groupKey := "settled:" + name

	if data, done, err := w.replayed(w.ctx, groupKey); err != nil {
		return nil, err
	} else if done {
		var cached []ChildOutcome[R]
		if decErr := json.Unmarshal(data, &cached); decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode settled checkpoint %q: %w", w.run.Name, name, decErr)
		}
		w.replayLog("settled fanout", name)
		return cached, nil
	}

	outcomes := make([]ChildOutcome[R], len(inputs))
	g, gctx := errgroup.WithContext(w.ctx)
	for i, input := range inputs {
		g.Go(func() error {
			key := fmt.Sprintf("settled:%s:%d", name, i)

			data, done, chkErr := w.replayed(gctx, key)
			if chkErr != nil {
				return chkErr
			}
			if done {
				return json.Unmarshal(data, &outcomes[i])
			}

			var outcome ChildOutcome[R]
			childRun, startErr := w.startChild(gctx, name, input)
			switch {
			case startErr != nil:
				return fmt.Errorf("settled child %d: %w", i, startErr)
			case childRun.State != RunStateCompleted:
				outcome.Error = childRun.Error
			default:
				result, decErr := decodeOutput[R](childRun)
				if decErr != nil {
					return fmt.Errorf("decode settled child %d output: %w", i, decErr)
				}
				outcome.Result = result
			}

			chk, encErr := json.Marshal(outcome)
			if encErr != nil {
				return fmt.Errorf("encode settled child %d checkpoint: %w", i, encErr)
			}
			if saveErr := w.store.SaveCheckpoint(gctx, w.run.ID, key, chk); saveErr != nil {
				return saveErr
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("workflow %s settled fanout %q: %w", w.run.Name, name, err)
	}

	chk, err := json.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: encode settled checkpoint %q: %w", w.run.Name, name, err)
	}
	if err := w.persist(w.ctx, groupKey, chk); err != nil {
		return nil, err
	}
	return outcomes, nil
}
