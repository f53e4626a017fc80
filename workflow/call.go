package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ExecuteActivity runs a registered activity through the retrying executor
// and memoizes its result as a checkpoint keyed by the activity name. On
// resume the cached result is returned without re-invoking the activity, so
// a result is applied to the run exactly once even though the activity
// itself may execute more than once across crashes.
//
// The invocation is recorded in the run history as task_scheduled followed
// by task_completed or task_failed.
//
// T is the input type, R is the result type. Use ExecuteActivityAs when the
// same activity is called more than once in one workflow.
func ExecuteActivity[T, R any](w *Workflow, name string, input T) (R, error) {
	return ExecuteActivityAs[T, R](w, name, name, input)
}

// ExecuteActivityAs is ExecuteActivity with an explicit checkpoint key,
// for workflows that invoke the same activity multiple times.
func ExecuteActivityAs[T, R any](w *Workflow, key, name string, input T) (R, error) {
	var zero R
	stepName := "activity:" + key

	if err := w.aborted(w.ctx); err != nil {
		return zero, err
	}

	// Check for existing checkpoint.
	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, stepName)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: get activity checkpoint %q: %w", w.run.Name, key, err)
	}
	if data != nil {
		var result R
		if len(data) > 0 {
			if decErr := json.Unmarshal(data, &result); decErr != nil {
				return zero, fmt.Errorf("workflow %s: decode activity checkpoint %q: %w", w.run.Name, key, decErr)
			}
		}
		w.logger.Debug("returning checkpointed activity result",
			slog.String("run_id", w.run.ID.String()),
			slog.String("activity", name),
		)
		return result, nil
	}

	if w.activities == nil {
		return zero, fmt.Errorf("workflow %s: activity executor not configured", w.run.Name)
	}

	inputData, marshalErr := json.Marshal(input)
	if marshalErr != nil {
		return zero, fmt.Errorf("workflow %s: marshal activity input %q: %w", w.run.Name, name, marshalErr)
	}

	w.appendHistory(HistoryTaskScheduled, name, nil)

	start := time.Now()
	output, execErr := w.activities.ExecuteRaw(w.ctx, name, inputData)
	elapsed := time.Since(start)

	if execErr != nil {
		w.appendHistory(HistoryTaskFailed, name, []byte(execErr.Error()))
		w.emitter.EmitStepFailed(w.ctx, w.run, stepName, execErr)
		return zero, fmt.Errorf("workflow %s activity %q: %w", w.run.Name, name, execErr)
	}

	var result R
	if len(output) > 0 {
		if decErr := json.Unmarshal(output, &result); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode activity output %q: %w", w.run.Name, name, decErr)
		}
	}

	// Checkpoint before anything can observe the result: the history
	// record and checkpoint together make the application exactly-once.
	if saveErr := w.store.SaveCheckpoint(w.ctx, w.run.ID, stepName, output); saveErr != nil {
		return zero, fmt.Errorf("workflow %s: save activity checkpoint %q: %w", w.run.Name, key, saveErr)
	}

	w.appendHistory(HistoryTaskCompleted, name, output)
	w.emitter.EmitStepCompleted(w.ctx, w.run, stepName, elapsed)
	return result, nil
}

// CallActor invokes an operation on a keyed actor and memoizes the result.
// Operations against the same actor key are serialized by the actor service,
// so concurrent workflows calling the same actor never interleave. The call
// is recorded once in the run history as actor_call_completed.
//
// key must be unique within the workflow when the same actor operation is
// invoked more than once.
func CallActor[T, R any](w *Workflow, key, kind, actorKey, op string, input T) (R, error) {
	var zero R
	stepName := "actor:" + key

	if err := w.aborted(w.ctx); err != nil {
		return zero, err
	}

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, stepName)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: get actor checkpoint %q: %w", w.run.Name, key, err)
	}
	if data != nil {
		var result R
		if len(data) > 0 {
			if decErr := json.Unmarshal(data, &result); decErr != nil {
				return zero, fmt.Errorf("workflow %s: decode actor checkpoint %q: %w", w.run.Name, key, decErr)
			}
		}
		w.logger.Debug("returning checkpointed actor result",
			slog.String("run_id", w.run.ID.String()),
			slog.String("actor", kind+"/"+actorKey),
			slog.String("op", op),
		)
		return result, nil
	}

	if w.actors == nil {
		return zero, fmt.Errorf("workflow %s: actor invoker not configured", w.run.Name)
	}

	inputData, marshalErr := json.Marshal(input)
	if marshalErr != nil {
		return zero, fmt.Errorf("workflow %s: marshal actor input %q: %w", w.run.Name, key, marshalErr)
	}

	start := time.Now()
	output, invokeErr := w.actors.InvokeRaw(w.ctx, kind, actorKey, op, inputData)
	elapsed := time.Since(start)

	if invokeErr != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, stepName, invokeErr)
		return zero, fmt.Errorf("workflow %s actor %s/%s op %q: %w", w.run.Name, kind, actorKey, op, invokeErr)
	}

	var result R
	if len(output) > 0 {
		if decErr := json.Unmarshal(output, &result); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode actor output %q: %w", w.run.Name, key, decErr)
		}
	}

	if saveErr := w.store.SaveCheckpoint(w.ctx, w.run.ID, stepName, output); saveErr != nil {
		return zero, fmt.Errorf("workflow %s: save actor checkpoint %q: %w", w.run.Name, key, saveErr)
	}

	w.appendHistory(HistoryActorCallCompleted, kind+"/"+actorKey+":"+op, output)
	w.emitter.EmitStepCompleted(w.ctx, w.run, stepName, elapsed)
	return result, nil
}

// SignalActor invokes an actor operation without waiting for a result.
// The signal is checkpointed so a resumed run does not re-send it.
func SignalActor[T any](w *Workflow, key, kind, actorKey, op string, input T) error {
	stepName := "signal:" + key

	if err := w.aborted(w.ctx); err != nil {
		return err
	}

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, stepName)
	if err != nil {
		return fmt.Errorf("workflow %s: get signal checkpoint %q: %w", w.run.Name, key, err)
	}
	if data != nil {
		return nil
	}

	if w.actors == nil {
		return fmt.Errorf("workflow %s: actor invoker not configured", w.run.Name)
	}

	inputData, marshalErr := json.Marshal(input)
	if marshalErr != nil {
		return fmt.Errorf("workflow %s: marshal signal input %q: %w", w.run.Name, key, marshalErr)
	}

	if signalErr := w.actors.SignalRaw(w.ctx, kind, actorKey, op, inputData); signalErr != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, stepName, signalErr)
		return fmt.Errorf("workflow %s signal %s/%s op %q: %w", w.run.Name, kind, actorKey, op, signalErr)
	}

	if saveErr := w.store.SaveCheckpoint(w.ctx, w.run.ID, stepName, []byte{}); saveErr != nil {
		return fmt.Errorf("workflow %s: save signal checkpoint %q: %w", w.run.Name, key, saveErr)
	}

	w.appendHistory(HistoryActorCallCompleted, kind+"/"+actorKey+":"+op, nil)
	return nil
}
