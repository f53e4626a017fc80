package workflow

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
)

// Checkpoint memoizes the outcome of one durable primitive within a run.
// Replaying a run consults checkpoints before executing anything, which is
// what makes crash recovery skip work that already happened.
type Checkpoint struct {
	ID        id.CheckpointID `json:"id"`
	RunID     id.RunID        `json:"run_id"`
	StepName  string          `json:"step_name"`
	Data      []byte          `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// replayed loads the checkpoint recorded under key. The boolean reports a
// hit; a hit with zero bytes is still meaningful, since completion markers
// and timed-out waits persist no payload.
func (w *Workflow) replayed(ctx context.Context, key string) ([]byte, bool, error) {
	if err := w.aborted(ctx); err != nil {
		return nil, false, err
	}
	data, err := w.store.GetCheckpoint(ctx, w.run.ID, key)
	if err != nil {
		return nil, false, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, key, err)
	}
	return data, data != nil, nil
}

// persist records data under key so the primitive never re-executes when
// the run is replayed.
func (w *Workflow) persist(ctx context.Context, key string, data []byte) error {
	if err := w.store.SaveCheckpoint(ctx, w.run.ID, key, data); err != nil {
		return fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, key, err)
	}
	return nil
}

// aborted keeps a terminated run from scheduling further primitives.
// Every primitive consults it before executing, so a run terminated
// mid-flight stops at its next step; work already dispatched may still
// finish, but the runner drops its outcome in favor of the terminated
// record.
func (w *Workflow) aborted(ctx context.Context) error {
	stored, err := w.store.GetRun(context.WithoutCancel(ctx), w.run.ID)
	if err == nil && stored.State == RunStateTerminated {
		return fmt.Errorf("workflow %s: %w", w.run.Name, calshift.ErrRunTerminated)
	}
	return ctx.Err()
}

// mark persists an empty completion marker under key.
func (w *Workflow) mark(ctx context.Context, key string) error {
	return w.persist(ctx, key, []byte{})
}

// replayLog notes that a durable primitive was satisfied from its checkpoint.
func (w *Workflow) replayLog(kind, name string) {
	w.logger.Debug("replaying "+kind+" from checkpoint",
		slog.String("run_id", w.run.ID.String()),
		slog.String("name", name),
	)
}

// execStep runs fn exactly once and reports the outcome through the run
// emitter. The save closure persists whatever the step produced; completion
// is only emitted after the checkpoint write succeeds, so a crash between
// the two re-runs the step rather than losing its result.
func (w *Workflow) execStep(key string, fn func(ctx context.Context) error, save func() error) error {
	start := time.Now()
	if err := fn(w.ctx); err != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, key, err)
		return fmt.Errorf("workflow %s step %q: %w", w.run.Name, key, err)
	}
	if err := save(); err != nil {
		return err
	}
	w.emitter.EmitStepCompleted(w.ctx, w.run, key, time.Since(start))
	return nil
}

// Step results checkpoint as gob; plain Go values round-trip through it
// without struct tags.

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode[T any](data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}
