package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/calshift/calshift/event"

	"golang.org/x/sync/errgroup"
)

// Received events checkpoint as JSON rather than gob: event IDs are typeid
// values with no exported fields.

// decodeEventCheckpoint rebuilds an event from checkpoint bytes. Zero bytes
// is the timeout marker, meaning no event ever arrived.
func decodeEventCheckpoint(data []byte) (*event.Event, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var evt event.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// captureEvent acks a received event and checkpoints it under key. Both
// writes are best-effort: the event is already in hand, and losing the
// checkpoint only means a replay waits for it again.
func (w *Workflow) captureEvent(ctx context.Context, key string, evt *event.Event) error {
	if ackErr := w.eventStore.AckEvent(ctx, evt.ID); ackErr != nil {
		w.logger.Warn("failed to ack event",
			slog.String("event_id", evt.ID.String()),
			slog.String("error", ackErr.Error()),
		)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("workflow %s: marshal event %q: %w", w.run.Name, evt.Name, err)
	}
	//nolint:errcheck // best-effort checkpoint after successful receive
	w.store.SaveCheckpoint(ctx, w.run.ID, key, data)
	return nil
}

// markTimeout leaves an empty checkpoint so a replay remembers the wait
// expired instead of blocking again.
func (w *Workflow) markTimeout(key string) {
	//nolint:errcheck // best-effort timeout marker
	w.store.SaveCheckpoint(w.ctx, w.run.ID, key, []byte{})
}

// WaitForEvent blocks until an event with the given name is published or
// the timeout expires. Returns nil on timeout. The outcome either way is
// durable: a resumed run sees the cached event, or the timeout, without
// waiting again.
func (w *Workflow) WaitForEvent(name string, timeout time.Duration) (*event.Event, error) {
	key := "wait:" + name

	if data, done, err := w.replayed(w.ctx, key); err != nil {
		return nil, err
	} else if done {
		evt, decErr := decodeEventCheckpoint(data)
		if decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode wait checkpoint %q: %w", w.run.Name, name, decErr)
		}
		return evt, nil
	}

	evt, err := w.eventStore.SubscribeEvent(w.ctx, name, timeout)
	if err != nil {
		return nil, fmt.Errorf("workflow %s wait %q: %w", w.run.Name, name, err)
	}
	if evt == nil {
		w.markTimeout(key)
		return nil, nil
	}
	if capErr := w.captureEvent(w.ctx, key, evt); capErr != nil {
		return nil, capErr
	}
	return evt, nil
}

// WaitForAll blocks until every named event has been received, or fails if
// any of them times out. Each event checkpoints individually, so a crash
// midway only re-waits for the signals still outstanding.
func (w *Workflow) WaitForAll(names []string, timeout time.Duration) ([]*event.Event, error) {
	groupKey := "waitall:" + strings.Join(names, ",")

	if data, done, err := w.replayed(w.ctx, groupKey); err != nil {
		return nil, err
	} else if done {
		var events []*event.Event
		if decErr := json.Unmarshal(data, &events); decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode waitall checkpoint: %w", w.run.Name, decErr)
		}
		return events, nil
	}

	events := make([]*event.Event, len(names))
	g, gctx := errgroup.WithContext(w.ctx)
	for i, name := range names {
		g.Go(func() error {
			key := "waitall:" + name

			data, _, chkErr := w.replayed(gctx, key)
			if chkErr != nil {
				return chkErr
			}
			if len(data) > 0 {
				evt, decErr := decodeEventCheckpoint(data)
				if decErr != nil {
					return decErr
				}
				events[i] = evt
				return nil
			}

			evt, subErr := w.eventStore.SubscribeEvent(gctx, name, timeout)
			if subErr != nil {
				return fmt.Errorf("wait for %q: %w", name, subErr)
			}
			if evt == nil {
				return fmt.Errorf("timeout waiting for event %q", name)
			}
			if capErr := w.captureEvent(gctx, key, evt); capErr != nil {
				return capErr
			}
			events[i] = evt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("workflow %s waitall: %w", w.run.Name, err)
	}

	allData, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: marshal waitall events: %w", w.run.Name, err)
	}
	//nolint:errcheck // every event is individually checkpointed already
	w.store.SaveCheckpoint(w.ctx, w.run.ID, groupKey, allData)

	return events, nil
}

// WaitForAny blocks until the first of the named events arrives, or the
// timeout expires. Returns the winning event, or nil on timeout. Losing
// subscriptions are cancelled once a winner is in hand.
func (w *Workflow) WaitForAny(names []string, timeout time.Duration) (*event.Event, error) {
	key := "waitany:" + strings.Join(names, ",")

	if data, done, err := w.replayed(w.ctx, key); err != nil {
		return nil, err
	} else if done {
		evt, decErr := decodeEventCheckpoint(data)
		if decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode waitany checkpoint: %w", w.run.Name, decErr)
		}
		return evt, nil
	}

	ctx, cancel := context.WithTimeout(w.ctx, timeout)
	defer cancel()

	type outcome struct {
		evt *event.Event
		err error
	}
	ch := make(chan outcome, len(names))
	for _, name := range names {
		go func() {
			evt, subErr := w.eventStore.SubscribeEvent(ctx, name, timeout)
			ch <- outcome{evt, subErr}
		}()
	}

	var lastErr error
	for range names {
		select {
		case o := <-ch:
			if o.err != nil {
				lastErr = o.err
				continue
			}
			if o.evt == nil {
				continue
			}
			cancel()
			if capErr := w.captureEvent(w.ctx, key, o.evt); capErr != nil {
				return nil, capErr
			}
			return o.evt, nil
		case <-ctx.Done():
			w.markTimeout(key)
			return nil, nil
		}
	}

	// Every subscription returned without an event.
	w.markTimeout(key)
	if lastErr != nil {
		return nil, fmt.Errorf("workflow %s waitany: %w", w.run.Name, lastErr)
	}
	return nil, nil
}

// WaitForMatch blocks until an event with the given name satisfies the
// predicate, or the timeout expires. Non-matching events are left unacked
// for other waiters. Returns nil on timeout.
func (w *Workflow) WaitForMatch(
	name string,
	timeout time.Duration,
	match func(*event.Event) bool,
) (*event.Event, error) {
	key := "waitmatch:" + name

	if data, done, err := w.replayed(w.ctx, key); err != nil {
		return nil, err
	} else if done {
		evt, decErr := decodeEventCheckpoint(data)
		if decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode waitmatch checkpoint %q: %w", w.run.Name, name, decErr)
		}
		return evt, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			w.markTimeout(key)
			return nil, nil
		}

		evt, err := w.eventStore.SubscribeEvent(w.ctx, name, remaining)
		if err != nil {
			return nil, fmt.Errorf("workflow %s waitmatch %q: %w", w.run.Name, name, err)
		}
		if evt == nil {
			w.markTimeout(key)
			return nil, nil
		}
		if !match(evt) {
			continue
		}
		if capErr := w.captureEvent(w.ctx, key, evt); capErr != nil {
			return nil, capErr
		}
		return evt, nil
	}
}
