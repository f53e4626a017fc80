package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calshift/calshift/backoff"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/ext"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/middleware"
	"github.com/calshift/calshift/store/memory"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/worker"
)

// poolFixture bundles everything a pool test touches.
type poolFixture struct {
	pool  *worker.Pool
	store *memory.Store
	reg   *task.Registry
	ext   *ext.Registry
}

func newPoolFixture(t *testing.T, opts ...worker.PoolOption) *poolFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New()
	reg := task.NewRegistry()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(
		reg, extensions, s, dlq.NewService(s, s),
		backoff.NewConstant(10*time.Millisecond), logger,
		middleware.Recover(logger),
	)

	base := []worker.PoolOption{
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithPoolQueues([]string{"migrations"}),
	}
	pool := worker.NewPool(s, executor, extensions, logger, append(base, opts...)...)
	return &poolFixture{pool: pool, store: s, reg: reg, ext: extensions}
}

// start runs the pool and arranges a bounded stop at test end.
func (f *poolFixture) start(t *testing.T) {
	t.Helper()
	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.pool.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}

func (f *poolFixture) enqueue(t *testing.T, name string, payload []byte) *task.Task {
	t.Helper()
	now := time.Now().UTC()
	tsk := &task.Task{
		ID:         id.NewTaskID(),
		Name:       name,
		Queue:      "migrations",
		Payload:    payload,
		State:      task.StatePending,
		MaxRetries: 3,
		RunAt:      now,
	}
	tsk.CreatedAt = now
	tsk.UpdatedAt = now
	if err := f.store.EnqueueTask(context.Background(), tsk); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	return tsk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPoolStartStopAreIdempotent(t *testing.T) {
	f := newPoolFixture(t)

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.pool.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPoolExecutesClaimedTask(t *testing.T) {
	f := newPoolFixture(t)

	type input struct{ Mailbox string }
	var handled atomic.Bool
	task.RegisterDefinition(f.reg, task.NewDefinition("migrate-mailbox", func(_ context.Context, p input) error {
		if p.Mailbox != "pat@source.example" {
			t.Errorf("payload mailbox = %q", p.Mailbox)
		}
		handled.Store(true)
		return nil
	}))

	payload, _ := json.Marshal(input{Mailbox: "pat@source.example"})
	tsk := f.enqueue(t, "migrate-mailbox", payload)

	f.start(t)
	waitFor(t, "the task to run", handled.Load)

	waitFor(t, "the completed state to land", func() bool {
		got, err := f.store.GetTask(context.Background(), tsk.ID)
		return err == nil && got.State == task.StateCompleted && got.CompletedAt != nil
	})
}

func TestPoolRecordsHandlerFailure(t *testing.T) {
	f := newPoolFixture(t)

	var handled atomic.Bool
	task.RegisterDefinition(f.reg, task.NewDefinition("migrate-mailbox", func(_ context.Context, _ struct{}) error {
		handled.Store(true)
		return context.DeadlineExceeded
	}))

	tsk := f.enqueue(t, "migrate-mailbox", nil)
	tsk.MaxRetries = 0
	if err := f.store.UpdateTask(context.Background(), tsk); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	f.start(t)
	waitFor(t, "the task to run", handled.Load)

	waitFor(t, "the failed state to land", func() bool {
		got, err := f.store.GetTask(context.Background(), tsk.ID)
		return err == nil && got.State == task.StateFailed && got.LastError != ""
	})
}

func TestPoolNotifiesExtensions(t *testing.T) {
	f := newPoolFixture(t)

	tracker := &trackingExt{}
	f.ext.Register(tracker)

	var handled atomic.Bool
	task.RegisterDefinition(f.reg, task.NewDefinition("migrate-mailbox", func(_ context.Context, _ struct{}) error {
		handled.Store(true)
		return nil
	}))

	f.enqueue(t, "migrate-mailbox", nil)
	f.start(t)
	waitFor(t, "the task to run", handled.Load)
	waitFor(t, "the started hook", tracker.started.Load)
	waitFor(t, "the completed hook", tracker.completed.Load)
}

func TestPoolHonorsQueueManager(t *testing.T) {
	gate := &gatedQueueManager{}
	f := newPoolFixture(t, worker.WithQueueManager(gate))

	var handled atomic.Bool
	task.RegisterDefinition(f.reg, task.NewDefinition("migrate-mailbox", func(_ context.Context, _ struct{}) error {
		handled.Store(true)
		return nil
	}))

	f.enqueue(t, "migrate-mailbox", nil)
	f.start(t)

	// While the gate is shut the pool keeps deferring the task.
	time.Sleep(100 * time.Millisecond)
	if handled.Load() {
		t.Fatal("task ran while the queue manager denied it")
	}

	gate.open.Store(true)
	waitFor(t, "the deferred task to run", handled.Load)
}

func TestPoolDrainsWhenIdle(t *testing.T) {
	f := newPoolFixture(t, worker.WithPoolConcurrency(4), worker.WithPollInterval(50*time.Millisecond))

	if err := f.pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// trackingExt records which task hooks fired.
type trackingExt struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnTaskStarted(_ context.Context, _ *task.Task) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnTaskCompleted(_ context.Context, _ *task.Task, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *trackingExt) OnTaskFailed(_ context.Context, _ *task.Task, _ error) error {
	e.failed.Store(true)
	return nil
}

// gatedQueueManager denies Acquire until opened.
type gatedQueueManager struct {
	open atomic.Bool
}

func (m *gatedQueueManager) Acquire(string) bool { return m.open.Load() }
func (m *gatedQueueManager) Release(string)      {}
