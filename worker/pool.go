package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/calshift/calshift/ext"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

// QueueManager gates task execution per queue. The pool asks Acquire before
// running a claimed task and pairs it with Release when the task finishes.
type QueueManager interface {
	// Acquire reports whether the queue has a free slot within its rate
	// and concurrency limits.
	Acquire(queue string) bool
	// Release returns the slot taken by Acquire.
	Release(queue string)
}

// activeRun is a claimed task currently executing on this pool.
type activeRun struct {
	taskID id.TaskID
	cancel context.CancelFunc
}

// Pool runs a fixed set of goroutines that claim due tasks from the store
// and push them through the Executor. It also owns the heartbeat and
// stale-task reaper loops when those are configured.
type Pool struct {
	store        task.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval  time.Duration
	staleTaskThreshold time.Duration

	queueManager QueueManager

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]activeRun
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of polling goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool claims from.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets the idle wait between empty dequeue attempts.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool refreshes heartbeats for
// its in-flight tasks. Zero disables the heartbeat loop.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleTaskThreshold sets how long a running task may go without a
// heartbeat before the reaper returns it to pending. Zero disables the
// reaper loop.
func WithStaleTaskThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleTaskThreshold = d }
}

// WithQueueManager attaches per-queue rate and concurrency limits.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store task.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		active:       make(map[string]activeRun),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the identity this pool registers and heartbeats under.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the polling goroutines and, when configured, the heartbeat
// and reaper loops. It returns immediately; Start on a running pool is a
// no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.spawn(p.pollLoop)
	}
	if p.heartbeatInterval > 0 {
		p.spawn(func() { p.runEvery(p.heartbeatInterval, p.sendHeartbeats) })
	}
	if p.staleTaskThreshold > 0 {
		p.spawn(func() { p.runEvery(p.staleTaskThreshold, p.reapStaleTasks) })
	}
	return nil
}

// spawn runs fn on a goroutine tracked by the pool's wait group.
func (p *Pool) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Stop drains the pool. Workers finish their current task; once the context
// expires, whatever is still in flight gets cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	if p.drained(ctx) {
		p.logger.Info("worker pool stopped gracefully")
		return nil
	}

	p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
	p.cancelActive()
	p.wg.Wait()
	return nil
}

// drained waits for all pool goroutines to finish, giving up when ctx
// expires.
func (p *Pool) drained(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// stopped reports whether Stop has been requested.
func (p *Pool) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// pollLoop claims one task at a time until the pool stops.
func (p *Pool) pollLoop() {
	for !p.stopped() {
		tasks, err := p.store.DequeueTasks(context.Background(), p.queues, 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.idle()
			continue
		}
		if len(tasks) == 0 {
			p.idle()
			continue
		}
		p.runTask(tasks[0])
	}
}

// runTask executes one claimed task, honoring the queue manager's limits.
func (p *Pool) runTask(t *task.Task) {
	if p.queueManager != nil && !p.queueManager.Acquire(t.Queue) {
		p.deferTask(t)
		p.idle()
		return
	}
	defer func() {
		if p.queueManager != nil {
			p.queueManager.Release(t.Queue)
		}
	}()

	p.extensions.EmitTaskStarted(context.Background(), t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.track(t.ID, cancel)
	defer p.untrack(t.ID)

	if err := p.executor.Execute(ctx, t); err != nil {
		p.logger.Debug("task execution failed",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("error", err.Error()),
		)
	}
}

// deferTask puts a rate-limited task back to pending, nudged one poll
// interval into the future so the same worker doesn't immediately re-claim
// it.
func (p *Pool) deferTask(t *task.Task) {
	t.State = task.StatePending
	t.RunAt = time.Now().Add(p.pollInterval)
	if err := p.store.UpdateTask(context.Background(), t); err != nil {
		p.logger.Error("failed to re-enqueue rate-limited task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// runEvery ticks fn at the given interval until the pool stops.
func (p *Pool) runEvery(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	ids := make([]id.TaskID, 0, len(p.active))
	for _, run := range p.active {
		ids = append(ids, run.taskID)
	}
	p.activeMu.Unlock()

	for _, taskID := range ids {
		if err := p.store.HeartbeatTask(context.Background(), taskID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reapStaleTasks returns tasks with expired heartbeats to pending so
// another worker can pick them up.
func (p *Pool) reapStaleTasks() {
	stale, err := p.store.ReapStaleTasks(context.Background(), p.staleTaskThreshold)
	if err != nil {
		p.logger.Error("reap stale tasks error", slog.String("error", err.Error()))
		return
	}

	for _, t := range stale {
		t.State = task.StatePending
		t.RunAt = time.Now().UTC()
		t.WorkerID = id.Nil
		t.HeartbeatAt = nil
		t.StartedAt = nil

		if err := p.store.UpdateTask(context.Background(), t); err != nil {
			p.logger.Error("reap: failed to reset stale task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("reaped stale task",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
		)
	}
}

func (p *Pool) idle() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(taskID id.TaskID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[taskID.String()] = activeRun{taskID: taskID, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrack(taskID id.TaskID) {
	p.activeMu.Lock()
	delete(p.active, taskID.String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, run := range p.active {
		p.logger.Warn("cancelling active task", slog.String("task_id", key))
		run.cancel()
	}
}
