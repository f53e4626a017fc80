package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

// EnqueueFunc is the callback the scheduler fires due entries through.
// The engine supplies it; taking a function here avoids an import cycle
// with the engine package.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...task.Option) (id.TaskID, error)

// Emitter receives cron lifecycle events. ext.Registry satisfies this
// interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, taskID id.TaskID)
}

// Scheduler timing defaults, overridable per option.
const (
	defaultTickEvery = time.Second
	defaultEntryTTL  = 30 * time.Second
	defaultLeadTTL   = 15 * time.Second
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval changes how often due entries are checked for.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickEvery = d }
}

// WithLockTTL changes the per-entry firing lock TTL.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.entryTTL = d }
}

// WithLeaderTTL changes the leader-election term length.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leadTTL = d }
}

// cronParser accepts standard 5-field expressions plus descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(cronlib.Minute |
	cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// ParseSchedule parses a cron expression. Exported for engine.RegisterCron,
// which validates schedules up front.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler drives periodic work such as the nightly identity-mapping
// refresh. It ticks on an interval, and only the cluster leader acts on a
// tick; a per-entry lock guards the firing itself so an entry never
// double-fires across a leadership handover.
type Scheduler struct {
	crons   Store
	peers   cluster.Store
	enqueue EnqueueFunc
	emitter Emitter
	self    id.WorkerID
	logger  *slog.Logger

	tickEvery time.Duration
	entryTTL  time.Duration
	leadTTL   time.Duration

	// Parsed-expression cache, keyed by the raw expression.
	schedMu sync.RWMutex
	scheds  map[string]cronlib.Schedule

	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	cronStore Store,
	clusterStore cluster.Store,
	enqueue EnqueueFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		crons:     cronStore,
		peers:     clusterStore,
		enqueue:   enqueue,
		emitter:   emitter,
		self:      workerID,
		logger:    logger,
		tickEvery: defaultTickEvery,
		entryTTL:  defaultEntryTTL,
		leadTTL:   defaultLeadTTL,
		scheds:    map[string]cronlib.Schedule{},
		done:      make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leadership and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	// Contest leadership immediately so a fresh cluster gets a leader
	// before the first tick, then renew at half the TTL.
	go s.every(s.leadTTL/2, true, s.tryLeadership)
	go s.every(s.tickEvery, false, s.tick)
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.self.String()),
		slog.Duration("tick_interval", s.tickEvery))
	return nil
}

// Stop signals both loops and waits for them to exit.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.done)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// every runs fn on the given interval until Stop. When immediate is set,
// fn also runs once up front.
func (s *Scheduler) every(interval time.Duration, immediate bool, fn func()) {
	defer s.wg.Done()

	if immediate {
		fn()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-s.done:
			return
		}
	}
}

// tryLeadership renews the current term or contests a vacant one.
func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	// Renewal is cheap when we already lead, so attempt it first.
	switch renewed, err := s.peers.RenewLeadership(ctx, s.self, s.leadTTL); {
	case err != nil:
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	case renewed:
		return
	}

	switch acquired, err := s.peers.AcquireLeadership(ctx, s.self, s.leadTTL); {
	case err != nil:
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
	case acquired:
		s.logger.Info("acquired cron leadership", slog.String("worker_id", s.self.String()))
	}
}

// tick fires every due, enabled entry. Followers return immediately.
func (s *Scheduler) tick() {
	ctx := context.Background()

	if !s.isLeader(ctx) {
		return
	}

	entries, err := s.crons.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list crons error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.Due(now) {
			s.fireEntry(ctx, entry, now)
		}
	}
}

func (s *Scheduler) isLeader(ctx context.Context) bool {
	leader, err := s.peers.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return false
	}
	return leader != nil && leader.ID.String() == s.self.String()
}

// fireEntry enqueues the entry's task under the per-entry lock, stamps
// LastRunAt, advances NextRunAt from the schedule, and releases the lock.
func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) {
	acquired, err := s.crons.AcquireCronLock(ctx, entry.ID, s.self, s.entryTTL)
	if err != nil {
		s.logEntryError("acquire cron lock error", entry, err)
		return
	}
	if !acquired {
		// Another worker beat us to this firing.
		return
	}

	var enqOpts []task.Option
	if entry.Queue != "" {
		enqOpts = append(enqOpts, task.WithQueue(entry.Queue))
	}
	taskID, err := s.enqueue(ctx, entry.TaskName, entry.Payload, enqOpts...)
	if err != nil {
		s.logEntryError("cron enqueue error", entry, err)
		s.releaseLock(ctx, entry)
		return
	}

	if err := s.crons.UpdateCronLastRun(ctx, entry.ID, now); err != nil {
		s.logEntryError("update cron last run error", entry, err)
	}
	s.advance(ctx, entry, now)

	s.releaseLock(ctx, entry)

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, taskID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("task_name", entry.TaskName),
		slog.String("task_id", taskID.String()))
}

// advance computes the entry's next firing time from its schedule and
// persists it. A schedule that no longer parses is logged and left as-is.
func (s *Scheduler) advance(ctx context.Context, entry *Entry, now time.Time) {
	sched, err := s.getOrParseSchedule(entry.Schedule)
	if err != nil {
		s.logEntryError("parse cron schedule error", entry, err)
		return
	}
	next := sched.Next(now)
	entry.NextRunAt = &next
	if err := s.crons.UpdateCronEntry(ctx, entry); err != nil {
		s.logEntryError("update cron next run error", entry, err)
	}
}

func (s *Scheduler) releaseLock(ctx context.Context, entry *Entry) {
	if err := s.crons.ReleaseCronLock(ctx, entry.ID, s.self); err != nil {
		s.logEntryError("release cron lock error", entry, err)
	}
}

func (s *Scheduler) logEntryError(msg string, entry *Entry, err error) {
	s.logger.Error(msg,
		slog.String("cron_name", entry.Name),
		slog.String("cron_id", entry.ID.String()),
		slog.String("error", err.Error()))
}

// getOrParseSchedule returns the cached parse of expr, parsing and
// caching it on first sight. Entries reuse the same handful of
// expressions, so the cache stays tiny.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	if sched := s.cachedSchedule(expr); sched != nil {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.schedMu.Lock()
	s.scheds[expr] = sched
	s.schedMu.Unlock()
	return sched, nil
}

func (s *Scheduler) cachedSchedule(expr string) cronlib.Schedule {
	s.schedMu.RLock()
	defer s.schedMu.RUnlock()
	return s.scheds[expr]
}
