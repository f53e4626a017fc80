package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/activity"
	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/backoff"
	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/directory"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/ext"
	"github.com/calshift/calshift/id"
	mw "github.com/calshift/calshift/middleware"
	"github.com/calshift/calshift/migration"
	"github.com/calshift/calshift/notify"
	"github.com/calshift/calshift/observability"
	"github.com/calshift/calshift/queue"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/worker"
	"github.com/calshift/calshift/workflow"
)

// lifecycleEmitter adapts *ext.Registry to workflow.RunEmitter. The
// workflow package defines the interface and ext provides the hooks;
// wiring them here keeps the two packages from importing each other.
type lifecycleEmitter struct {
	hooks *ext.Registry
}

func (e *lifecycleEmitter) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	e.hooks.EmitWorkflowStepCompleted(ctx, run, stepName, elapsed)
}

func (e *lifecycleEmitter) EmitStepFailed(ctx context.Context, run *workflow.Run, stepName string, err error) {
	e.hooks.EmitWorkflowStepFailed(ctx, run, stepName, err)
}

func (e *lifecycleEmitter) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	e.hooks.EmitWorkflowStarted(ctx, run)
}

func (e *lifecycleEmitter) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	e.hooks.EmitWorkflowCompleted(ctx, run, elapsed)
}

func (e *lifecycleEmitter) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, err error) {
	e.hooks.EmitWorkflowFailed(ctx, run, err)
}

// TaskSubmitWorkflow is the registered task that submits a workflow run
// from the durable task queue. Cron entries and the API enqueue it to run
// workflows in the background instead of inline.
const TaskSubmitWorkflow = "workflow-submit"

// WorkflowTaskPayload is the payload of a TaskSubmitWorkflow task.
type WorkflowTaskPayload struct {
	Workflow string          `json:"workflow"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// Engine wraps a Coordinator with typed subsystem access.
// Use Build() to create one from a Coordinator.
type Engine struct {
	c          *calshift.Coordinator
	extensions *ext.Registry
	registry   *task.Registry
	taskStore  task.Store
	dlqService *dlq.Service
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Workflow subsystem.
	wfRegistry *workflow.Registry
	wfRunner   *workflow.Runner
	eventBus   *event.Bus

	// Activity and actor subsystems.
	activityRegistry *activity.Registry
	activityExecutor *activity.Executor
	actorService     *actor.Service

	// Migration domain.
	dirClient directory.Client
	notifier  notify.Notifier
	migration *migration.Service

	// Cron subsystem.
	cronStore    cron.Store
	clusterStore cluster.Store
	scheduler    *cron.Scheduler

	// Queue subsystem.
	queueConfigs     []queue.Config
	directoryConfigs []queue.DirectoryConfig
	queueManager     *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware to the executor's chain, after the
// built-ins.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy. The default is
// backoff.DefaultStrategy(), exponential with jitter.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithDirectoryThrottle registers per-directory rate limiting. Directory
// client calls block until the directory's limiter admits them.
func WithDirectoryThrottle(configs ...queue.DirectoryConfig) Option {
	return func(eng *Engine) { eng.directoryConfigs = append(eng.directoryConfigs, configs...) }
}

// WithDirectory sets the identity-directory client. Without it the
// migration service is not assembled and Migration() returns nil.
func WithDirectory(c directory.Client) Option {
	return func(eng *Engine) { eng.dirClient = c }
}

// WithNotifier sets the notifier used for migration notices.
// Defaults to a log-based notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithTracerProvider routes the tracing middleware to a specific OTel
// provider instead of the global otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider routes the metrics middleware and the observability
// extension to a specific OTel provider instead of the global
// otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// storeAs narrows the coordinator's store to one subsystem interface.
// store.Store implements them all; a custom store that misses one is a
// configuration error surfaced at build time rather than a nil-call panic
// later.
func storeAs[S any](store any, name string) (S, error) {
	s, ok := store.(S)
	if !ok {
		var zero S
		return zero, fmt.Errorf("calshift: store does not implement %s", name)
	}
	return s, nil
}

// Build creates an Engine from an existing Coordinator.
func Build(c *calshift.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, calshift.ErrNoStore
	}

	ts, err := storeAs[task.Store](store, "task.Store")
	if err != nil {
		return nil, err
	}
	ds, err := storeAs[dlq.Store](store, "dlq.Store")
	if err != nil {
		return nil, err
	}
	ws, err := storeAs[workflow.Store](store, "workflow.Store")
	if err != nil {
		return nil, err
	}
	es, err := storeAs[event.Store](store, "event.Store")
	if err != nil {
		return nil, err
	}
	as, err := storeAs[actor.Store](store, "actor.Store")
	if err != nil {
		return nil, err
	}
	cs, err := storeAs[cron.Store](store, "cron.Store")
	if err != nil {
		return nil, err
	}
	cls, err := storeAs[cluster.Store](store, "cluster.Store")
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		c:          c,
		extensions: ext.NewRegistry(logger),
		registry:   task.NewRegistry(),
		taskStore:  ts,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.notifier == nil {
		eng.notifier = notify.NewLogNotifier(logger)
	}

	eng.dlqService = dlq.NewService(ds, ts)

	// Workflow subsystem.
	emitter := &lifecycleEmitter{hooks: eng.extensions}
	eng.wfRegistry = workflow.NewRegistry()
	eng.eventBus = event.NewBus(es)
	eng.wfRunner = workflow.NewRunner(eng.wfRegistry, ws, es, emitter, logger)

	// Activity and actor subsystems, wired into workflow primitives.
	eng.activityRegistry = activity.NewRegistry()
	eng.activityExecutor = activity.NewExecutor(eng.activityRegistry, logger)
	eng.actorService = actor.NewService(as, logger)
	eng.wfRunner.SetActivityExecutor(eng.activityExecutor)
	eng.wfRunner.SetActorInvoker(eng.actorService)

	// Queue manager: per-queue limits plus per-directory throttles.
	if len(eng.queueConfigs) > 0 || len(eng.directoryConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		for _, dc := range eng.directoryConfigs {
			eng.queueManager.SetDirectoryConfig(dc)
		}
	}

	// Migration domain: actors, activities and workflows are registered
	// only when a directory client is configured.
	if eng.dirClient != nil {
		client := eng.dirClient
		if eng.queueManager != nil && len(eng.directoryConfigs) > 0 {
			client = newThrottledDirectory(client, eng.queueManager, eng.directoryConfigs[0].DirectoryID)
		}
		migration.RegisterActorKinds(eng.actorService)
		migration.NewActivities(client, eng.notifier, eng.eventBus).Register(eng.activityRegistry)
		migration.RegisterWorkflows(eng.wfRegistry)
		eng.migration = migration.NewService(eng.wfRunner, ws, logger)
	}

	// Background workflow submission through the durable task queue.
	task.RegisterDefinition(eng.registry, task.NewDefinition(TaskSubmitWorkflow,
		func(ctx context.Context, payload WorkflowTaskPayload) error {
			run, err := eng.wfRunner.SubmitRaw(ctx, payload.Workflow, payload.Input)
			if err != nil {
				return err
			}
			if run.State == workflow.RunStateFailed {
				return fmt.Errorf("workflow %q run %s failed: %s", payload.Workflow, run.ID, run.Error)
			}
			return nil
		},
	))

	eng.extensions.Register(eng.metricsExtension())

	// Create executor and pool.
	config := c.Config()
	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.taskStore, eng.dlqService, eng.bo, logger, eng.taskMiddleware()...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleTaskThreshold(config.StaleTaskThreshold),
	}
	if eng.queueManager != nil {
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(
		eng.taskStore,
		executor,
		eng.extensions,
		logger,
		poolOpts...,
	)

	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	// Create cron scheduler.
	eng.cronStore = cs
	eng.clusterStore = cls
	enqueueFunc := func(ctx context.Context, name string, payload []byte, opts ...task.Option) (id.TaskID, error) {
		t, err := eng.EnqueueRaw(ctx, name, payload, opts...)
		if err != nil {
			return id.TaskID{}, err
		}
		return t.ID, nil
	}
	eng.scheduler = cron.NewScheduler(cs, cls, enqueueFunc, eng.extensions, eng.pool.WorkerID(), logger)

	eng.announceWorker(config)

	return eng, nil
}

// taskMiddleware assembles the executor's chain: recover, tracing, metrics,
// logging, timeout, then whatever WithMiddleware added. Tracing and metrics
// bind to the configured OTel providers, falling back to the globals.
func (eng *Engine) taskMiddleware() []mw.Middleware {
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/calshift/calshift"))
	}
	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/calshift/calshift"))
	}

	chain := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	return append(chain, eng.mws...)
}

func (eng *Engine) metricsExtension() *observability.MetricsExtension {
	if eng.meterProvider != nil {
		return observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/calshift/calshift/observability"))
	}
	return observability.NewMetricsExtension()
}

// announceWorker records this process in the cluster store so operators can
// see who is polling which queues. Registration failure is not fatal; the
// pool still works, it just won't show up in the worker listing.
func (eng *Engine) announceWorker(config calshift.Config) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := time.Now().UTC()
	w := &cluster.Worker{
		ID:          eng.pool.WorkerID(),
		Hostname:    hostname,
		Queues:      config.Queues,
		Concurrency: config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := eng.clusterStore.RegisterWorker(context.Background(), w); err != nil {
		eng.logger.Warn("failed to register worker in cluster store", slog.String("error", err.Error()))
	}
}

// Register registers a typed task definition with the engine.
func Register[T any](eng *Engine, def *task.Definition[T]) {
	task.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a task.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...task.Option) (*task.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a task with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...task.Option) (*task.Task, error) {
	now := time.Now().UTC()
	t := &task.Task{
		Entity:     calshift.NewEntity(),
		ID:         id.NewTaskID(),
		Name:       name,
		Payload:    payload,
		State:      task.StatePending,
		MaxRetries: 3,
		Queue:      "default",
		Priority:   0,
		RunAt:      now,
	}

	taskOpts := task.DefaultOptions()
	for _, opt := range opts {
		opt(&taskOpts)
	}
	t.Queue = taskOpts.Queue
	t.Priority = taskOpts.Priority
	t.MaxRetries = taskOpts.MaxRetries
	t.Timeout = taskOpts.Timeout
	if !taskOpts.RunAt.IsZero() {
		t.RunAt = taskOpts.RunAt
	}

	if err := eng.taskStore.EnqueueTask(ctx, t); err != nil {
		return nil, err
	}

	eng.extensions.EmitTaskEnqueued(ctx, t)
	return t, nil
}

// SubmitWorkflowTask enqueues a background task that submits the named
// workflow with the given input when a worker picks it up.
func SubmitWorkflowTask[T any](ctx context.Context, eng *Engine, workflowName string, input T, opts ...task.Option) (*task.Task, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", workflowName, err)
	}
	return Enqueue(ctx, eng, TaskSubmitWorkflow, WorkflowTaskPayload{Workflow: workflowName, Input: data}, opts...)
}

// Start begins task processing by starting the worker pool and cron
// scheduler. It also resumes any workflow runs left in "running" state
// (crash recovery).
func (eng *Engine) Start(ctx context.Context) error {
	if resumeErr := eng.wfRunner.ResumeAll(ctx); resumeErr != nil {
		eng.logger.Warn("failed to resume workflow runs", slog.String("error", resumeErr.Error()))
	}

	// The scheduler starts before the pool so leadership can be acquired.
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}

	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	return eng.c.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *calshift.Coordinator { return eng.c }

// DLQService returns the dead letter service for inspection and replay.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// WorkflowRunner returns the workflow runner.
func (eng *Engine) WorkflowRunner() *workflow.Runner { return eng.wfRunner }

// EventBus returns the durable event bus.
func (eng *Engine) EventBus() *event.Bus { return eng.eventBus }

// ActorService returns the actor service.
func (eng *Engine) ActorService() *actor.Service { return eng.actorService }

// ActivityRegistry returns the activity registry for app-level activities.
func (eng *Engine) ActivityRegistry() *activity.Registry { return eng.activityRegistry }

// Migration returns the migration service, or nil when no directory
// client was configured.
func (eng *Engine) Migration() *migration.Service { return eng.migration }

// CronStore returns the cron entry store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil when no queue or
// directory configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// RegisterCron validates a typed cron definition's schedule, computes
// its first NextRunAt, and persists the entry. Registering the same
// name twice is idempotent.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", def.Schedule, err)
	}

	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &cron.Entry{
		Entity:    calshift.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		TaskName:  def.TaskName,
		Queue:     def.Queue,
		Payload:   payload,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, calshift.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("task_name", def.TaskName),
		slog.Time("next_run_at", next),
	)
	return nil
}

// RegisterWorkflow registers a typed workflow definition with the engine.
func RegisterWorkflow[T any](eng *Engine, def *workflow.Definition[T]) {
	workflow.RegisterDefinition(eng.wfRegistry, def)
}

// StartWorkflow starts a workflow run with a typed input, synchronously.
func StartWorkflow[T any](ctx context.Context, eng *Engine, name string, input T) (*workflow.Run, error) {
	return workflow.Submit(ctx, eng.wfRunner, name, input)
}
