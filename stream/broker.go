package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calshift/calshift/ext"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Broker)(nil)
	_ ext.TaskEnqueued          = (*Broker)(nil)
	_ ext.TaskStarted           = (*Broker)(nil)
	_ ext.TaskCompleted         = (*Broker)(nil)
	_ ext.TaskFailed            = (*Broker)(nil)
	_ ext.TaskRetrying          = (*Broker)(nil)
	_ ext.TaskDLQ               = (*Broker)(nil)
	_ ext.WorkflowStarted       = (*Broker)(nil)
	_ ext.WorkflowStepCompleted = (*Broker)(nil)
	_ ext.WorkflowStepFailed    = (*Broker)(nil)
	_ ext.WorkflowCompleted     = (*Broker)(nil)
	_ ext.WorkflowFailed        = (*Broker)(nil)
	_ ext.CronFired             = (*Broker)(nil)
	_ ext.Shutdown              = (*Broker)(nil)
)

// Defaults applied when no BrokerOption overrides them.
const (
	// DefaultBufferSize is the per-subscriber event buffer.
	DefaultBufferSize = 256
	// DefaultCredits is the initial flow-control credit grant.
	DefaultCredits int64 = 1000
)

// Broker fans lifecycle events out to in-process subscribers. It hooks
// into the extension system for task, workflow, and cron events, and
// republishes each on its matching topics. A migration dashboard follows
// one batch by subscribing to that run's topic.
type Broker struct {
	registry    *TopicRegistry
	logger      *slog.Logger
	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize overrides the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits overrides the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a stream broker ready to be registered as an
// engine extension.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		registry:       NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics exposes the topic registry, mainly for the HTTP streaming
// handlers.
func (b *Broker) Topics() *TopicRegistry { return b.registry }

// lookup returns the subscriber stored under id, typed.
func (b *Broker) lookup(subscriberID string) *Subscriber {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil
	}
	return val.(*Subscriber) //nolint:errcheck // map only ever holds *Subscriber
}

// Subscribe registers a new subscriber and attaches it to the given
// topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	b.attach(sub, topics)
	return sub
}

// SubscribeTo attaches an already-registered subscriber to more topics.
// Unknown subscriber IDs are ignored.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	if sub := b.lookup(subscriberID); sub != nil {
		b.attach(sub, topics)
	}
}

func (b *Broker) attach(sub *Subscriber, topics []string) {
	for _, topic := range topics {
		b.registry.Subscribe(topic, sub)
	}
}

// Unsubscribe detaches a subscriber from specific topics without
// closing it.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.registry.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber detaches a subscriber from every topic and closes
// its event channel.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.registry.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // map only ever holds *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	sub := b.lookup(subscriberID)
	return sub, sub != nil
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// Stats snapshots the broker's counters.
func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		TopicCount:      b.registry.TopicCount(),
		SubscriberCount: b.subscriberCount(),
		TotalPublished:  b.totalPublished.Load(),
	}
}

func (b *Broker) subscriberCount() int {
	n := 0
	b.subscribers.Range(func(_, _ any) bool { n++; return true })
	return n
}

// publish broadcasts an event on all of its topics.
func (b *Broker) publish(evtType EventType, topic string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		// Stream events are observability, not state; drop the event
		// rather than take the broker down.
		b.logger.Error("failed to marshal stream event, dropping it",
			slog.String("type", string(evtType)),
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	evt := &Event{
		Type:      evtType,
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Data:      payload,
	}
	delivered := b.registry.Broadcast(fanoutTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

// emitTask publishes a task lifecycle event on the task's topic. The
// overlay closure fills in the fields specific to one event type.
func (b *Broker) emitTask(evtType EventType, t *task.Task, overlay func(*TaskEventData)) error {
	data := TaskEventData{
		TaskID:   t.ID.String(),
		TaskName: t.Name,
		Queue:    t.Queue,
	}
	if overlay != nil {
		overlay(&data)
	}
	b.publish(evtType, TaskTopic(t.ID.String()), data)
	return nil
}

// emitRun publishes a workflow lifecycle event on the run's topic.
func (b *Broker) emitRun(evtType EventType, r *workflow.Run, overlay func(*WorkflowEventData)) error {
	data := WorkflowEventData{
		RunID: r.ID.String(),
		Name:  r.Name,
	}
	if overlay != nil {
		overlay(&data)
	}
	b.publish(evtType, WorkflowTopic(r.ID.String()), data)
	return nil
}

// Task lifecycle hooks.

func (b *Broker) OnTaskEnqueued(_ context.Context, t *task.Task) error {
	return b.emitTask(EventTaskEnqueued, t, nil)
}

func (b *Broker) OnTaskStarted(_ context.Context, t *task.Task) error {
	return b.emitTask(EventTaskStarted, t, nil)
}

func (b *Broker) OnTaskCompleted(_ context.Context, t *task.Task, elapsed time.Duration) error {
	return b.emitTask(EventTaskCompleted, t, func(d *TaskEventData) {
		d.ElapsedMs = elapsed.Milliseconds()
	})
}

func (b *Broker) OnTaskFailed(_ context.Context, t *task.Task, taskErr error) error {
	return b.emitTask(EventTaskFailed, t, func(d *TaskEventData) {
		d.Error = taskErr.Error()
	})
}

func (b *Broker) OnTaskRetrying(_ context.Context, t *task.Task, attempt int, nextRunAt time.Time) error {
	return b.emitTask(EventTaskRetrying, t, func(d *TaskEventData) {
		d.Attempt = attempt
		d.NextRunAt = nextRunAt.Format(time.RFC3339)
	})
}

func (b *Broker) OnTaskDLQ(_ context.Context, t *task.Task, taskErr error) error {
	return b.emitTask(EventTaskDLQ, t, func(d *TaskEventData) {
		d.Error = taskErr.Error()
	})
}

// Workflow lifecycle hooks.

func (b *Broker) OnWorkflowStarted(_ context.Context, r *workflow.Run) error {
	return b.emitRun(EventWorkflowStarted, r, nil)
}

func (b *Broker) OnWorkflowStepCompleted(_ context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error {
	return b.emitRun(EventWorkflowStepCompleted, r, func(d *WorkflowEventData) {
		d.StepName = stepName
		d.ElapsedMs = elapsed.Milliseconds()
	})
}

func (b *Broker) OnWorkflowStepFailed(_ context.Context, r *workflow.Run, stepName string, stepErr error) error {
	return b.emitRun(EventWorkflowStepFailed, r, func(d *WorkflowEventData) {
		d.StepName = stepName
		d.Error = stepErr.Error()
	})
}

func (b *Broker) OnWorkflowCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	return b.emitRun(EventWorkflowCompleted, r, func(d *WorkflowEventData) {
		d.ElapsedMs = elapsed.Milliseconds()
	})
}

func (b *Broker) OnWorkflowFailed(_ context.Context, r *workflow.Run, runErr error) error {
	return b.emitRun(EventWorkflowFailed, r, func(d *WorkflowEventData) {
		d.Error = runErr.Error()
	})
}

// Cron and shutdown hooks.

func (b *Broker) OnCronFired(_ context.Context, entryName string, taskID id.TaskID) error {
	b.publish(EventCronFired, "", CronEventData{
		EntryName: entryName,
		TaskID:    taskID.String(),
	})
	return nil
}

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		value.(*Subscriber).Close() //nolint:errcheck // map only ever holds *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
