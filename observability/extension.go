package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/calshift/calshift/ext"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/calshift/calshift/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.TaskEnqueued      = (*MetricsExtension)(nil)
	_ ext.TaskCompleted     = (*MetricsExtension)(nil)
	_ ext.TaskFailed        = (*MetricsExtension)(nil)
	_ ext.TaskRetrying      = (*MetricsExtension)(nil)
	_ ext.TaskDLQ           = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted   = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed    = (*MetricsExtension)(nil)
	_ ext.CronFired         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OpenTelemetry.
// Register it as a calshift extension to automatically track enqueue rates,
// completion counts, failure rates, retry counts, DLQ entries, workflow
// executions, and cron fires. If no global MeterProvider is configured,
// noop instruments are used and the extension has zero overhead.
type MetricsExtension struct {
	taskEnqueued      metric.Int64Counter
	taskCompleted     metric.Int64Counter
	taskFailed        metric.Int64Counter
	taskRetried       metric.Int64Counter
	taskDLQ           metric.Int64Counter
	workflowStarted   metric.Int64Counter
	workflowCompleted metric.Int64Counter
	workflowFailed    metric.Int64Counter
	cronFired         metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use this variant to inject a MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}

	return &MetricsExtension{
		taskEnqueued:      counter("calshift.task.enqueued", "Total tasks enqueued"),
		taskCompleted:     counter("calshift.task.completed", "Total tasks completed"),
		taskFailed:        counter("calshift.task.failed", "Total tasks failed permanently"),
		taskRetried:       counter("calshift.task.retried", "Total task retry attempts"),
		taskDLQ:           counter("calshift.task.dlq", "Total tasks moved to the dead letter queue"),
		workflowStarted:   counter("calshift.workflow.started", "Total workflow runs started"),
		workflowCompleted: counter("calshift.workflow.completed", "Total workflow runs completed"),
		workflowFailed:    counter("calshift.workflow.failed", "Total workflow runs failed"),
		cronFired:         counter("calshift.cron.fired", "Total cron entries fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Task lifecycle hooks ────────────────────────────

// OnTaskEnqueued implements ext.TaskEnqueued.
func (m *MetricsExtension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	m.taskEnqueued.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, t *task.Task, _ time.Duration) error {
	m.taskCompleted.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, t *task.Task, _ error) error {
	m.taskFailed.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskRetrying implements ext.TaskRetrying.
func (m *MetricsExtension) OnTaskRetrying(ctx context.Context, t *task.Task, _ int, _ time.Time) error {
	m.taskRetried.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskDLQ implements ext.TaskDLQ.
func (m *MetricsExtension) OnTaskDLQ(ctx context.Context, t *task.Task, _ error) error {
	m.taskDLQ.Add(ctx, 1, taskAttrs(t))
	return nil
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, run *workflow.Run) error {
	m.workflowStarted.Add(ctx, 1, runAttrs(run))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, run *workflow.Run, _ time.Duration) error {
	m.workflowCompleted.Add(ctx, 1, runAttrs(run))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, run *workflow.Run, _ error) error {
	m.workflowFailed.Add(ctx, 1, runAttrs(run))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.TaskID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry_name", entryName),
	))
	return nil
}

func taskAttrs(t *task.Task) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("task_name", t.Name),
		attribute.String("queue", t.Queue),
	)
}

func runAttrs(run *workflow.Run) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("workflow_name", run.Name),
	)
}
