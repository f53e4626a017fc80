package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/calshift/calshift/task"
)

// meterName is the instrumentation scope for calshift metrics.
const meterName = "github.com/calshift/calshift"

// instruments holds the two per-task instruments. They are built once
// when the middleware is constructed; OTel guarantees noop fallbacks on
// construction error, so the creation errors are ignored.
type instruments struct {
	duration   metric.Float64Histogram
	executions metric.Int64Counter
}

func newInstruments(meter metric.Meter) instruments {
	duration, _ := meter.Float64Histogram( //nolint:errcheck
		"calshift.task.duration",
		metric.WithDescription("Duration of task execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck
		"calshift.task.executions",
		metric.WithDescription("Total number of task executions"),
		metric.WithUnit("{execution}"),
	)
	return instruments{duration: duration, executions: executions}
}

func (in instruments) record(ctx context.Context, t *task.Task, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("task_name", t.Name),
		attribute.String("queue", t.Queue),
		attribute.String("status", outcome(err)),
	)
	in.duration.Record(ctx, elapsed.Seconds(), attrs)
	in.executions.Add(ctx, 1, attrs)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Metrics records a duration histogram (calshift.task.duration, in
// seconds) and an execution counter (calshift.task.executions), both
// labeled with task_name, queue, and status ("ok" or "error"), against
// the global OTel MeterProvider. Without a configured provider the
// instruments are noops.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an injected meter, for tests or
// multi-provider setups.
func MetricsWithMeter(meter metric.Meter) Middleware {
	in := newInstruments(meter)
	return func(ctx context.Context, t *task.Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		in.record(ctx, t, time.Since(start), err)
		return err
	}
}
