package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/calshift/calshift/task"
)

// tracerName is the instrumentation scope for calshift traces.
const tracerName = "github.com/calshift/calshift"

// Tracing wraps every execution in a span named calshift.task.execute,
// carrying the task ID, name, queue, and retry count as attributes. A
// handler error is recorded on the span and sets its status to Error.
// Without a global TracerProvider the span is a noop.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an injected tracer, for tests or
// multi-provider setups.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "calshift.task.execute",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(spanAttrs(t)...),
		)
		defer span.End()

		err := next(ctx)
		finishSpan(span, err)
		return err
	}
}

func spanAttrs(t *task.Task) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("calshift.task.id", t.ID.String()),
		attribute.String("calshift.task.name", t.Name),
		attribute.String("calshift.queue", t.Queue),
		attribute.Int("calshift.retry_count", t.RetryCount),
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
