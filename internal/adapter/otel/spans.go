package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "stratos"

// StartTaskSpan starts the span covering one task execution.
func StartTaskSpan(ctx context.Context, taskID, owner string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.owner", owner),
		),
	)
}

// StartPreviewSpan starts a span for preview generation of a task result.
func StartPreviewSpan(ctx context.Context, taskID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.preview",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("media.kind", kind),
		),
	)
}

// StartSweepSpan starts a span for one cleanup pass.
func StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "cleanup.sweep")
}
