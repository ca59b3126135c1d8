package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spawnTracerName = "maestro-spawn"

func spawnTracer() trace.Tracer {
	return Tracer(spawnTracerName)
}

// TraceSpawn creates a span covering the whole spawn operation.
func TraceSpawn(ctx context.Context, projectID string, mode string, taskCount int) (context.Context, trace.Span) {
	ctx, span := spawnTracer().Start(ctx, "session.spawn",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("mode", mode),
		attribute.Int("task_count", taskCount),
	)
	return ctx, span
}

// TraceManifestCompose creates a child span for manifest composition and write.
func TraceManifestCompose(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	ctx, span := spawnTracer().Start(ctx, "session.spawn.manifest",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(attribute.String("session_id", sessionID))
	return ctx, span
}

// TraceResult records the outcome of an operation on its span.
func TraceResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
