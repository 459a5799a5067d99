package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "streamforge"

// StartExecutionSpan starts a span covering one producer run.
func StartExecutionSpan(ctx context.Context, executionID, executionType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("execution.type", executionType),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a conversation.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartStageSpan starts a span for one stage of a multi-stage producer.
func StartStageSpan(ctx context.Context, executionID, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("stage", stage),
		),
	)
}
