package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "groundcontrol"

// StartSubmitSpan starts a span for evaluating a submitted command.
func StartSubmitSpan(ctx context.Context, requestID, droneID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision.submit",
		trace.WithAttributes(
			attribute.String("command.id", requestID),
			attribute.String("drone.id", droneID),
			attribute.String("command.tool", tool),
		),
	)
}

// StartResolveSpan starts a span for a manual confirm or reject.
func StartResolveSpan(ctx context.Context, decisionID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision.resolve",
		trace.WithAttributes(
			attribute.String("decision.id", decisionID),
			attribute.String("decision.action", action),
		),
	)
}

// StartDispatchSpan starts a span for delivering a decision to the vehicle link.
func StartDispatchSpan(ctx context.Context, decisionID, droneID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("decision.id", decisionID),
			attribute.String("drone.id", droneID),
		),
	)
}

// StartRefreshSpan starts a span for a context cache refresh.
func StartRefreshSpan(ctx context.Context, scope string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "context.refresh",
		trace.WithAttributes(attribute.String("context.scope", scope)),
	)
}
