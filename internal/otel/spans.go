package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for clawkeep spans.
var (
	AttrBootPhase    = attribute.Key("clawkeep.boot.phase")
	AttrSyncStep     = attribute.Key("clawkeep.sync.step")
	AttrRemoteLayout = attribute.Key("clawkeep.restore.layout")
	AttrProvider     = attribute.Key("clawkeep.auth.provider")
	AttrGatewayPID   = attribute.Key("clawkeep.gateway.pid")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound control-surface request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
