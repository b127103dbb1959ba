package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor"
)

// startSpan opens a span named conductor.<op> tagged with the actor.
func (s *Service) startSpan(ctx context.Context, op string, actor conductor.Actor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("conductor.actor.kind", string(conductor.KindOf(actor))),
		attribute.String("conductor.actor.id", conductor.ActorID(actor)),
	)
	return s.tracer.Start(ctx, "conductor."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
