// Package tracing wraps OpenTelemetry spans around task lifecycle steps.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codesandbox"

// Tracer starts spans named "codesandbox.<step>". It uses the global
// TracerProvider, which is a no-op unless the binary installs one.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, tracerName+"."+name, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

var (
	AttrTaskID      = attribute.Key("codesandbox.task.id")
	AttrExecutorID  = attribute.Key("codesandbox.executor.id")
	AttrLanguage    = attribute.Key("codesandbox.language")
	AttrFingerprint = attribute.Key("codesandbox.fingerprint")
	AttrStatus      = attribute.Key("codesandbox.status")
	AttrCached      = attribute.Key("codesandbox.cached")
	AttrSlotID      = attribute.Key("codesandbox.slot.id")
)
