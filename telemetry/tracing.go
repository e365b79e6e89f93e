// Package telemetry wires OpenTelemetry tracing into the task pool.
// Every tracked task gets a span; every drain gets a span with one event per
// phase.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with task-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Task Spans ---

// TaskSpanOptions describes the outcome of a tracked task.
type TaskSpanOptions struct {
	ID     string
	Name   string
	Kind   string // pending, background
	Status string // completed, failed, cancelled
}

// StartTaskSpan starts a span covering a task's whole run.
func (t *Tracer) StartTaskSpan(ctx context.Context, id, name, kind string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task."+name, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("task.id", id),
		attribute.String("task.name", name),
		attribute.String("task.kind", kind),
	)
	return ctx, span
}

// EndTaskSpan ends a task span. Cancellation is not recorded as an error.
func (t *Tracer) EndTaskSpan(span trace.Span, opts TaskSpanOptions, err error) {
	span.SetAttributes(attribute.String("task.status", opts.Status))

	if err != nil && opts.Status == "failed" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Drain Spans ---

// DrainSpanOptions summarises a pool drain.
type DrainSpanOptions struct {
	Completed    int
	Failed       int
	Cancelled    int
	GraceExpired bool
}

// StartDrainSpan starts the span for a pool Close.
func (t *Tracer) StartDrainSpan(ctx context.Context, grace time.Duration) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "taskpool.close", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("drain.grace", grace.String()))
	return ctx, span
}

// DrainPhase records the start of a drain phase on span.
func (t *Tracer) DrainPhase(span trace.Span, phase int, name string, tasks int) {
	span.AddEvent("drain."+name, trace.WithAttributes(
		attribute.Int("drain.phase", phase),
		attribute.Int("drain.tasks", tasks),
	))
}

// EndDrainSpan ends a drain span.
func (t *Tracer) EndDrainSpan(span trace.Span, opts DrainSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("drain.completed", opts.Completed),
		attribute.Int("drain.failed", opts.Failed),
		attribute.Int("drain.cancelled", opts.Cancelled),
		attribute.Bool("drain.grace_expired", opts.GraceExpired),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// InjectContext writes the trace context of ctx into carrier using the
// global propagator. Nothing is written when no propagator is installed.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}
