package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerFromProvider(tp, "test"), rec
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestGetTracerDefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	require.NotNil(t, tr)

	_, span := tr.StartSpan(context.Background(), "x")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestTaskSpan(t *testing.T) {
	tr, rec := newRecordingTracer()

	_, span := tr.StartTaskSpan(context.Background(), "id-1", "poll", "background")
	tr.EndTaskSpan(span, TaskSpanOptions{Status: "cancelled"}, context.Canceled)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "task.poll", spans[0].Name())
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "id-1", attrs["task.id"].AsString())
	assert.Equal(t, "background", attrs["task.kind"].AsString())
	assert.Equal(t, "cancelled", attrs["task.status"].AsString())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestTaskSpanFailure(t *testing.T) {
	tr, rec := newRecordingTracer()

	_, span := tr.StartTaskSpan(context.Background(), "id-2", "req", "pending")
	tr.EndTaskSpan(span, TaskSpanOptions{Status: "failed"}, errors.New("boom"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestDrainSpan(t *testing.T) {
	tr, rec := newRecordingTracer()

	_, span := tr.StartDrainSpan(context.Background(), 5*time.Second)
	tr.DrainPhase(span, 1, "cancel_background", 3)
	tr.DrainPhase(span, 2, "grace", 2)
	tr.EndDrainSpan(span, DrainSpanOptions{Completed: 2, Cancelled: 3}, nil)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "taskpool.close", spans[0].Name())
	events := spans[0].Events()
	require.Len(t, events, 2)
	assert.Equal(t, "drain.cancel_background", events[0].Name)
	assert.Equal(t, "drain.grace", events[1].Name)

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, int64(3), attrs["drain.cancelled"].AsInt64())
	assert.False(t, attrs["drain.grace_expired"].AsBool())
}

func TestInitProviderRequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	_, err := InitProvider(context.Background(), ProviderConfig{})
	assert.Error(t, err)
}

func TestInitProviderRejectsUnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown protocol")
}

func TestNewProviderWithProcessor(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	p := NewProviderWithProcessor(rec, "svc")
	t.Cleanup(func() { SetGlobalTracer(nil) })

	assert.Same(t, p.Tracer(), GetTracer())
	_, span := GetTracer().StartSpan(context.Background(), "hello")
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))
	assert.Len(t, rec.Ended(), 1)
	require.NoError(t, p.OnShutdown(context.Background()))
}
