package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestApplyLatency(t *testing.T) {
	ctx := context.Background()

	t.Run("no duration hint adds nothing", func(t *testing.T) {
		rc := &RequestContext{}
		start := time.Now()
		added := applyLatency(ctx, rc, 0)
		assert.Zero(t, added)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("elapsed time already past the target adds nothing", func(t *testing.T) {
		rc := &RequestContext{RecordedDurationMs: 100}
		start := time.Now()
		added := applyLatency(ctx, rc, 200*time.Millisecond)
		assert.Zero(t, added)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("sleeps the remainder of the target", func(t *testing.T) {
		rc := &RequestContext{RecordedDurationMs: 150}
		start := time.Now()
		added := applyLatency(ctx, rc, 50*time.Millisecond)
		wall := time.Since(start)

		assert.Equal(t, 100*time.Millisecond, added)
		assert.GreaterOrEqual(t, wall, 100*time.Millisecond)
		assert.Less(t, wall, 500*time.Millisecond)
	})

	t.Run("cancelled context cuts the sleep short", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		rc := &RequestContext{RecordedDurationMs: 5000}
		start := time.Now()
		added := applyLatency(cancelCtx, rc, 0)
		wall := time.Since(start)

		assert.Less(t, wall, 2*time.Second)
		assert.Less(t, added, 2*time.Second)
	})
}

func TestApplyLatencyRecordsSpanAttribute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "simulate")
	rc := &RequestContext{RecordedDurationMs: 60}
	applyLatency(ctx, rc, 10*time.Millisecond)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	var got attribute.KeyValue
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == SpanAttrAddedLatency {
			got = attr
		}
	}
	require.NotEmpty(t, got.Key, "added-latency attribute not recorded")
	assert.InDelta(t, 0.05, got.Value.AsFloat64(), 0.001)
}
