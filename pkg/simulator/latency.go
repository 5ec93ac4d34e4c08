package simulator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SpanAttrAddedLatency is the span attribute recording the artificial
// delay, in seconds, added to a response.
const SpanAttrAddedLatency = "simulator.added_latency"

// applyLatency makes successful responses take as long as the real service
// did. The target comes from the Context's recorded-duration hint; elapsed
// is how long the pipeline has already spent on the request. Only the
// remainder is slept, so slow processing is never penalized twice. Returns
// the delay actually added.
//
// The caller only invokes this for status < 300; over-quota and error
// responses return at natural speed.
func applyLatency(ctx context.Context, rc *RequestContext, elapsed time.Duration) time.Duration {
	target := time.Duration(rc.RecordedDurationMs * float64(time.Millisecond))
	extra := target - elapsed
	if extra <= 0 {
		return 0
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Float64(SpanAttrAddedLatency, extra.Seconds()))

	sleepStart := time.Now()
	timer := time.NewTimer(extra)
	defer timer.Stop()
	select {
	case <-timer.C:
		return extra
	case <-ctx.Done():
		return time.Since(sleepStart)
	}
}
