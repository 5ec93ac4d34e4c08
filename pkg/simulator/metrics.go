package simulator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names. The aoai-simulator prefix keeps dashboards
// compatible across simulator versions.
const (
	MetricLatencyBase     = "aoai-simulator.latency.base"
	MetricLatencyFull     = "aoai-simulator.latency.full"
	MetricTokensUsed      = "aoai-simulator.tokens_used"
	MetricTokensRequested = "aoai-simulator.tokens_requested"
)

// Metrics aggregates the per-request histograms. One instance lives for
// the process; Record is safe for concurrent use.
type Metrics struct {
	latencyBase     metric.Float64Histogram
	latencyFull     metric.Float64Histogram
	tokensUsed      metric.Int64Histogram
	tokensRequested metric.Int64Histogram
}

// NewMetrics creates the simulator's instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	latencyBase, err := meter.Float64Histogram(
		MetricLatencyBase,
		metric.WithDescription("Latency of handling the request (before adding simulated latency)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricLatencyBase, err)
	}

	latencyFull, err := meter.Float64Histogram(
		MetricLatencyFull,
		metric.WithDescription("Full latency of handling the request (including simulated latency)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricLatencyFull, err)
	}

	tokensUsed, err := meter.Int64Histogram(
		MetricTokensUsed,
		metric.WithDescription("Number of tokens used per request"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricTokensUsed, err)
	}

	tokensRequested, err := meter.Int64Histogram(
		MetricTokensRequested,
		metric.WithDescription("Number of tokens across all requests (success or not)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricTokensRequested, err)
	}

	return &Metrics{
		latencyBase:     latencyBase,
		latencyFull:     latencyFull,
		tokensUsed:      tokensUsed,
		tokensRequested: tokensRequested,
	}, nil
}

// Record observes one completed request. base is the processing time
// before the latency sleep, full includes it. Token histograms only fire
// when the Context carries a token count; tokens_used additionally
// requires a successful final status, so limited and failed requests never
// count toward used tokens.
func (m *Metrics) Record(ctx context.Context, rc *RequestContext, status int, base, full time.Duration) {
	latencyAttrs := []attribute.KeyValue{
		attribute.Int("status_code", status),
	}
	if rc.DeploymentName != "" {
		latencyAttrs = append(latencyAttrs, attribute.String("deployment", rc.DeploymentName))
	}
	latencySet := metric.WithAttributes(latencyAttrs...)

	m.latencyBase.Record(ctx, base.Seconds(), latencySet)
	m.latencyFull.Record(ctx, full.Seconds(), latencySet)

	if rc.Tokens <= 0 {
		return
	}

	var tokenAttrs []attribute.KeyValue
	if rc.DeploymentName != "" {
		tokenAttrs = append(tokenAttrs, attribute.String("deployment", rc.DeploymentName))
	}
	tokenSet := metric.WithAttributes(tokenAttrs...)

	m.tokensRequested.Record(ctx, int64(rc.Tokens), tokenSet)
	if status < 300 {
		m.tokensUsed.Record(ctx, int64(rc.Tokens), tokenSet)
	}
}
