package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/skeinai/skein/pkg/domain"
)

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	invocationCounter   metric.Int64Counter
	retryCounter        metric.Int64Counter
	timeoutCounter      metric.Int64Counter
	latencyHistogram    metric.Float64Histogram
	costHistogram       metric.Float64Histogram
	runCounter          metric.Int64Counter
	runLatencyHistogram metric.Float64Histogram
)

// InvocationMetrics captures the fields recorded for one model invocation.
type InvocationMetrics struct {
	GraphID  string
	NodeID   string
	ModelID  string
	Status   domain.InvocationStatus
	Duration time.Duration
	Retries  int
	Cost     float64
}

// RecordInvocation emits the counters and histograms describing one model
// call. Metric init failures silently disable recording; invocation results
// never depend on the telemetry backend.
func RecordInvocation(ctx context.Context, m InvocationMetrics) {
	if ensureMetrics() != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("graph.id", m.GraphID),
		attribute.String("node.id", m.NodeID),
		attribute.String("model.id", m.ModelID),
		attribute.String("invocation.status", string(m.Status)),
	}

	invocationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		latencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
	if m.Retries > 0 {
		retryCounter.Add(ctx, int64(m.Retries), metric.WithAttributes(attrs...))
	}
	if m.Cost > 0 {
		costHistogram.Record(ctx, m.Cost, metric.WithAttributes(attrs...))
	}
	if m.Status == domain.InvocationTimeout {
		timeoutCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RunMetrics captures the fields recorded for one pipeline run.
type RunMetrics struct {
	GraphID  string
	Status   domain.RunStatus
	Duration time.Duration
}

// RecordRun emits the run-level counter and latency histogram.
func RecordRun(ctx context.Context, m RunMetrics) {
	if ensureMetrics() != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("graph.id", m.GraphID),
		attribute.String("run.status", string(m.Status)),
	}
	runCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		runLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("skein.engine")

		invocationCounter, metricsInitErr = meter.Int64Counter(
			"skein.invocation.total",
			metric.WithDescription("Model invocations partitioned by terminal status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		retryCounter, metricsInitErr = meter.Int64Counter(
			"skein.invocation.retries_total",
			metric.WithDescription("Retry attempts performed during model invocations"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		timeoutCounter, metricsInitErr = meter.Int64Counter(
			"skein.invocation.timeouts_total",
			metric.WithDescription("Invocations that terminated as timeouts"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		latencyHistogram, metricsInitErr = meter.Float64Histogram(
			"skein.invocation.duration_ms",
			metric.WithDescription("Observed model invocation latency including retries"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		costHistogram, metricsInitErr = meter.Float64Histogram(
			"skein.invocation.cost",
			metric.WithDescription("Estimated cost per invocation"),
			metric.WithUnit("{unit}"),
		)
		if metricsInitErr != nil {
			return
		}

		runCounter, metricsInitErr = meter.Int64Counter(
			"skein.run.total",
			metric.WithDescription("Pipeline runs partitioned by terminal status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		runLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"skein.run.duration_ms",
			metric.WithDescription("Wall-clock pipeline run duration"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}
