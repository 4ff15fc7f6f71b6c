package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics exposed by the API server.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	runsTotal      *prometheus.CounterVec
	invocations    *prometheus.CounterVec
	modelsByStatus *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skein_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status code",
			},
			[]string{"method", "route", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skein_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skein_runs_total",
				Help: "Total pipeline runs by terminal status",
			},
			[]string{"status"},
		),

		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skein_run_invocations_total",
				Help: "Total model invocations recorded in runs by terminal status",
			},
			[]string{"status"},
		),

		modelsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "skein_models",
				Help: "Registered models by directory status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.runsTotal,
		m.invocations,
		m.modelsByStatus,
	)
	return m
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, route string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRun records a finished run and its invocation outcomes.
func (m *Metrics) RecordRun(status string, invocationStatuses []string) {
	m.runsTotal.WithLabelValues(status).Inc()
	for _, s := range invocationStatuses {
		m.invocations.WithLabelValues(s).Inc()
	}
}

// SetModelCount sets the gauge for one directory status.
func (m *Metrics) SetModelCount(status string, count int) {
	m.modelsByStatus.WithLabelValues(status).Set(float64(count))
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
