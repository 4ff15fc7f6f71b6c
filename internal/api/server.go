// Package api exposes the HTTP surface of the skein server: model
// registration and discovery, graph management, pipeline execution, and run
// history.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/skeinai/skein/pkg/directory"
	"github.com/skeinai/skein/pkg/domain"
	"github.com/skeinai/skein/pkg/engine"
	"github.com/skeinai/skein/pkg/store"
)

// ModelDirectory is the directory surface the API manages.
type ModelDirectory interface {
	directory.Directory
	Register(ctx context.Context, meta domain.ModelMetadata) error
	Delete(ctx context.Context, modelID string) error
	List(ctx context.Context, filter directory.Filter) []domain.ModelMetadata
}

// Config assembles a Server.
type Config struct {
	Directory    ModelDirectory
	Registry     *engine.GraphRegistry
	Orchestrator *engine.Orchestrator
	Store        store.ExecutionStore
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Server routes HTTP requests to the engine components.
type Server struct {
	directory    ModelDirectory
	registry     *engine.GraphRegistry
	orchestrator *engine.Orchestrator
	store        store.ExecutionStore
	metrics      *Metrics
	logger       *slog.Logger
}

// NewServer creates a server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		directory:    cfg.Directory,
		registry:     cfg.Registry,
		orchestrator: cfg.Orchestrator,
		store:        cfg.Store,
		metrics:      metrics,
		logger:       logger,
	}
}

// Handler returns the fully wired HTTP handler: routes, request metrics, and
// OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /v1/models", s.handleRegisterModel)
	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("GET /v1/models/{id}", s.handleGetModel)
	mux.HandleFunc("DELETE /v1/models/{id}", s.handleDeleteModel)

	mux.HandleFunc("POST /v1/graphs", s.handlePutGraph)
	mux.HandleFunc("GET /v1/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /v1/graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("DELETE /v1/graphs/{id}", s.handleDeleteGraph)
	mux.HandleFunc("POST /v1/graphs/{id}/execute", s.handleExecuteGraph)

	mux.HandleFunc("POST /v1/models/{id}/invoke", s.handleInvokeModel)

	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)

	return otelhttp.NewHandler(s.withRequestMetrics(mux), "skein.api")
}

// withRequestMetrics records per-route counters and latency.
func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordRequest(r.Method, route, recorder.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := domain.ErrorResponse{Code: code, Message: message}
	if span := trace.SpanContextFromContext(r.Context()); span.HasTraceID() {
		resp.TraceID = span.TraceID().String()
	}
	s.writeJSON(w, status, resp)
}

// writeDomainError maps a structured engine error to an HTTP response.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err *domain.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case domain.KindModelNotFound:
		status = http.StatusNotFound
	case domain.KindValidationFailed:
		status = http.StatusBadRequest
	case domain.KindGraphCycle, domain.KindGraphDanglingEdge, domain.KindGraphDuplicateNode:
		status = http.StatusUnprocessableEntity
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	case domain.KindUpstreamError:
		status = http.StatusBadGateway
	}
	s.writeError(w, r, status, string(err.Kind), err.Error())
}
