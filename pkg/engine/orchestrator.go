// Package engine runs pipeline graphs: it resolves a leveled execution plan,
// invokes each node's model with failure isolation, propagates outputs along
// edges, and writes one execution record per run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skeinai/skein/pkg/domain"
	"github.com/skeinai/skein/pkg/graph"
	"github.com/skeinai/skein/pkg/invoke"
	"github.com/skeinai/skein/pkg/store"
	"github.com/skeinai/skein/pkg/telemetry"
)

// ErrGraphNotFound is returned by ExecuteByID for unknown graph ids.
var ErrGraphNotFound = errors.New("graph not registered")

// ModelInvoker performs one model call, retries included. *invoke.Invoker is
// the production implementation.
type ModelInvoker interface {
	Invoke(ctx context.Context, modelID string, input domain.Value) invoke.Result
}

// Config assembles an Orchestrator.
type Config struct {
	// Invoker executes model calls. Required.
	Invoker ModelInvoker
	// Store receives the terminal record of every run. Required.
	Store store.ExecutionStore
	// Registry backs ExecuteByID. Optional.
	Registry *GraphRegistry
	Logger   *slog.Logger
}

// Orchestrator executes pipeline graphs level by level. Nodes within a level
// run concurrently; a level never starts until the previous level has fully
// terminated.
type Orchestrator struct {
	invoker  ModelInvoker
	store    store.ExecutionStore
	registry *GraphRegistry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		invoker:  cfg.Invoker,
		store:    cfg.Store,
		registry: cfg.Registry,
		logger:   logger,
		tracer:   otel.Tracer("skein.engine"),
	}
}

// ExecuteByID looks up a registered graph and executes it.
func (o *Orchestrator) ExecuteByID(ctx context.Context, graphID string, initialInput domain.Value) (domain.ExecutionRecord, error) {
	if o.registry == nil {
		return domain.ExecutionRecord{}, ErrGraphNotFound
	}
	g, ok := o.registry.Get(graphID)
	if !ok {
		return domain.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return o.Execute(ctx, g, initialInput)
}

// Execute runs the graph and always produces a terminal record; node and
// graph failures surface in the record's status and structured errors, not
// as a returned error. The returned error is non-nil only when persisting
// the record failed.
func (o *Orchestrator) Execute(ctx context.Context, g domain.PipelineGraph, initialInput domain.Value) (domain.ExecutionRecord, error) {
	record := domain.ExecutionRecord{
		ID:        uuid.NewString(),
		GraphID:   g.ID,
		Status:    domain.RunRunning,
		StartedAt: time.Now(),
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("graph.id", g.ID),
		attribute.String("run.id", record.ID),
	))
	defer span.End()

	plan, err := graph.Resolve(g)
	if err != nil {
		var structured *domain.Error
		if !errors.As(err, &structured) {
			structured = &domain.Error{Kind: domain.KindGraphCycle, Detail: err.Error()}
		}
		record.Annotation = structured
		o.logger.Warn("graph rejected", "graph_id", g.ID, "run_id", record.ID, "error", structured.Error())
		span.SetStatus(codes.Error, structured.Error())
		return o.finish(ctx, span, record, domain.RunFailed)
	}

	o.logger.Info("executing pipeline",
		"graph_id", g.ID,
		"run_id", record.ID,
		"nodes", plan.NodeCount(),
		"levels", len(plan.Levels),
	)

	nodesByID := make(map[string]domain.Node, len(g.Nodes))
	for _, node := range g.Nodes {
		nodesByID[node.ID] = node
	}

	// In-flight calls keep running if the caller cancels; cancellation is
	// honored at level boundaries only.
	callCtx := context.WithoutCancel(ctx)

	outputs := make(map[string]domain.Value, len(g.Nodes))
	failed := false
	for _, level := range plan.Levels {
		if ctxErr := ctx.Err(); ctxErr != nil {
			record.Annotation = domain.CancelledError(fmt.Sprintf("run cancelled before level could start: %v", ctxErr))
			failed = true
			break
		}

		// Inputs are gathered before any goroutine starts so nothing reads
		// the outputs map while this level's nodes write it.
		inputs := make(map[string]domain.Value, len(level))
		for _, nodeID := range level {
			inputs[nodeID] = gatherInput(nodesByID[nodeID], plan.Predecessors[nodeID], outputs, initialInput)
		}

		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			levelFailed bool
		)
		for _, nodeID := range level {
			node := nodesByID[nodeID]
			input := inputs[nodeID]

			wg.Add(1)
			go func() {
				defer wg.Done()
				res := o.invoker.Invoke(callCtx, node.ModelID, input)
				inv := domain.Invocation{
					NodeID:       node.ID,
					ModelID:      node.ModelID,
					Input:        input,
					Output:       res.Output,
					Err:          res.Err,
					LatencyMS:    res.ElapsedMS,
					Attempts:     res.Attempts,
					Status:       res.Status,
					CostEstimate: res.CostEstimate,
				}

				mu.Lock()
				record.Invocations = append(record.Invocations, inv)
				if res.Status == domain.InvocationSuccess {
					outputs[node.ID] = res.Output
				} else {
					levelFailed = true
				}
				mu.Unlock()

				telemetry.RecordInvocation(callCtx, telemetry.InvocationMetrics{
					GraphID:  g.ID,
					NodeID:   node.ID,
					ModelID:  node.ModelID,
					Status:   res.Status,
					Duration: time.Duration(res.ElapsedMS) * time.Millisecond,
					Retries:  res.Attempts - 1,
					Cost:     res.CostEstimate,
				})
			}()
		}
		wg.Wait()

		if levelFailed {
			// Dependents of a failed node cannot run; progress made so
			// far stays in the record.
			failed = true
			break
		}
	}

	status := domain.RunCompleted
	if failed {
		status = domain.RunFailed
		span.SetStatus(codes.Error, "pipeline run failed")
	}
	return o.finish(ctx, span, record, status)
}

// ExecuteSingle performs one ad hoc model call outside pipeline semantics
// and persists it as a single-invocation record with no graph id.
func (o *Orchestrator) ExecuteSingle(ctx context.Context, modelID string, input domain.Value) (domain.ExecutionRecord, error) {
	record := domain.ExecutionRecord{
		ID:        uuid.NewString(),
		Status:    domain.RunRunning,
		StartedAt: time.Now(),
	}

	ctx, span := o.tracer.Start(ctx, "model.execute", trace.WithAttributes(
		attribute.String("model.id", modelID),
		attribute.String("run.id", record.ID),
	))
	defer span.End()

	res := o.invoker.Invoke(ctx, modelID, input)
	record.Invocations = []domain.Invocation{{
		ModelID:      modelID,
		Input:        input,
		Output:       res.Output,
		Err:          res.Err,
		LatencyMS:    res.ElapsedMS,
		Attempts:     res.Attempts,
		Status:       res.Status,
		CostEstimate: res.CostEstimate,
	}}

	telemetry.RecordInvocation(ctx, telemetry.InvocationMetrics{
		ModelID:  modelID,
		Status:   res.Status,
		Duration: time.Duration(res.ElapsedMS) * time.Millisecond,
		Retries:  res.Attempts - 1,
		Cost:     res.CostEstimate,
	})

	status := domain.RunCompleted
	if res.Status != domain.InvocationSuccess {
		status = domain.RunFailed
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return o.finish(ctx, span, record, status)
}

// finish stamps the terminal status and persists the record exactly once.
// The append runs on a detached context so a cancelled run still leaves its
// record behind.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, record domain.ExecutionRecord, status domain.RunStatus) (domain.ExecutionRecord, error) {
	record.Finish(status, time.Now())

	telemetry.RecordRun(ctx, telemetry.RunMetrics{
		GraphID:  record.GraphID,
		Status:   record.Status,
		Duration: time.Duration(record.TotalLatencyMS) * time.Millisecond,
	})
	span.SetAttributes(
		attribute.String("run.status", string(record.Status)),
		attribute.Int("run.invocations", len(record.Invocations)),
	)

	if err := o.store.Append(context.WithoutCancel(ctx), record); err != nil {
		o.logger.Error("failed to persist execution record", "run_id", record.ID, "error", err)
		return record, fmt.Errorf("persist execution record %s: %w", record.ID, err)
	}

	o.logger.Info("pipeline run finished",
		"graph_id", record.GraphID,
		"run_id", record.ID,
		"status", string(record.Status),
		"invocations", len(record.Invocations),
		"total_latency_ms", record.TotalLatencyMS,
		"total_cost", record.TotalCost,
	)
	return record, nil
}

// gatherInput merges a node's upstream data with its static configuration.
// No predecessors feeds the run's initial input; one predecessor feeds that
// node's output directly; multiple predecessors feed a map keyed by source
// node id.
func gatherInput(node domain.Node, preds []string, outputs map[string]domain.Value, initial domain.Value) domain.Value {
	var payload domain.Value
	switch len(preds) {
	case 0:
		payload = initial
	case 1:
		payload = outputs[preds[0]]
	default:
		m := make(map[string]domain.Value, len(preds))
		for _, pred := range preds {
			m[pred] = outputs[pred]
		}
		payload = domain.MapValue(m)
	}
	return applyNodeConfig(node.Config, payload)
}

// applyNodeConfig overlays static node parameters onto the payload. Payload
// keys win on conflict; a non-map payload is wrapped under "input" when
// config is present.
func applyNodeConfig(config map[string]domain.Value, payload domain.Value) domain.Value {
	if len(config) == 0 {
		return payload
	}
	merged := make(map[string]domain.Value, len(config)+4)
	for key, value := range config {
		merged[key] = value
	}
	switch {
	case payload.Kind == domain.KindMap:
		for key, value := range payload.Map {
			merged[key] = value
		}
	case !payload.IsNull():
		merged["input"] = payload
	}
	return domain.MapValue(merged)
}
