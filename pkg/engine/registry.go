package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/skeinai/skein/pkg/domain"
)

// GraphRegistry maintains the named set of pipeline graphs available for
// execution. Graphs are stored as supplied; structural validation happens at
// execution time so a registered graph with a cycle surfaces the error in its
// execution record rather than at registration.
type GraphRegistry struct {
	mu     sync.RWMutex
	graphs map[string]domain.PipelineGraph
	logger *slog.Logger
}

// NewGraphRegistry creates an empty registry.
func NewGraphRegistry(logger *slog.Logger) *GraphRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphRegistry{
		graphs: make(map[string]domain.PipelineGraph),
		logger: logger,
	}
}

// Put stores or replaces a graph under its id.
func (r *GraphRegistry) Put(graph domain.PipelineGraph) error {
	if graph.ID == "" {
		return fmt.Errorf("graph id is required")
	}
	r.mu.Lock()
	_, replaced := r.graphs[graph.ID]
	r.graphs[graph.ID] = graph.Clone()
	r.mu.Unlock()

	r.logger.Info("graph registered",
		"graph_id", graph.ID,
		"nodes", len(graph.Nodes),
		"edges", len(graph.Edges),
		"replaced", replaced,
	)
	return nil
}

// Get returns a copy of the graph, or false when the id is unknown.
func (r *GraphRegistry) Get(graphID string) (domain.PipelineGraph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	graph, ok := r.graphs[graphID]
	if !ok {
		return domain.PipelineGraph{}, false
	}
	return graph.Clone(), true
}

// Delete removes a graph. Unknown ids are a no-op.
func (r *GraphRegistry) Delete(graphID string) {
	r.mu.Lock()
	delete(r.graphs, graphID)
	r.mu.Unlock()
}

// List returns copies of all registered graphs.
func (r *GraphRegistry) List() []domain.PipelineGraph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PipelineGraph, 0, len(r.graphs))
	for _, graph := range r.graphs {
		out = append(out, graph.Clone())
	}
	return out
}
