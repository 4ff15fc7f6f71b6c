// Package graph resolves pipeline graphs into leveled execution plans using
// Kahn's algorithm. All nodes within one level are mutually independent and
// may run concurrently; levels execute strictly in order.
package graph

import (
	"fmt"
	"sort"

	"github.com/skeinai/skein/pkg/domain"
)

// ExecutionPlan is the scheduling result for a valid DAG.
type ExecutionPlan struct {
	// Levels holds node ids grouped by dependency depth. Within a level the
	// ids are in lexical order so identical graphs always produce identical
	// plans.
	Levels [][]string

	// Predecessors maps each node id to the sorted ids of its direct
	// upstream nodes. Nodes without predecessors are fed the run's initial
	// input.
	Predecessors map[string][]string
}

// NodeCount returns the number of scheduled nodes.
func (p ExecutionPlan) NodeCount() int {
	count := 0
	for _, level := range p.Levels {
		count += len(level)
	}
	return count
}

// Resolve computes a valid topological execution order for the graph, or
// reports why the graph cannot be scheduled. A graph with zero nodes is valid
// and yields an empty plan.
func Resolve(g domain.PipelineGraph) (ExecutionPlan, error) {
	nodes := make(map[string]struct{}, len(g.Nodes))
	for _, node := range g.Nodes {
		if _, dup := nodes[node.ID]; dup {
			return ExecutionPlan{}, &domain.Error{
				Kind:   domain.KindGraphDuplicateNode,
				Detail: fmt.Sprintf("node id %q appears more than once", node.ID),
			}
		}
		nodes[node.ID] = struct{}{}
	}

	// Dangling edges are rejected before the algorithm runs.
	for _, edge := range g.Edges {
		if _, ok := nodes[edge.Source]; !ok {
			return ExecutionPlan{}, &domain.Error{
				Kind:   domain.KindGraphDanglingEdge,
				Detail: fmt.Sprintf("edge %q references unknown source node %q", edge.ID, edge.Source),
			}
		}
		if _, ok := nodes[edge.Target]; !ok {
			return ExecutionPlan{}, &domain.Error{
				Kind:   domain.KindGraphDanglingEdge,
				Detail: fmt.Sprintf("edge %q references unknown target node %q", edge.ID, edge.Target),
			}
		}
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	predecessors := make(map[string]map[string]struct{}, len(nodes))
	for id := range nodes {
		indegree[id] = 0
	}
	for _, edge := range g.Edges {
		if predecessors[edge.Target] == nil {
			predecessors[edge.Target] = make(map[string]struct{})
		}
		if _, seen := predecessors[edge.Target][edge.Source]; seen {
			// Parallel edges between the same pair carry no extra dependency.
			continue
		}
		predecessors[edge.Target][edge.Source] = struct{}{}
		dependents[edge.Source] = append(dependents[edge.Source], edge.Target)
		indegree[edge.Target]++
	}

	ready := make([]string, 0, len(nodes))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	plan := ExecutionPlan{Predecessors: make(map[string][]string, len(nodes))}
	scheduled := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		level := ready
		ready = nil
		plan.Levels = append(plan.Levels, level)
		scheduled += len(level)

		for _, id := range level {
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					ready = append(ready, dependent)
				}
			}
		}
	}

	if scheduled != len(nodes) {
		remaining := make([]string, 0)
		for id, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return ExecutionPlan{}, &domain.Error{
			Kind:   domain.KindGraphCycle,
			Detail: fmt.Sprintf("cycle involving nodes %v", remaining),
		}
	}

	for id := range nodes {
		preds := make([]string, 0, len(predecessors[id]))
		for pred := range predecessors[id] {
			preds = append(preds, pred)
		}
		sort.Strings(preds)
		plan.Predecessors[id] = preds
	}

	return plan, nil
}
