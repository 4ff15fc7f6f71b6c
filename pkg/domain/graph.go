package domain

// PipelineGraph is a workflow definition: a set of model nodes connected by
// directed edges. Graphs are validated at resolution time, not at save time,
// so a stored graph may be invalid and fail only on execution.
type PipelineGraph struct {
	ID    string `json:"id" yaml:"id"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node references one model and its invocation configuration.
type Node struct {
	ID      string           `json:"id" yaml:"id"`
	ModelID string           `json:"model_id" yaml:"modelId"`
	Config  map[string]Value `json:"config,omitempty" yaml:"config"`
}

// Edge states that the source node's output feeds the target node's input.
// Port names are optional labels for multi-output models.
type Edge struct {
	ID         string `json:"id" yaml:"id"`
	Source     string `json:"source" yaml:"source"`
	Target     string `json:"target" yaml:"target"`
	SourcePort string `json:"source_port,omitempty" yaml:"sourcePort"`
	TargetPort string `json:"target_port,omitempty" yaml:"targetPort"`
}

// Clone returns a deep copy of the graph.
func (g PipelineGraph) Clone() PipelineGraph {
	out := g
	out.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		cloned := n
		if n.Config != nil {
			cloned.Config = make(map[string]Value, len(n.Config))
			for k, v := range n.Config {
				cloned.Config[k] = v
			}
		}
		out.Nodes[i] = cloned
	}
	out.Edges = append([]Edge(nil), g.Edges...)
	return out
}
