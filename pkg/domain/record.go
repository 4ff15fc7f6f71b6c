package domain

import "time"

// RunStatus is the overall state of an execution record.
type RunStatus string

const (
	// RunRunning marks a record under construction by the orchestrator.
	RunRunning RunStatus = "running"
	// RunCompleted marks a run in which every node succeeded.
	RunCompleted RunStatus = "completed"
	// RunFailed marks a run aborted by a graph error, node failure, or cancellation.
	RunFailed RunStatus = "failed"
)

// InvocationStatus is the terminal classification of one model call.
type InvocationStatus string

const (
	// InvocationSuccess marks a call that returned a schema-valid output.
	InvocationSuccess InvocationStatus = "success"
	// InvocationError marks a call that terminated with any non-timeout failure.
	InvocationError InvocationStatus = "error"
	// InvocationTimeout marks a call that exhausted its deadline or the network.
	InvocationTimeout InvocationStatus = "timeout"
)

// Invocation records one model call attempt sequence (including retries) and
// its final outcome. ModelID is a snapshot taken at call time; deleting the
// model later does not alter the record.
type Invocation struct {
	NodeID       string           `json:"node_id,omitempty"`
	ModelID      string           `json:"model_id"`
	Input        Value            `json:"input"`
	Output       Value            `json:"output"`
	Err          *Error           `json:"error,omitempty"`
	LatencyMS    int64            `json:"latency_ms"`
	Attempts     int              `json:"attempts"`
	Status       InvocationStatus `json:"status"`
	CostEstimate float64          `json:"cost_estimate"`
}

// ExecutionRecord is the full result of one pipeline (or single-model) run.
// Invocations appear in completion order, which may differ from graph order
// when nodes execute concurrently. Once the record reaches a terminal status
// it is immutable, append-only history.
type ExecutionRecord struct {
	ID             string       `json:"id"`
	GraphID        string       `json:"graph_id,omitempty"` // empty for single-model calls
	Status         RunStatus    `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Invocations    []Invocation `json:"invocations"`
	TotalLatencyMS int64        `json:"total_latency_ms"`
	TotalCost      float64      `json:"total_cost"`
	Annotation     *Error       `json:"annotation,omitempty"` // graph error or cancellation detail
}

// Finish stamps the terminal status and derives total latency and cost.
func (r *ExecutionRecord) Finish(status RunStatus, at time.Time) {
	r.Status = status
	completed := at
	r.CompletedAt = &completed
	r.TotalLatencyMS = completed.Sub(r.StartedAt).Milliseconds()
	var cost float64
	for _, inv := range r.Invocations {
		cost += inv.CostEstimate
	}
	r.TotalCost = cost
}

// Clone returns a deep copy of the record.
func (r ExecutionRecord) Clone() ExecutionRecord {
	out := r
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	if r.Annotation != nil {
		annotation := *r.Annotation
		out.Annotation = &annotation
	}
	out.Invocations = make([]Invocation, len(r.Invocations))
	for i, inv := range r.Invocations {
		cloned := inv
		if inv.Err != nil {
			errCopy := *inv.Err
			cloned.Err = &errCopy
		}
		out.Invocations[i] = cloned
	}
	return out
}
