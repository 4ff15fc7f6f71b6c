package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can produce. Errors surface
// in execution records as structured data so downstream analytics never need
// to parse strings.
type ErrorKind string

const (
	// KindModelNotFound means the model identifier resolved to nothing. Caller error, never retried.
	KindModelNotFound ErrorKind = "model_not_found"
	// KindValidationFailed means the input or output payload violated the declared schema. Never retried.
	KindValidationFailed ErrorKind = "validation_failed"
	// KindTimeout covers network failures and per-call deadline expiry. Retried per policy.
	KindTimeout ErrorKind = "timeout"
	// KindUpstreamError means the model endpoint answered with a non-2xx status. Retried per policy.
	KindUpstreamError ErrorKind = "upstream_error"
	// KindGraphCycle means the graph contains a cycle and cannot be scheduled.
	KindGraphCycle ErrorKind = "graph_cycle"
	// KindGraphDanglingEdge means an edge references a node id not present in the graph.
	KindGraphDanglingEdge ErrorKind = "graph_dangling_edge"
	// KindGraphDuplicateNode means two nodes share the same id.
	KindGraphDuplicateNode ErrorKind = "graph_duplicate_node"
	// KindCancelled means the run was cancelled or its deadline expired between levels.
	KindCancelled ErrorKind = "cancelled"
)

// Error is the structured failure type carried through invocation results and
// execution records.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
	Path       string    `json:"path,omitempty"`        // schema violation path
	StatusCode int       `json:"status_code,omitempty"` // upstream HTTP status
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Detail)
	case e.Path != "":
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

// Retryable reports whether the failure class is transient. Only timeouts and
// upstream errors qualify; validation and lookup failures indicate a caller
// or configuration defect.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUpstreamError
}

// IsGraphError reports whether the failure came from graph resolution.
func (e *Error) IsGraphError() bool {
	switch e.Kind {
	case KindGraphCycle, KindGraphDanglingEdge, KindGraphDuplicateNode:
		return true
	default:
		return false
	}
}

// KindOf extracts the error kind from any error chain, or "" when the chain
// carries no structured error.
func KindOf(err error) ErrorKind {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Kind
	}
	return ""
}

// NotFoundError builds a model-not-found error.
func NotFoundError(modelID string) *Error {
	return &Error{Kind: KindModelNotFound, Detail: fmt.Sprintf("model %q is not registered", modelID)}
}

// ValidationError builds a schema violation error for the given path.
func ValidationError(path, reason string) *Error {
	return &Error{Kind: KindValidationFailed, Path: path, Detail: reason}
}

// TimeoutError builds a timeout/network failure error.
func TimeoutError(detail string) *Error {
	return &Error{Kind: KindTimeout, Detail: detail}
}

// UpstreamFailure builds an upstream error carrying the HTTP status.
func UpstreamFailure(statusCode int, detail string) *Error {
	return &Error{Kind: KindUpstreamError, StatusCode: statusCode, Detail: detail}
}

// CancelledError builds a cancellation annotation.
func CancelledError(detail string) *Error {
	return &Error{Kind: KindCancelled, Detail: detail}
}

// ErrorResponse is the standard JSON error model returned by the HTTP API.
// It exposes a stable machine-readable code without leaking internals.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
