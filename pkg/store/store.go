// Package store persists execution records. Records are append-only: the
// orchestrator writes each one exactly once when a run reaches a terminal
// status, and re-appending the same record id is a harmless no-op so a
// retried write never duplicates history.
package store

import (
	"context"
	"errors"

	"github.com/skeinai/skein/pkg/domain"
)

// ErrNotFound is returned when a record id is unknown.
var ErrNotFound = errors.New("execution record not found")

// ListOptions narrows List results. Zero value lists everything.
type ListOptions struct {
	// GraphID filters to runs of a single graph.
	GraphID string
	// Limit caps the number of returned records; 0 means no cap.
	Limit int
}

// ExecutionStore is the persistence contract for execution records.
type ExecutionStore interface {
	// Append stores a terminal record. Appending an id that already
	// exists succeeds without modifying the stored record.
	Append(ctx context.Context, record domain.ExecutionRecord) error

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (domain.ExecutionRecord, error)

	// List returns records in insertion order, newest last.
	List(ctx context.Context, opts ListOptions) ([]domain.ExecutionRecord, error)

	// Close releases backend resources.
	Close() error
}
