// Package directory maintains the registry of invocable models: their
// endpoints, schemas, credentials, and the rolling health signal mutated as a
// side effect of invocations and probes.
package directory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/skeinai/skein/pkg/domain"
)

// Directory is the collaborator contract consumed by the invoker.
type Directory interface {
	// Resolve returns a snapshot of the model metadata. Unknown ids yield
	// a model_not_found error; backends may surface other structured
	// errors, transient ones included.
	Resolve(ctx context.Context, modelID string) (domain.ModelMetadata, error)

	// RecordOutcome reports the terminal classification of one observed
	// call or probe. Success moves the model online and folds the observed
	// latency into the rolling estimate; failure moves it to error.
	RecordOutcome(ctx context.Context, modelID string, status domain.ModelStatus, observedLatencyMS int)
}

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Tag    string
	Status domain.ModelStatus
}

// MemoryDirectory is the in-memory Directory implementation. Each model entry
// carries its own lock so concurrent invocations of different models never
// contend; updates to one model are read-modify-write under the entry lock,
// last-write-wins across concurrent writers of the same model.
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

type entry struct {
	mu   sync.Mutex
	meta domain.ModelMetadata
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory(logger *slog.Logger) *MemoryDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryDirectory{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds a model. Models always start offline regardless of the status
// supplied; only invocations and probes move them online. Registering an
// existing id fails: identifiers are immutable once assigned.
func (d *MemoryDirectory) Register(_ context.Context, meta domain.ModelMetadata) error {
	if meta.ID == "" {
		return &domain.Error{Kind: domain.KindValidationFailed, Path: "$.id", Detail: "model id is required"}
	}
	if meta.Endpoint == "" {
		return &domain.Error{Kind: domain.KindValidationFailed, Path: "$.endpoint", Detail: "model endpoint is required"}
	}
	if meta.Security == "" {
		meta.Security = domain.SecurityPublic
	}
	meta.Status = domain.StatusOffline

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[meta.ID]; exists {
		return &domain.Error{Kind: domain.KindValidationFailed, Path: "$.id", Detail: "model id already registered"}
	}
	d.entries[meta.ID] = &entry{meta: meta.Clone()}

	d.logger.Info("model registered",
		"model_id", meta.ID,
		"endpoint", meta.Endpoint,
		"security", string(meta.Security),
	)
	return nil
}

// Resolve implements Directory.
func (d *MemoryDirectory) Resolve(_ context.Context, modelID string) (domain.ModelMetadata, error) {
	d.mu.RLock()
	e, ok := d.entries[modelID]
	d.mu.RUnlock()
	if !ok {
		return domain.ModelMetadata{}, domain.NotFoundError(modelID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.Clone(), nil
}

// RecordOutcome implements Directory. Unknown models are ignored: the model
// may have been deleted while a call was in flight, and past records keep
// their snapshot.
func (d *MemoryDirectory) RecordOutcome(_ context.Context, modelID string, status domain.ModelStatus, observedLatencyMS int) {
	d.mu.RLock()
	e, ok := d.entries[modelID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.meta.Status = status
	if status == domain.StatusOnline && observedLatencyMS >= 0 {
		e.meta.LatencyMS = rollLatency(e.meta.LatencyMS, observedLatencyMS)
	}
}

// rollLatency folds one observation into the estimate: round((prev+observed)/2).
// Repeated application makes the estimate an exponentially-smoothed health
// signal rather than a single-sample flag.
func rollLatency(prev, observed int) int {
	return (prev + observed + 1) / 2
}

// Delete removes a model. Past execution records are unaffected; they store
// snapshots, not live references.
func (d *MemoryDirectory) Delete(_ context.Context, modelID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[modelID]; !ok {
		return domain.NotFoundError(modelID)
	}
	delete(d.entries, modelID)
	d.logger.Info("model deleted", "model_id", modelID)
	return nil
}

// List returns snapshots of all models matching the filter.
func (d *MemoryDirectory) List(_ context.Context, filter Filter) []domain.ModelMetadata {
	d.mu.RLock()
	entries := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	out := make([]domain.ModelMetadata, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		meta := e.meta.Clone()
		e.mu.Unlock()

		if filter.Tag != "" && !meta.HasTag(filter.Tag) {
			continue
		}
		if filter.Status != "" && meta.Status != filter.Status {
			continue
		}
		out = append(out, meta)
	}
	return out
}
