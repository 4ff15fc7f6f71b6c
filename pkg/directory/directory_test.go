package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/skeinai/skein/pkg/domain"
)

func newTestDirectory(t *testing.T) *MemoryDirectory {
	t.Helper()
	return NewMemoryDirectory(nil)
}

func TestRegisterStartsOffline(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	err := dir.Register(ctx, domain.ModelMetadata{
		ID:       "summarizer",
		Endpoint: "https://models.example.com/summarize",
		Status:   domain.StatusOnline, // must be ignored
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	meta, err := dir.Resolve(ctx, "summarizer")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if meta.Status != domain.StatusOffline {
		t.Fatalf("expected offline at registration, got %s", meta.Status)
	}
	if meta.Security != domain.SecurityPublic {
		t.Fatalf("expected default public policy, got %s", meta.Security)
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	meta := domain.ModelMetadata{ID: "m", Endpoint: "https://x"}
	if err := dir.Register(ctx, meta); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := dir.Register(ctx, meta); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
}

func TestResolveUnknownModel(t *testing.T) {
	dir := newTestDirectory(t)

	_, err := dir.Resolve(context.Background(), "ghost")
	if err == nil {
		t.Fatalf("expected not-found error")
	}
	if domain.KindOf(err) != domain.KindModelNotFound {
		t.Fatalf("expected model_not_found, got %v", err)
	}
}

func TestRecordOutcomeRollingLatency(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Register(ctx, domain.ModelMetadata{ID: "m", Endpoint: "https://x", LatencyMS: 100}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	dir.RecordOutcome(ctx, "m", domain.StatusOnline, 301)

	meta, err := dir.Resolve(ctx, "m")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if meta.Status != domain.StatusOnline {
		t.Fatalf("expected online, got %s", meta.Status)
	}
	// round((100+301)/2) = 201
	if meta.LatencyMS != 201 {
		t.Fatalf("expected rolled latency 201, got %d", meta.LatencyMS)
	}
}

func TestRecordOutcomeFailureKeepsLatency(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Register(ctx, domain.ModelMetadata{ID: "m", Endpoint: "https://x", LatencyMS: 250}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	dir.RecordOutcome(ctx, "m", domain.StatusError, 9000)

	meta, _ := dir.Resolve(ctx, "m")
	if meta.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", meta.Status)
	}
	if meta.LatencyMS != 250 {
		t.Fatalf("failure must not touch the latency estimate, got %d", meta.LatencyMS)
	}
}

func TestRecordOutcomeUnknownModelIsNoop(t *testing.T) {
	dir := newTestDirectory(t)
	// Must not panic: the model may be deleted while a call is in flight.
	dir.RecordOutcome(context.Background(), "ghost", domain.StatusOnline, 10)
}

func TestResolveReturnsSnapshot(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Register(ctx, domain.ModelMetadata{ID: "m", Endpoint: "https://x", Tags: []string{"nlp"}}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	meta, _ := dir.Resolve(ctx, "m")
	meta.Tags[0] = "mutated"

	again, _ := dir.Resolve(ctx, "m")
	if again.Tags[0] != "nlp" {
		t.Fatalf("resolve must return an isolated snapshot")
	}
}

func TestListFilters(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	models := []domain.ModelMetadata{
		{ID: "a", Endpoint: "https://a", Tags: []string{"nlp", "fast"}},
		{ID: "b", Endpoint: "https://b", Tags: []string{"vision"}},
		{ID: "c", Endpoint: "https://c", Tags: []string{"nlp"}},
	}
	for _, m := range models {
		if err := dir.Register(ctx, m); err != nil {
			t.Fatalf("register %s failed: %v", m.ID, err)
		}
	}
	dir.RecordOutcome(ctx, "b", domain.StatusOnline, 10)

	if got := dir.List(ctx, Filter{Tag: "nlp"}); len(got) != 2 {
		t.Fatalf("expected 2 nlp models, got %d", len(got))
	}
	if got := dir.List(ctx, Filter{Status: domain.StatusOnline}); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected only b online, got %v", got)
	}
	if got := dir.List(ctx, Filter{}); len(got) != 3 {
		t.Fatalf("expected all models, got %d", len(got))
	}
}

func TestConcurrentOutcomesDoNotRace(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	if err := dir.Register(ctx, domain.ModelMetadata{ID: "m", Endpoint: "https://x"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(latency int) {
			defer wg.Done()
			dir.RecordOutcome(ctx, "m", domain.StatusOnline, latency)
		}(i)
	}
	wg.Wait()

	meta, _ := dir.Resolve(ctx, "m")
	if meta.Status != domain.StatusOnline {
		t.Fatalf("expected online after concurrent successes, got %s", meta.Status)
	}
}

func TestProberUpdatesStatus(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	dir := newTestDirectory(t)
	ctx := context.Background()
	if err := dir.Register(ctx, domain.ModelMetadata{ID: "good", Endpoint: "https://x", HealthEndpoint: healthy.URL}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := dir.Register(ctx, domain.ModelMetadata{ID: "bad", Endpoint: "https://y", HealthEndpoint: unhealthy.URL}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := dir.Register(ctx, domain.ModelMetadata{ID: "silent", Endpoint: "https://z"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	prober := NewProber(ProberConfig{Directory: dir})
	prober.ProbeAll(ctx)

	good, _ := dir.Resolve(ctx, "good")
	if good.Status != domain.StatusOnline {
		t.Fatalf("expected good online, got %s", good.Status)
	}
	bad, _ := dir.Resolve(ctx, "bad")
	if bad.Status != domain.StatusError {
		t.Fatalf("expected bad in error, got %s", bad.Status)
	}
	silent, _ := dir.Resolve(ctx, "silent")
	if silent.Status != domain.StatusOffline {
		t.Fatalf("models without health endpoint must stay offline, got %s", silent.Status)
	}
}
