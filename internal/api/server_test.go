package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skeinai/skein/internal/governance"
	"github.com/skeinai/skein/pkg/directory"
	"github.com/skeinai/skein/pkg/domain"
	"github.com/skeinai/skein/pkg/engine"
	"github.com/skeinai/skein/pkg/invoke"
	"github.com/skeinai/skein/pkg/store"
)

type testEnv struct {
	api      *httptest.Server
	upstream *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"echoed","usage":{"total_tokens":10}}`))
	}))
	t.Cleanup(upstream.Close)

	dir := directory.NewMemoryDirectory(nil)
	registry := engine.NewGraphRegistry(nil)
	memStore := store.NewMemoryStore()
	invoker := invoke.New(invoke.Config{
		Directory: dir,
		Retry:     governance.RetryConfig{MaxRetries: 1, BaseBackoff: time.Millisecond},
	})
	orchestrator := engine.NewOrchestrator(engine.Config{
		Invoker:  invoker,
		Store:    memStore,
		Registry: registry,
	})

	server := NewServer(Config{
		Directory:    dir,
		Registry:     registry,
		Orchestrator: orchestrator,
		Store:        memStore,
	})

	api := httptest.NewServer(server.Handler())
	t.Cleanup(api.Close)
	return &testEnv{api: api, upstream: upstream}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.api.URL+path, &payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) registerModel(t *testing.T, id string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/models", map[string]any{
		"id":       id,
		"endpoint": e.upstream.URL,
		"tags":     []string{"test"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", id, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestModelLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.registerModel(t, "echo")

	// Duplicate registration is rejected.
	resp := env.do(t, http.MethodPost, "/v1/models", map[string]any{
		"id": "echo", "endpoint": env.upstream.URL,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	meta := decodeBody[domain.ModelMetadata](t, env.do(t, http.MethodGet, "/v1/models/echo", nil))
	if meta.ID != "echo" || meta.Status != domain.StatusOffline {
		t.Fatalf("model = %+v", meta)
	}

	models := decodeBody[[]domain.ModelMetadata](t, env.do(t, http.MethodGet, "/v1/models?tag=test", nil))
	if len(models) != 1 {
		t.Fatalf("list = %d models", len(models))
	}

	resp = env.do(t, http.MethodDelete, "/v1/models/echo", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/v1/models/echo", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGraphExecutionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.registerModel(t, "step-1")
	env.registerModel(t, "step-2")

	resp := env.do(t, http.MethodPost, "/v1/graphs", map[string]any{
		"id": "two-step",
		"nodes": []map[string]any{
			{"id": "a", "model_id": "step-1"},
			{"id": "b", "model_id": "step-2"},
		},
		"edges": []map[string]any{
			{"id": "e1", "source": "a", "target": "b"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put graph: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	record := decodeBody[domain.ExecutionRecord](t, env.do(t, http.MethodPost, "/v1/graphs/two-step/execute", map[string]any{
		"input": map[string]any{"text": "hello"},
	}))
	if record.Status != domain.RunCompleted {
		t.Fatalf("run status = %s, record = %+v", record.Status, record)
	}
	if len(record.Invocations) != 2 {
		t.Fatalf("invocations = %d", len(record.Invocations))
	}

	// The run is retrievable from history.
	stored := decodeBody[domain.ExecutionRecord](t, env.do(t, http.MethodGet, "/v1/runs/"+record.ID, nil))
	if stored.ID != record.ID || stored.Status != domain.RunCompleted {
		t.Fatalf("stored run = %+v", stored)
	}

	runs := decodeBody[[]domain.ExecutionRecord](t, env.do(t, http.MethodGet, "/v1/runs?graph_id=two-step", nil))
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
}

func TestExecuteUnknownGraphReturns404(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/v1/graphs/ghost/execute", map[string]any{"input": nil})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	errResp := decodeBody[domain.ErrorResponse](t, resp)
	if errResp.Code != "graph_not_found" {
		t.Fatalf("error = %+v", errResp)
	}
}

func TestInvalidGraphExecutesToFailedRecord(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/v1/graphs", map[string]any{
		"id": "cyclic",
		"nodes": []map[string]any{
			{"id": "a", "model_id": "m"},
			{"id": "b", "model_id": "m"},
		},
		"edges": []map[string]any{
			{"id": "e1", "source": "a", "target": "b"},
			{"id": "e2", "source": "b", "target": "a"},
		},
	})
	resp.Body.Close()

	record := decodeBody[domain.ExecutionRecord](t, env.do(t, http.MethodPost, "/v1/graphs/cyclic/execute", map[string]any{"input": nil}))
	if record.Status != domain.RunFailed {
		t.Fatalf("status = %s", record.Status)
	}
	if record.Annotation == nil || record.Annotation.Kind != domain.KindGraphCycle {
		t.Fatalf("annotation = %+v", record.Annotation)
	}
}

func TestAdHocInvoke(t *testing.T) {
	env := newTestEnv(t)
	env.registerModel(t, "echo")

	record := decodeBody[domain.ExecutionRecord](t, env.do(t, http.MethodPost, "/v1/models/echo/invoke", map[string]any{
		"input": map[string]any{"text": "hi"},
	}))
	if record.Status != domain.RunCompleted || record.GraphID != "" {
		t.Fatalf("record = %+v", record)
	}

	// Unknown model surfaces the structured error.
	resp := env.do(t, http.MethodPost, "/v1/models/ghost/invoke", map[string]any{"input": nil})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	errResp := decodeBody[domain.ErrorResponse](t, resp)
	if errResp.Code != string(domain.KindModelNotFound) {
		t.Fatalf("error = %+v", errResp)
	}
}

func TestRunNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/v1/runs/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Serve a request first so the request counter has a sample.
	resp = env.do(t, http.MethodGet, "/v1/models", nil)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("skein_http_requests_total")) {
		t.Fatalf("metrics output missing request counter:\n%s", buf.String())
	}
}
