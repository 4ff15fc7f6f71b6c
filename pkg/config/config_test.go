package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skeinai/skein/pkg/domain"
)

const sampleConfig = `
server:
  address: ":9090"
logging:
  level: debug
store:
  backend: memory
invoker:
  call_timeout_ms: 5000
  max_retries: 1
models:
  - id: summarizer
    endpoint: http://models.internal/summarize
    cost_per_unit: 0.25
    security: public
    tags: [nlp, fast]
    input_schema:
      type: object
      required: [text]
      properties:
        text:
          type: string
graphs:
  - id: summarize-then-tag
    nodes:
      - id: sum
        model: summarizer
        config:
          temperature: 0.3
      - id: tag
        model: tagger
    edges:
      - id: e1
        source: sum
        target: tag
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skein.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesManifest(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Invoker.CallTimeoutMS != 5000 || cfg.Invoker.MaxRetries != 1 {
		t.Fatalf("invoker config = %+v", cfg.Invoker)
	}

	if len(cfg.Models) != 1 {
		t.Fatalf("models = %d", len(cfg.Models))
	}
	meta := cfg.Models[0].ToDomain()
	if meta.ID != "summarizer" || meta.CostPerUnit != 0.25 {
		t.Fatalf("model = %+v", meta)
	}
	if !meta.HasTag("nlp") {
		t.Fatal("tags not parsed")
	}
	if meta.InputSchema.Kind != domain.KindMap {
		t.Fatalf("input schema kind = %s", meta.InputSchema.Kind)
	}
	required, ok := meta.InputSchema.Field("required")
	if !ok || required.Kind != domain.KindList || required.List[0].Str != "text" {
		t.Fatalf("input schema required = %+v", required)
	}

	if len(cfg.Graphs) != 1 {
		t.Fatalf("graphs = %d", len(cfg.Graphs))
	}
	g := cfg.Graphs[0].ToDomain()
	if g.ID != "summarize-then-tag" || len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Fatalf("graph = %+v", g)
	}
	if temp, ok := g.Nodes[0].Config["temperature"]; !ok || temp.Num != 0.3 {
		t.Fatalf("node config = %+v", g.Nodes[0].Config)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Store.Backend != "memory" || cfg.Logging.Level != "info" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SKEIN_LISTEN_ADDR", ":7070")
	t.Setenv("SKEIN_STORE_BACKEND", "redis")
	t.Setenv("SKEIN_REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.Redis.Addr != "localhost:6379" {
		t.Fatalf("store = %+v", cfg.Store)
	}
}

func TestCredentialEnvResolution(t *testing.T) {
	t.Setenv("TEST_MODEL_TOKEN", "tok-123")
	m := ModelConfig{ID: "m", Endpoint: "http://x", CredentialEnv: "TEST_MODEL_TOKEN"}
	if got := m.ToDomain().Credential; got != "tok-123" {
		t.Fatalf("credential = %q", got)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown backend", "store:\n  backend: etcd\n"},
		{"redis without addr", "store:\n  backend: redis\n"},
		{"postgres without dsn", "store:\n  backend: postgres\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"model without endpoint", "models:\n  - id: broken\n"},
		{"duplicate model", "models:\n  - id: m\n    endpoint: http://a\n  - id: m\n    endpoint: http://b\n"},
		{"bad security", "models:\n  - id: m\n    endpoint: http://a\n    security: secret\n"},
		{"graph without id", "graphs:\n  - nodes: []\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("config accepted: %s", tc.body)
			}
		})
	}
}

func TestFileProviderReload(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":1111\"\n")
	provider, err := NewFileConfigProvider(path, nil)
	if err != nil {
		t.Fatalf("NewFileConfigProvider: %v", err)
	}
	defer provider.Close()

	updates := provider.Subscribe()
	first := <-updates
	if first.Server.Address != ":1111" {
		t.Fatalf("initial address = %q", first.Server.Address)
	}

	if err := os.WriteFile(path, []byte("server:\n  address: \":2222\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case next := <-updates:
		if next.Server.Address != ":2222" {
			t.Fatalf("reloaded address = %q", next.Server.Address)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload notification")
	}

	if provider.Current().Server.Address != ":2222" {
		t.Fatalf("Current() = %+v", provider.Current().Server)
	}
}

func TestFileProviderKeepsLastGoodConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":1111\"\n")
	provider, err := NewFileConfigProvider(path, nil)
	if err != nil {
		t.Fatalf("NewFileConfigProvider: %v", err)
	}
	defer provider.Close()

	if err := os.WriteFile(path, []byte("store:\n  backend: etcd\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// Give the debounce and reload time to run; the invalid file must not
	// replace the last good snapshot.
	time.Sleep(500 * time.Millisecond)
	if provider.Current().Server.Address != ":1111" {
		t.Fatalf("invalid reload replaced config: %+v", provider.Current().Server)
	}
}
