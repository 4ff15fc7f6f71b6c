// Package config provides configuration structures and loading logic for the
// skein server, including model and pipeline manifests.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skeinai/skein/pkg/domain"
)

// Config holds the global server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Store     StoreConfig     `yaml:"store"`
	Invoker   InvokerConfig   `yaml:"invoker"`
	Prober    ProberConfig    `yaml:"prober"`
	Models    []ModelConfig   `yaml:"models"`
	Graphs    []GraphConfig   `yaml:"graphs"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// StoreConfig selects the execution store backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis", "postgres". Defaults to memory.
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds redis store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds postgres store settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// InvokerConfig holds model call policy settings.
type InvokerConfig struct {
	CallTimeoutMS int           `yaml:"call_timeout_ms"`
	MaxRetries    int           `yaml:"max_retries"`
	BackoffBaseMS int           `yaml:"backoff_base_ms"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds per-model circuit breaker settings.
type BreakerConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxFailures int  `yaml:"max_failures"`
	CooldownMS  int  `yaml:"cooldown_ms"`
}

// ProberConfig holds health probe settings.
type ProberConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
}

// ModelConfig is the manifest form of a model registration.
type ModelConfig struct {
	ID             string       `yaml:"id"`
	Name           string       `yaml:"name"`
	Endpoint       string       `yaml:"endpoint"`
	InputSchema    domain.Value `yaml:"input_schema"`
	OutputSchema   domain.Value `yaml:"output_schema"`
	LatencyMS      int          `yaml:"latency_ms"`
	CostPerUnit    float64      `yaml:"cost_per_unit"`
	Security       string       `yaml:"security"`
	Credential     string       `yaml:"credential"`
	CredentialEnv  string       `yaml:"credential_env"`
	HealthEndpoint string       `yaml:"health_endpoint"`
	Tags           []string     `yaml:"tags"`
}

// ToDomain converts the manifest entry to model metadata, resolving the
// credential from the environment when credential_env is set.
func (m ModelConfig) ToDomain() domain.ModelMetadata {
	credential := m.Credential
	if m.CredentialEnv != "" {
		if v := os.Getenv(m.CredentialEnv); v != "" {
			credential = v
		}
	}
	return domain.ModelMetadata{
		ID:             m.ID,
		Name:           m.Name,
		Endpoint:       m.Endpoint,
		InputSchema:    m.InputSchema,
		OutputSchema:   m.OutputSchema,
		LatencyMS:      m.LatencyMS,
		CostPerUnit:    m.CostPerUnit,
		Security:       domain.SecurityPolicy(m.Security),
		Credential:     credential,
		HealthEndpoint: m.HealthEndpoint,
		Tags:           append([]string(nil), m.Tags...),
	}
}

// GraphConfig is the manifest form of a pipeline graph.
type GraphConfig struct {
	ID    string       `yaml:"id"`
	Nodes []NodeConfig `yaml:"nodes"`
	Edges []EdgeConfig `yaml:"edges"`
}

// NodeConfig is the manifest form of a graph node.
type NodeConfig struct {
	ID     string                  `yaml:"id"`
	Model  string                  `yaml:"model"`
	Config map[string]domain.Value `yaml:"config"`
}

// EdgeConfig is the manifest form of a graph edge.
type EdgeConfig struct {
	ID         string `yaml:"id"`
	Source     string `yaml:"source"`
	Target     string `yaml:"target"`
	SourcePort string `yaml:"source_port"`
	TargetPort string `yaml:"target_port"`
}

// ToDomain converts the manifest entry to a pipeline graph. Structural
// validity is not checked here; invalid graphs fail at execution time.
func (g GraphConfig) ToDomain() domain.PipelineGraph {
	out := domain.PipelineGraph{ID: g.ID}
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, domain.Node{ID: n.ID, ModelID: n.Model, Config: n.Config})
	}
	for _, e := range g.Edges {
		out.Edges = append(out.Edges, domain.Edge{
			ID:         e.ID,
			Source:     e.Source,
			Target:     e.Target,
			SourcePort: e.SourcePort,
			TargetPort: e.TargetPort,
		})
	}
	return out
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:  ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info"},
		Store:   StoreConfig{Backend: "memory"},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SKEIN_LISTEN_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("SKEIN_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("SKEIN_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("SKEIN_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("SKEIN_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("SKEIN_REDIS_ADDR"); val != "" {
		cfg.Store.Redis.Addr = val
	}
	if val := os.Getenv("SKEIN_REDIS_PASSWORD"); val != "" {
		cfg.Store.Redis.Password = val
	}
	if val := os.Getenv("SKEIN_POSTGRES_DSN"); val != "" {
		cfg.Store.Postgres.DSN = val
	}
}

// Validate checks the configuration for operator mistakes that would only
// surface later at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	if c.Invoker.CallTimeoutMS < 0 || c.Invoker.MaxRetries < 0 || c.Invoker.BackoffBaseMS < 0 {
		return fmt.Errorf("invoker timings must not be negative")
	}

	seenModels := make(map[string]struct{}, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("models[%d]: id is required", i)
		}
		if m.Endpoint == "" {
			return fmt.Errorf("model %q: endpoint is required", m.ID)
		}
		if _, dup := seenModels[m.ID]; dup {
			return fmt.Errorf("model %q declared twice", m.ID)
		}
		seenModels[m.ID] = struct{}{}
		switch domain.SecurityPolicy(m.Security) {
		case "", domain.SecurityPublic, domain.SecurityOrgOnly, domain.SecurityPrivate:
		default:
			return fmt.Errorf("model %q: unknown security policy %q", m.ID, m.Security)
		}
	}

	for i, g := range c.Graphs {
		if g.ID == "" {
			return fmt.Errorf("graphs[%d]: id is required", i)
		}
	}
	return nil
}
