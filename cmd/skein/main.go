// Package main is the entry point for the skein server binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/skeinai/skein/internal/api"
	"github.com/skeinai/skein/internal/governance"
	"github.com/skeinai/skein/pkg/config"
	"github.com/skeinai/skein/pkg/directory"
	"github.com/skeinai/skein/pkg/engine"
	"github.com/skeinai/skein/pkg/invoke"
	"github.com/skeinai/skein/pkg/logging"
	"github.com/skeinai/skein/pkg/store"
	"github.com/skeinai/skein/pkg/telemetry"
)

const (
	defaultConfigPath = "skein.yaml"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	listenAddr := flag.String("listen", "", "Address to listen on (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	prettyLogs := flag.Bool("pretty", false, "Enable human-readable console logging")
	flag.Parse()

	logger := logging.NewLogger(logging.Config{
		Level:  *logLevel,
		Pretty: *prettyLogs,
	})
	slog.SetDefault(logger)

	logger.Info("Starting skein", "config", *configPath)

	cfg, provider := loadConfig(*configPath, logger)
	if provider != nil {
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Error("Failed to close config provider", "error", err)
			}
		}()
	}
	if *listenAddr != "" {
		cfg.Server.Address = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry
	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "skein",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	// Execution store
	execStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize execution store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := execStore.Close(); err != nil {
			logger.Error("Failed to close execution store", "error", err)
		}
	}()

	// Core components
	dir := directory.NewMemoryDirectory(logger)
	registry := engine.NewGraphRegistry(logger)
	applyManifest(ctx, cfg, dir, registry, logger)

	invoker := buildInvoker(cfg, dir, logger)
	orchestrator := engine.NewOrchestrator(engine.Config{
		Invoker:  invoker,
		Store:    execStore,
		Registry: registry,
		Logger:   logger,
	})

	// Health prober
	if cfg.Prober.Enabled {
		interval := time.Duration(cfg.Prober.IntervalMS) * time.Millisecond
		prober := directory.NewProber(directory.ProberConfig{
			Directory: dir,
			Interval:  interval,
			Logger:    logger,
		})
		go prober.Run(ctx)
	}

	// Hot reload of models and graphs
	if provider != nil {
		go watchConfig(ctx, provider, dir, registry, logger)
	}

	apiServer := api.NewServer(api.Config{
		Directory:    dir,
		Registry:     registry,
		Orchestrator: orchestrator,
		Store:        execStore,
		Logger:       logger,
	})

	server := startServer(cfg.Server.Address, apiServer.Handler(), logger)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, *config.FileConfigProvider) {
	if _, err := os.Stat(path); err != nil {
		logger.Warn("Config file not found, using defaults", "path", path)
		cfg, loadErr := config.Load("")
		if loadErr != nil {
			logger.Error("Failed to build default configuration", "error", loadErr)
			os.Exit(1)
		}
		return cfg, nil
	}

	provider, err := config.NewFileConfigProvider(path, logger)
	if err != nil {
		logger.Error("Failed to initialize config provider", "error", err)
		os.Exit(1)
	}
	return provider.Current(), provider
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.ExecutionStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		logger.Info("Using redis execution store", "addr", cfg.Store.Redis.Addr)
		return store.NewRedisStore(ctx, cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
	case "postgres":
		logger.Info("Using postgres execution store")
		return store.NewPostgresStore(ctx, cfg.Store.Postgres.DSN)
	default:
		logger.Info("Using in-memory execution store")
		return store.NewMemoryStore(), nil
	}
}

func buildInvoker(cfg *config.Config, dir directory.Directory, logger *slog.Logger) *invoke.Invoker {
	var breakers *governance.BreakerManager
	if cfg.Invoker.Breaker.Enabled {
		breakers = governance.NewBreakerManager(governance.CircuitBreakerConfig{
			MaxFailures: cfg.Invoker.Breaker.MaxFailures,
			Cooldown:    time.Duration(cfg.Invoker.Breaker.CooldownMS) * time.Millisecond,
		})
	}

	retry := governance.DefaultRetryConfig()
	if cfg.Invoker.MaxRetries > 0 {
		retry.MaxRetries = cfg.Invoker.MaxRetries
	}
	if cfg.Invoker.BackoffBaseMS > 0 {
		retry.BaseBackoff = time.Duration(cfg.Invoker.BackoffBaseMS) * time.Millisecond
	}

	return invoke.New(invoke.Config{
		Directory: dir,
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Retry:       retry,
		Breakers:    breakers,
		CallTimeout: time.Duration(cfg.Invoker.CallTimeoutMS) * time.Millisecond,
		Logger:      logger,
	})
}

// applyManifest registers configured models and graphs. Registration of an
// already-known model id fails by design; reloads only add new entries.
func applyManifest(ctx context.Context, cfg *config.Config, dir *directory.MemoryDirectory, registry *engine.GraphRegistry, logger *slog.Logger) {
	for _, m := range cfg.Models {
		if err := dir.Register(ctx, m.ToDomain()); err != nil {
			logger.Debug("Model manifest entry skipped", "model_id", m.ID, "reason", err.Error())
		}
	}
	for _, g := range cfg.Graphs {
		if err := registry.Put(g.ToDomain()); err != nil {
			logger.Error("Failed to register graph", "graph_id", g.ID, "error", err)
		}
	}
}

func watchConfig(ctx context.Context, provider *config.FileConfigProvider, dir *directory.MemoryDirectory, registry *engine.GraphRegistry, logger *slog.Logger) {
	updates := provider.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			logger.Info("Configuration update received",
				"models", len(cfg.Models),
				"graphs", len(cfg.Graphs),
			)
			applyManifest(ctx, cfg, dir, registry, logger)
		}
	}
}

func startServer(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("Failed to bind listener", "addr", addr, "error", err)
		os.Exit(1)
	}

	logger.Info("Server listening", "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()
	return server
}
