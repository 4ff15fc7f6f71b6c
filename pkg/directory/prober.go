package directory

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/skeinai/skein/pkg/domain"
)

const defaultProbeTimeout = 5 * time.Second

// Prober periodically issues GET requests against each model's declared
// health-check endpoint and feeds the outcome back through RecordOutcome,
// so status reflects probes as well as real invocations. Models without a
// health endpoint are skipped.
type Prober struct {
	directory *MemoryDirectory
	client    *http.Client
	interval  time.Duration
	logger    *slog.Logger
}

// ProberConfig holds dependencies for creating a Prober.
type ProberConfig struct {
	Directory *MemoryDirectory
	Interval  time.Duration
	Client    *http.Client
	Logger    *slog.Logger
}

// NewProber creates a prober; it does nothing until Run is called.
func NewProber(cfg ProberConfig) *Prober {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		directory: cfg.Directory,
		client:    client,
		interval:  interval,
		logger:    logger,
	}
}

// Run probes on the configured interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every model with a health endpoint once.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, meta := range p.directory.List(ctx, Filter{}) {
		if meta.HealthEndpoint == "" {
			continue
		}
		p.probe(ctx, meta)
	}
}

func (p *Prober) probe(ctx context.Context, meta domain.ModelMetadata) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.HealthEndpoint, nil)
	if err != nil {
		p.logger.Warn("invalid health endpoint", "model_id", meta.ID, "error", err)
		return
	}
	if meta.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+meta.Credential)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := int(time.Since(start).Milliseconds())

	if err != nil {
		p.directory.RecordOutcome(ctx, meta.ID, domain.StatusError, elapsed)
		p.logger.Debug("health probe failed", "model_id", meta.ID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.directory.RecordOutcome(ctx, meta.ID, domain.StatusOnline, elapsed)
	} else {
		p.directory.RecordOutcome(ctx, meta.ID, domain.StatusError, elapsed)
		p.logger.Debug("health probe unhealthy", "model_id", meta.ID, "status", resp.StatusCode)
	}
}
