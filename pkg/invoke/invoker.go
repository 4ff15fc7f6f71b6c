// Package invoke performs single model calls: schema validation on both
// sides of the wire, HTTP transport with per-attempt deadlines, retry with
// exponential backoff for transient failures, and directory feedback.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skeinai/skein/internal/governance"
	"github.com/skeinai/skein/pkg/directory"
	"github.com/skeinai/skein/pkg/domain"
	"github.com/skeinai/skein/pkg/schema"
)

const (
	// DefaultCallTimeout bounds a single attempt, not the whole retry
	// sequence.
	DefaultCallTimeout = 30 * time.Second

	maxErrorBodyBytes = 512
)

// Config assembles an Invoker.
type Config struct {
	// Directory resolves model metadata and receives outcome reports.
	// Required.
	Directory directory.Directory

	// Client is the HTTP client used for model calls. Defaults to
	// http.DefaultClient; supply one wrapped with otelhttp for traced
	// outbound calls.
	Client *http.Client

	// Retry governs transient-failure retries. Zero value uses the engine
	// defaults.
	Retry governance.RetryConfig

	// Breakers, when set, fail calls fast while a model is known bad.
	Breakers *governance.BreakerManager

	// CallTimeout bounds each attempt. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// Units converts a response body into billable units. Defaults to
	// DefaultUnitCounter.
	Units UnitCounter

	Logger *slog.Logger
}

// Result is the terminal outcome of one Invoke call, retries included.
type Result struct {
	Status       domain.InvocationStatus
	Output       domain.Value
	Err          *domain.Error
	Attempts     int
	ElapsedMS    int64
	CostEstimate float64
}

// Invoker executes validated calls against registered models.
type Invoker struct {
	dir         directory.Directory
	client      *http.Client
	retry       *governance.RetryPolicy
	breakers    *governance.BreakerManager
	callTimeout time.Duration
	units       UnitCounter
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New builds an Invoker, filling unset config fields with defaults.
func New(cfg Config) *Invoker {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Units == nil {
		cfg.Units = DefaultUnitCounter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.BaseBackoff == 0 {
		retry = governance.DefaultRetryConfig()
	}
	return &Invoker{
		dir:         cfg.Directory,
		client:      cfg.Client,
		retry:       governance.NewRetryPolicy(retry),
		breakers:    cfg.Breakers,
		callTimeout: cfg.CallTimeout,
		units:       cfg.Units,
		logger:      cfg.Logger,
		tracer:      otel.Tracer("skein/invoke"),
	}
}

// Invoke resolves the model, validates the input, and calls the endpoint
// with retries for timeouts and upstream errors. Lookup and validation
// failures return without touching the network and never change the model's
// directory status.
func (i *Invoker) Invoke(ctx context.Context, modelID string, input domain.Value) Result {
	started := time.Now()
	ctx, span := i.tracer.Start(ctx, "invoke.model",
		trace.WithAttributes(attribute.String("model.id", modelID)))
	defer span.End()

	meta, err := i.dir.Resolve(ctx, modelID)
	if err != nil {
		var structured *domain.Error
		if !errors.As(err, &structured) {
			structured = domain.NotFoundError(modelID)
		}
		return i.terminal(span, started, Result{
			Status: statusFor(structured),
			Err:    structured,
		})
	}

	if verr := schema.Validate(input, meta.InputSchema); verr != nil {
		return i.terminal(span, started, Result{
			Status: domain.InvocationError,
			Err:    verr,
		})
	}

	var breaker *governance.CircuitBreaker
	if i.breakers != nil {
		breaker = i.breakers.Get(modelID)
		if allowErr := breaker.Allow(); allowErr != nil {
			return i.terminal(span, started, Result{
				Status: domain.InvocationError,
				Err: &domain.Error{
					Kind:   domain.KindUpstreamError,
					Detail: fmt.Sprintf("model %q circuit is open", modelID),
				},
			})
		}
	}

	body, marshalErr := json.Marshal(input)
	if marshalErr != nil {
		return i.terminal(span, started, Result{
			Status: domain.InvocationError,
			Err:    domain.ValidationError("$", "input cannot be encoded as JSON"),
		})
	}

	result := i.callWithRetries(ctx, meta, body)
	result.Attempts = max(result.Attempts, 1)

	switch {
	case result.Status == domain.InvocationSuccess:
		result.CostEstimate = meta.CostPerUnit * i.units(result.Output)
		if breaker != nil {
			breaker.RecordSuccess()
		}
	case result.Err != nil && result.Err.Retryable():
		// Terminal timeout or upstream failure after exhausting the
		// retry budget.
		i.dir.RecordOutcome(ctx, modelID, domain.StatusError, -1)
		if breaker != nil {
			breaker.RecordFailure()
		}
	default:
		// Output validation failures after a 2xx answer count against
		// neither the model's health nor the breaker; the upstream did
		// respond, so its reported usage is still billed.
		result.CostEstimate = meta.CostPerUnit * i.units(result.Output)
		if breaker != nil {
			breaker.RecordSuccess()
		}
	}

	result = i.terminal(span, started, result)
	i.logger.Debug("model invoked",
		"model_id", modelID,
		"status", string(result.Status),
		"attempts", result.Attempts,
		"elapsed_ms", result.ElapsedMS,
	)
	return result
}

func (i *Invoker) callWithRetries(ctx context.Context, meta domain.ModelMetadata, body []byte) Result {
	for attempt := 0; ; attempt++ {
		attemptStart := time.Now()
		output, callErr := i.call(ctx, meta, body)
		attemptMS := int(time.Since(attemptStart).Milliseconds())

		if callErr == nil {
			i.dir.RecordOutcome(ctx, meta.ID, domain.StatusOnline, attemptMS)
			return Result{Status: domain.InvocationSuccess, Output: output, Attempts: attempt + 1}
		}

		if !callErr.Retryable() || !i.retry.AllowRetry(attempt) {
			return Result{Status: statusFor(callErr), Err: callErr, Output: output, Attempts: attempt + 1}
		}

		i.logger.Warn("model call failed, retrying",
			"model_id", meta.ID,
			"attempt", attempt+1,
			"error", callErr.Error(),
		)
		if waitErr := i.retry.Wait(ctx, attempt); waitErr != nil {
			return Result{Status: statusFor(callErr), Err: callErr, Attempts: attempt + 1}
		}
	}
}

// call performs one attempt and classifies the outcome.
func (i *Invoker) call(ctx context.Context, meta domain.ModelMetadata, body []byte) (domain.Value, *domain.Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, meta.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Null(), domain.ValidationError("$", fmt.Sprintf("endpoint %q is not a valid URL", meta.Endpoint))
	}
	req.Header.Set("Content-Type", "application/json")
	if meta.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+meta.Credential)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return domain.Null(), domain.TimeoutError(fmt.Sprintf("call to %q exceeded %s", meta.ID, i.callTimeout))
		}
		return domain.Null(), domain.TimeoutError(fmt.Sprintf("call to %q failed: %v", meta.ID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return domain.Null(), domain.UpstreamFailure(resp.StatusCode, string(bytes.TrimSpace(snippet)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Null(), domain.TimeoutError(fmt.Sprintf("reading response from %q: %v", meta.ID, err))
	}

	var output domain.Value
	if err := json.Unmarshal(raw, &output); err != nil {
		return domain.Null(), domain.ValidationError("$", "response body is not valid JSON")
	}
	// The parsed body travels with the violation so the invocation record
	// keeps the payload and its usage stays billable.
	if verr := schema.Validate(output, meta.OutputSchema); verr != nil {
		verr.Detail = "output schema violation: " + verr.Detail
		return output, verr
	}
	return output, nil
}

func (i *Invoker) terminal(span trace.Span, started time.Time, r Result) Result {
	r.ElapsedMS = time.Since(started).Milliseconds()
	span.SetAttributes(
		attribute.String("invoke.status", string(r.Status)),
		attribute.Int("invoke.attempts", r.Attempts),
	)
	if r.Err != nil {
		span.SetStatus(codes.Error, r.Err.Error())
	}
	return r
}

func statusFor(err *domain.Error) domain.InvocationStatus {
	if err.Kind == domain.KindTimeout {
		return domain.InvocationTimeout
	}
	return domain.InvocationError
}
