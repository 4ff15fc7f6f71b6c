package governance

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("closed breaker rejected call: %v", err)
		}
		cb.RecordFailure()
	}
	if cb.State() != StateClosed {
		t.Fatalf("breaker opened below threshold")
	}

	if err := cb.Allow(); err != nil {
		t.Fatalf("closed breaker rejected call: %v", err)
	}
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("expected open after %d failures, got %s", 3, cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker must reject calls, got %v", err)
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Second, HalfOpenProbes: 1})
	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	current = current.Add(11 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", cb.State())
	}

	// Only one probe may run.
	if err := cb.Allow(); err != nil {
		t.Fatalf("half-open breaker must allow a probe: %v", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second concurrent probe must be rejected, got %v", err)
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("successful probe must close the breaker, got %s", cb.State())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Second})
	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordFailure()
	current = current.Add(11 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("failed probe must reopen the breaker, got %s", cb.State())
	}
}

func TestBreakerManagerIsKeyedPerModel(t *testing.T) {
	manager := NewBreakerManager(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Minute})

	manager.Get("model-a").RecordFailure()

	if manager.Get("model-a").State() != StateOpen {
		t.Fatalf("expected model-a breaker open")
	}
	if manager.Get("model-b").State() != StateClosed {
		t.Fatalf("model-b breaker must be unaffected")
	}
	if manager.Get("model-a") != manager.Get("model-a") {
		t.Fatalf("manager must return a stable breaker per key")
	}
}
