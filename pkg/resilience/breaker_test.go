package resilience

import (
	"testing"
	"time"

	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	breaker := NewBreaker("dep", 3, time.Minute)

	breaker.RecordFailure()
	breaker.RecordFailure()
	if breaker.State() != BreakerClosed {
		t.Fatalf("expected closed below threshold, got %s", breaker.State())
	}

	breaker.RecordFailure()
	if breaker.State() != BreakerOpen {
		t.Fatalf("expected open at threshold, got %s", breaker.State())
	}

	err := breaker.Allow()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeCircuitOpen {
		t.Fatalf("expected circuit open error, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	breaker := NewBreaker("dep", 2, time.Minute)

	breaker.RecordFailure()
	breaker.RecordSuccess()
	breaker.RecordFailure()
	if breaker.State() != BreakerClosed {
		t.Fatalf("expected closed after interleaved success, got %s", breaker.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	breaker := NewBreaker("dep", 1, time.Minute)
	current := time.Now()
	breaker.now = func() time.Time { return current }

	breaker.RecordFailure()
	if breaker.State() != BreakerOpen {
		t.Fatalf("expected open breaker, got %s", breaker.State())
	}

	current = current.Add(90 * time.Second)

	if err := breaker.Allow(); err != nil {
		t.Fatalf("expected probe admitted after cooldown, got %v", err)
	}
	if breaker.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open during probe, got %s", breaker.State())
	}

	// Only one probe at a time.
	if err := breaker.Allow(); err == nil {
		t.Fatal("expected concurrent probe rejected")
	}

	breaker.RecordSuccess()
	if breaker.State() != BreakerClosed {
		t.Fatalf("expected closed after successful probe, got %s", breaker.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	breaker := NewBreaker("dep", 1, time.Minute)
	current := time.Now()
	breaker.now = func() time.Time { return current }

	breaker.RecordFailure()
	current = current.Add(2 * time.Minute)
	if err := breaker.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}

	breaker.RecordFailure()
	if breaker.State() != BreakerOpen {
		t.Fatalf("expected reopened breaker, got %s", breaker.State())
	}

	// Cooldown restarts from the failed probe.
	current = current.Add(30 * time.Second)
	if err := breaker.Allow(); err == nil {
		t.Fatal("expected calls rejected during restarted cooldown")
	}
}

func TestBreakerStateGaugeValues(t *testing.T) {
	if got := BreakerClosed.GaugeValue(); got != 0 {
		t.Fatalf("closed gauge = %v", got)
	}
	if got := BreakerHalfOpen.GaugeValue(); got != 1 {
		t.Fatalf("half-open gauge = %v", got)
	}
	if got := BreakerOpen.GaugeValue(); got != 2 {
		t.Fatalf("open gauge = %v", got)
	}
}
