package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

func newTestCaller(t *testing.T, policy Policy, breaker *Breaker) (*Caller, *[]time.Duration) {
	t.Helper()
	delays := &[]time.Duration{}
	caller, err := NewCaller(CallerParams{
		Name:    "test_dependency",
		Policy:  policy,
		Breaker: breaker,
		Sleep: func(ctx context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}
	return caller, delays
}

func TestCallerRetriesTransientFailures(t *testing.T) {
	caller, delays := newTestCaller(t, DefaultPolicy(), nil)

	calls := 0
	err := caller.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return pkgerrors.New(pkgerrors.CodeDependency, "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("expected 2 retry delays, got %d", len(*delays))
	}

	// 100 ms and 200 ms base delays with 25% jitter.
	assertDelayWithin(t, (*delays)[0], 75*time.Millisecond, 125*time.Millisecond)
	assertDelayWithin(t, (*delays)[1], 150*time.Millisecond, 250*time.Millisecond)
}

func TestCallerDoesNotRetryTerminalErrors(t *testing.T) {
	caller, delays := newTestCaller(t, DefaultPolicy(), nil)

	calls := 0
	terminal := pkgerrors.New(pkgerrors.CodeValidation, "bad address")
	err := caller.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected no retry delays, got %d", len(*delays))
	}
}

func TestCallerExhaustsRetryBudget(t *testing.T) {
	caller, delays := newTestCaller(t, DefaultPolicy(), nil)

	calls := 0
	err := caller.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return pkgerrors.New(pkgerrors.CodeDependency, "still down")
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("expected 2 retry delays before exhaustion, got %d", len(*delays))
	}
}

func TestCallerTreatsUntypedErrorsAsTransient(t *testing.T) {
	caller, _ := newTestCaller(t, DefaultPolicy(), nil)

	calls := 0
	err := caller.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry after untyped error, got %d attempts", calls)
	}
}

func TestCallerFailsFastWhenCircuitOpen(t *testing.T) {
	breaker := NewBreaker("test_dependency", 1, time.Hour)
	caller, _ := newTestCaller(t, DefaultPolicy(), breaker)

	terminal := pkgerrors.New(pkgerrors.CodeValidation, "rejected")
	err := caller.Do(context.Background(), "op", func(ctx context.Context) error {
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if caller.BreakerState() != BreakerOpen {
		t.Fatalf("expected open breaker, got %s", caller.BreakerState())
	}

	calls := 0
	err = caller.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeCircuitOpen {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no attempts while open, got %d", calls)
	}
}

func TestCallerClosesCircuitAfterSuccessfulProbe(t *testing.T) {
	breaker := NewBreaker("test_dependency", 1, time.Minute)
	current := time.Now()
	breaker.now = func() time.Time { return current }
	caller, _ := newTestCaller(t, DefaultPolicy(), breaker)

	_ = caller.Do(context.Background(), "op", func(ctx context.Context) error {
		return pkgerrors.New(pkgerrors.CodeValidation, "rejected")
	})
	if caller.BreakerState() != BreakerOpen {
		t.Fatalf("expected open breaker, got %s", caller.BreakerState())
	}

	current = current.Add(2 * time.Minute)

	err := caller.Do(context.Background(), "op", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if caller.BreakerState() != BreakerClosed {
		t.Fatalf("expected closed breaker after probe, got %s", caller.BreakerState())
	}
}

func TestCallerSurfacesSleepCancellation(t *testing.T) {
	caller, err := NewCaller(CallerParams{
		Name:   "test_dependency",
		Policy: DefaultPolicy(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		},
	})
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}

	calls := 0
	err = caller.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return pkgerrors.New(pkgerrors.CodeDependency, "down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func assertDelayWithin(t *testing.T, d, min, max time.Duration) {
	t.Helper()
	if d < min || d > max {
		t.Fatalf("delay %s outside [%s, %s]", d, min, max)
	}
}
