package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/appealpost/appealpost-backend/pkg/config"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
	defaultMultiplier  = 2.0
	defaultJitter      = 0.25
	defaultCallTimeout = 30 * time.Second
)

// Policy is the retry schedule applied to one outbound call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64
	CallTimeout time.Duration
}

// DefaultPolicy returns the standard dependency-call policy: 3 attempts at
// 100/200/400 ms with 25% jitter and a 30 s per-call timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		Multiplier:  defaultMultiplier,
		Jitter:      defaultJitter,
		CallTimeout: defaultCallTimeout,
	}
}

// PolicyFromConfig builds a Policy from configuration, falling back to
// defaults for unset values.
func PolicyFromConfig(cfg config.ResilienceConfig) Policy {
	policy := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.CallTimeout > 0 {
		policy.CallTimeout = cfg.CallTimeout
	}
	return policy
}

// Observer receives per-attempt and breaker-state telemetry.
type Observer interface {
	IncDependencyCall(dependency, result string)
	SetCircuitState(dependency string, state float64)
}

// CallerParams wires a Caller.
type CallerParams struct {
	Name     string
	Policy   Policy
	Breaker  *Breaker
	Logger   *logger.Logger
	Observer Observer

	// Sleep overrides the retry delay for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Caller wraps calls to one external dependency with retry, backoff with
// jitter, and a circuit breaker. Retries apply only to transient failures as
// classified by the error code metadata; terminal errors return immediately.
type Caller struct {
	name     string
	policy   Policy
	breaker  *Breaker
	logg     *logger.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewCaller builds the resilience wrapper for a named dependency.
func NewCaller(params CallerParams) (*Caller, error) {
	if params.Name == "" {
		return nil, errors.New("dependency name is required")
	}
	policy := params.Policy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = defaultMultiplier
	}
	if policy.Jitter < 0 || policy.Jitter >= 1 {
		policy.Jitter = defaultJitter
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = defaultCallTimeout
	}

	breaker := params.Breaker
	if breaker == nil {
		breaker = NewBreaker(params.Name, 5, 5*time.Minute)
	}

	sleep := params.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Caller{
		name:     params.Name,
		policy:   policy,
		breaker:  breaker,
		logg:     params.Logger,
		observer: params.Observer,
		sleep:    sleep,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Do runs fn under the retry policy and circuit breaker. A circuit-open
// failure returns immediately without a network attempt.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			c.observe("circuit_open")
			c.publishState()
			return err
		}

		err := c.invoke(ctx, fn)
		if err == nil {
			c.breaker.RecordSuccess()
			c.observe("success")
			c.publishState()
			return nil
		}

		c.breaker.RecordFailure()
		c.observe("failure")
		c.publishState()
		lastErr = err

		if !pkgerrors.Retryable(err) {
			return err
		}
		if attempt == c.policy.MaxAttempts {
			break
		}

		if c.logg != nil {
			logCtx := c.logg.WithFields(ctx, map[string]any{
				"dependency": c.name,
				"op":         op,
				"attempt":    attempt,
			})
			logCtx = c.logg.WithField(logCtx, "error", err.Error())
			c.logg.Warn(logCtx, "dependency call failed, retrying")
		}

		if sleepErr := c.sleep(ctx, c.delayFor(attempt)); sleepErr != nil {
			return sleepErr
		}
	}

	return pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, c.name+" retry budget exhausted")
}

func (c *Caller) invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.policy.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// delayFor computes base * multiplier^(attempt-1) with symmetric jitter.
func (c *Caller) delayFor(attempt int) time.Duration {
	delay := float64(c.policy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.policy.Multiplier
	}

	if c.policy.Jitter > 0 {
		c.randMu.Lock()
		factor := 1 + c.policy.Jitter*(2*c.rand.Float64()-1)
		c.randMu.Unlock()
		delay *= factor
	}

	return time.Duration(delay)
}

// BreakerState reports the wrapped breaker position.
func (c *Caller) BreakerState() BreakerState {
	return c.breaker.State()
}

func (c *Caller) observe(result string) {
	if c.observer != nil {
		c.observer.IncDependencyCall(c.name, result)
	}
}

func (c *Caller) publishState() {
	if c.observer != nil {
		c.observer.SetCircuitState(c.name, c.breaker.State().GaugeValue())
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
