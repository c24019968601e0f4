package resilience

import (
	"sync"
	"time"

	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

// BreakerState is the circuit breaker position for one dependency.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// GaugeValue maps the state onto the metric gauge scale.
func (s BreakerState) GaugeValue() float64 {
	switch s {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return 0
	}
}

// Breaker is a per-dependency circuit breaker. Consecutive failures at or
// above the threshold open the circuit for the cooldown window; after cooldown
// a single probe call is allowed, and its outcome decides between closing and
// reopening.
type Breaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	cooldown  time.Duration

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker builds a closed breaker for the named dependency.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While open it fails fast; after
// the cooldown it admits exactly one probe at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return pkgerrors.New(pkgerrors.CodeCircuitOpen, b.name+" circuit open")
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return pkgerrors.New(pkgerrors.CodeCircuitOpen, b.name+" circuit probing")
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failure; at the threshold, or on a failed probe, the
// circuit opens and the cooldown restarts.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = BreakerOpen
	b.failures = b.threshold
	b.openedAt = b.now()
	b.probing = false
}

// State returns the current breaker position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
