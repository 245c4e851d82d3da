// Package breaker implements the three-state circuit breaker that guards
// proxied upstream calls, keyed per target (host:port). It is deliberately
// separate from adapter/health's breaker, which protects only the health
// probe's own HTTP client.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/puzpuzpuz/xsync/v4"
)

// Config controls trip/reset behaviour, one instance shared by every
// target key a Breaker tracks.
type Config struct {
	FailureThreshold int           // consecutive failures to trip CLOSED -> OPEN
	SuccessThreshold int           // consecutive successes to close HALF_OPEN -> CLOSED
	ResetTimeout     time.Duration // how long OPEN lasts before admitting a probe
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

type targetState struct {
	mu                   sync.Mutex
	state                domain.CircuitBreakerStateKind
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	halfOpenProbeInFlight bool
}

// Breaker implements ports.CircuitBreaker.
type Breaker struct {
	cfg     Config
	targets *xsync.Map[string, *targetState]
}

func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:     cfg,
		targets: xsync.NewMap[string, *targetState](),
	}
}

func (b *Breaker) stateFor(targetKey string) *targetState {
	state, _ := b.targets.LoadOrStore(targetKey, &targetState{state: domain.BreakerClosed})
	return state
}

// Execute runs fn if the breaker for targetKey is CLOSED, or if it is
// HALF_OPEN and this call is the single probe admitted. Returns
// ports.ErrBreakerOpen without calling fn otherwise.
func (b *Breaker) Execute(ctx context.Context, targetKey string, fn func(ctx context.Context) error) error {
	ts := b.stateFor(targetKey)

	admitted, isProbe := b.admit(ts)
	if !admitted {
		return &ports.ErrBreakerOpen{TargetKey: targetKey}
	}

	err := fn(ctx)

	ts.mu.Lock()
	if isProbe {
		ts.halfOpenProbeInFlight = false
	}
	if err == nil {
		b.recordSuccessLocked(ts)
	} else {
		b.recordFailureLocked(ts)
	}
	ts.mu.Unlock()

	return err
}

// admit decides whether this call may proceed, and whether it is acting as
// the exclusive HALF_OPEN probe.
func (b *Breaker) admit(ts *targetState) (admitted, isProbe bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	switch ts.state {
	case domain.BreakerClosed:
		return true, false

	case domain.BreakerOpen:
		if time.Since(ts.openedAt) < b.cfg.ResetTimeout {
			return false, false
		}
		ts.state = domain.BreakerHalfOpen
		ts.consecutiveSuccesses = 0
		ts.halfOpenProbeInFlight = true
		return true, true

	case domain.BreakerHalfOpen:
		if ts.halfOpenProbeInFlight {
			return false, false
		}
		ts.halfOpenProbeInFlight = true
		return true, true

	default:
		return false, false
	}
}

func (b *Breaker) recordSuccessLocked(ts *targetState) {
	ts.consecutiveFailures = 0

	switch ts.state {
	case domain.BreakerHalfOpen:
		ts.consecutiveSuccesses++
		if ts.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			ts.state = domain.BreakerClosed
			ts.consecutiveSuccesses = 0
		}
	case domain.BreakerOpen:
		ts.state = domain.BreakerClosed
	}
}

func (b *Breaker) recordFailureLocked(ts *targetState) {
	ts.consecutiveSuccesses = 0

	switch ts.state {
	case domain.BreakerHalfOpen:
		ts.state = domain.BreakerOpen
		ts.openedAt = time.Now()
		ts.consecutiveFailures = 0

	case domain.BreakerClosed:
		ts.consecutiveFailures++
		if ts.consecutiveFailures >= b.cfg.FailureThreshold {
			ts.state = domain.BreakerOpen
			ts.openedAt = time.Now()
			ts.consecutiveFailures = 0
		}
	}
}

func (b *Breaker) State(targetKey string) domain.CircuitBreakerStateKind {
	ts := b.stateFor(targetKey)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state
}

func (b *Breaker) Snapshot(targetKey string) (domain.CircuitBreakerState, bool) {
	value, ok := b.targets.Load(targetKey)
	if !ok {
		return domain.CircuitBreakerState{}, false
	}

	value.mu.Lock()
	defer value.mu.Unlock()

	return domain.CircuitBreakerState{
		State:                value.state,
		ConsecutiveFailures:  value.consecutiveFailures,
		ConsecutiveSuccesses: value.consecutiveSuccesses,
		OpenedAt:             value.openedAt,
		FailureThreshold:     b.cfg.FailureThreshold,
		SuccessThreshold:     b.cfg.SuccessThreshold,
		ResetTimeout:         b.cfg.ResetTimeout,
	}, true
}

func (b *Breaker) Reset(targetKey string) {
	ts := b.stateFor(targetKey)
	ts.mu.Lock()
	ts.state = domain.BreakerClosed
	ts.consecutiveFailures = 0
	ts.consecutiveSuccesses = 0
	ts.halfOpenProbeInFlight = false
	ts.mu.Unlock()
}
