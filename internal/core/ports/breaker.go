package ports

import (
	"context"

	"github.com/gantry-proxy/gantry/internal/core/domain"
)

// CircuitBreaker guards one upstream target key (host:port or endpoint
// name) against repeated failing calls. Execute runs fn only when the
// breaker is CLOSED or has admitted a single HALF_OPEN probe; otherwise it
// returns ErrBreakerOpen without calling fn.
type CircuitBreaker interface {
	Execute(ctx context.Context, targetKey string, fn func(ctx context.Context) error) error
	State(targetKey string) domain.CircuitBreakerStateKind
	Snapshot(targetKey string) (domain.CircuitBreakerState, bool)
	Reset(targetKey string)
}

// ErrBreakerOpen is returned by CircuitBreaker.Execute when the breaker for
// a target is OPEN and has not yet reached its reset timeout.
type ErrBreakerOpen struct {
	TargetKey string
}

func (e *ErrBreakerOpen) Error() string {
	return "circuit breaker open for " + e.TargetKey
}
