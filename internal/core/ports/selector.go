package ports

import "github.com/gantry-proxy/gantry/internal/core/domain"

// SelectorFactory builds the configured domain.EndpointSelector by strategy
// name ("round-robin", "weighted-round-robin", "least-connections",
// "least-response-time", "ip-hash", "random", "priority").
type SelectorFactory interface {
	Create(strategy string) (domain.EndpointSelector, error)
}
