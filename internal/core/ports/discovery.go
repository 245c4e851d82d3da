package ports

import (
	"context"
	"github.com/gantry-proxy/gantry/internal/core/domain"
)

// DiscoveryService defines the interface for service discovery
type DiscoveryService interface {
	// GetEndpoints returns all registered endpoints
	GetEndpoints(ctx context.Context) ([]*domain.Endpoint, error)

	// GetHealthyEndpoints returns only healthy endpoints
	GetHealthyEndpoints(ctx context.Context) ([]*domain.Endpoint, error)

	// RefreshEndpoints triggers a refresh of the endpoint list from the discovery source
	RefreshEndpoints(ctx context.Context) error

	// Start starts the discovery service
	Start(ctx context.Context) error

	// Stop stops the discovery service
	Stop(ctx context.Context) error

	// UpdateEndpointStatus persists a health/status change for endpoint,
	// used by retry/failover logic to mark an endpoint unhealthy after a
	// connection failure.
	UpdateEndpointStatus(ctx context.Context, endpoint *domain.Endpoint) error
}
