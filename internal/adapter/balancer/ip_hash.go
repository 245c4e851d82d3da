package balancer

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
)

// IPHashSelector maps a stable client key (spec.md: client IP) onto the
// routable endpoint set, so the same client keeps landing on the same
// endpoint as long as the set doesn't change - useful for backends that
// keep client-affine state in memory. The mapping is not sticky across
// endpoint-set changes: any addition/removal reshuffles assignments for a
// fraction of clients, same as every modulo-hash balancer.
type IPHashSelector struct {
	statsCollector ports.StatsCollector
}

func NewIPHashSelector(statsCollector ports.StatsCollector) *IPHashSelector {
	return &IPHashSelector{statsCollector: statsCollector}
}

func (h *IPHashSelector) Name() string {
	return DefaultBalancerIPHash
}

func (h *IPHashSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}

	routable := make([]*domain.Endpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.Status.IsRoutable() {
			routable = append(routable, endpoint)
		}
	}
	if len(routable) == 0 {
		return nil, fmt.Errorf("no routable endpoints available")
	}

	key := domain.ClientKeyFromContext(ctx)
	if key == "" {
		return routable[0], nil
	}

	h32 := fnv.New32a()
	_, _ = h32.Write([]byte(key))
	index := int(h32.Sum32()) % len(routable)
	if index < 0 {
		index += len(routable)
	}

	return routable[index], nil
}

func (h *IPHashSelector) IncrementConnections(endpoint *domain.Endpoint) {
	if h.statsCollector != nil {
		h.statsCollector.RecordConnection(endpoint, 1)
	}
}

func (h *IPHashSelector) DecrementConnections(endpoint *domain.Endpoint) {
	if h.statsCollector != nil {
		h.statsCollector.RecordConnection(endpoint, -1)
	}
}
