package balancer

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
)

// RandomSelector picks uniformly at random among routable endpoints. Useful
// as a cheap baseline and for clients that don't care about affinity or
// fairness guarantees.
type RandomSelector struct {
	statsCollector ports.StatsCollector
}

func NewRandomSelector(statsCollector ports.StatsCollector) *RandomSelector {
	return &RandomSelector{statsCollector: statsCollector}
}

func (r *RandomSelector) Name() string {
	return DefaultBalancerRandom
}

func (r *RandomSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
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

	return routable[rand.Intn(len(routable))], nil
}

func (r *RandomSelector) IncrementConnections(endpoint *domain.Endpoint) {
	if r.statsCollector != nil {
		r.statsCollector.RecordConnection(endpoint, 1)
	}
}

func (r *RandomSelector) DecrementConnections(endpoint *domain.Endpoint) {
	if r.statsCollector != nil {
		r.statsCollector.RecordConnection(endpoint, -1)
	}
}
