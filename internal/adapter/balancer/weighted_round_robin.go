package balancer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
)

// WeightedRoundRobinSelector implements smooth weighted round robin: each
// endpoint's domain.Endpoint.Priority is treated as its weight, and the
// selection order distributes picks proportionally so no endpoint is
// starved between the two extremes of a plain priority sort (Nginx's
// smooth WRR algorithm).
type WeightedRoundRobinSelector struct {
	statsCollector ports.StatsCollector
	current        map[string]int
	mu             sync.Mutex
}

func NewWeightedRoundRobinSelector(statsCollector ports.StatsCollector) *WeightedRoundRobinSelector {
	return &WeightedRoundRobinSelector{
		statsCollector: statsCollector,
		current:        make(map[string]int),
	}
}

func (w *WeightedRoundRobinSelector) Name() string {
	return DefaultBalancerWeightedRoundRobin
}

func (w *WeightedRoundRobinSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
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

	w.mu.Lock()
	defer w.mu.Unlock()

	totalWeight := 0
	var best *domain.Endpoint
	bestCurrent := 0

	for _, endpoint := range routable {
		key := endpoint.URL.String()
		weight := effectiveWeight(endpoint)
		totalWeight += weight

		w.current[key] += weight
		if best == nil || w.current[key] > bestCurrent {
			best = endpoint
			bestCurrent = w.current[key]
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no routable endpoints available")
	}

	w.current[best.URL.String()] -= totalWeight
	return best, nil
}

// effectiveWeight maps a non-positive or zero Priority to 1 so a
// misconfigured endpoint still participates rather than being starved out
// of the rotation entirely.
func effectiveWeight(endpoint *domain.Endpoint) int {
	if endpoint.Priority <= 0 {
		return 1
	}
	return endpoint.Priority
}

func (w *WeightedRoundRobinSelector) IncrementConnections(endpoint *domain.Endpoint) {
	if w.statsCollector != nil {
		w.statsCollector.RecordConnection(endpoint, 1)
	}
}

func (w *WeightedRoundRobinSelector) DecrementConnections(endpoint *domain.Endpoint) {
	if w.statsCollector != nil {
		w.statsCollector.RecordConnection(endpoint, -1)
	}
}
