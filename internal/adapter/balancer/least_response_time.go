package balancer

import (
	"context"
	"fmt"
	"time"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
)

// LeastResponseTimeSelector favours the endpoint with the lowest observed
// average response time, falling back to round-robin order for endpoints
// that have never served a request (so a fresh endpoint gets a chance to
// build up a latency sample instead of sitting idle forever).
type LeastResponseTimeSelector struct {
	statsCollector ports.StatsCollector
	stats          *domain.LoadBalancerStatsRegistry
	rr             *RoundRobinSelector
}

func NewLeastResponseTimeSelector(statsCollector ports.StatsCollector) *LeastResponseTimeSelector {
	return &LeastResponseTimeSelector{
		statsCollector: statsCollector,
		stats:          domain.NewLoadBalancerStatsRegistry(),
		rr:             NewRoundRobinSelector(statsCollector),
	}
}

func (l *LeastResponseTimeSelector) Name() string {
	return DefaultBalancerLeastResponseTime
}

func (l *LeastResponseTimeSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
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

	var best *domain.Endpoint
	var untested []*domain.Endpoint
	bestAvg := -1.0

	for _, endpoint := range routable {
		snap := l.stats.Get(endpoint.URL.String()).Snapshot()
		if snap.SuccessfulRequests == 0 {
			untested = append(untested, endpoint)
			continue
		}
		if bestAvg < 0 || snap.AverageResponseTime < bestAvg {
			bestAvg = snap.AverageResponseTime
			best = endpoint
		}
	}

	// Give untested endpoints priority so every endpoint builds a latency
	// sample before this strategy starts favouring one permanently.
	if len(untested) > 0 {
		return l.rr.Select(ctx, untested)
	}
	if best == nil {
		return nil, fmt.Errorf("no routable endpoints available")
	}
	return best, nil
}

// RecordLatency feeds one completed request's round-trip time back into the
// per-endpoint running average this strategy selects on.
func (l *LeastResponseTimeSelector) RecordLatency(endpoint *domain.Endpoint, latency time.Duration) {
	l.stats.Get(endpoint.URL.String()).RecordSuccess(float64(latency.Milliseconds()), time.Now())
}

func (l *LeastResponseTimeSelector) IncrementConnections(endpoint *domain.Endpoint) {
	if l.statsCollector != nil {
		l.statsCollector.RecordConnection(endpoint, 1)
	}
}

func (l *LeastResponseTimeSelector) DecrementConnections(endpoint *domain.Endpoint) {
	if l.statsCollector != nil {
		l.statsCollector.RecordConnection(endpoint, -1)
	}
}
