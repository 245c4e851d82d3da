package domain

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// LoadBalancerStats is the per-server counter set spec.md §3 requires,
// shared across strategies that want it (least-response-time, the status
// endpoint) via LoadBalancerStatsRegistry. Strategies that only need a
// narrower slice of this (e.g. least-connections' raw counter) may keep
// their own lighter-weight map, as the teacher's selectors already do.
type LoadBalancerStats struct {
	mu                  sync.Mutex
	LastUsedAt          time.Time
	ActiveConnections   int64
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	AverageResponseTime float64 // milliseconds, cumulative mean of successes
}

func (s *LoadBalancerStats) IncrementActive() {
	s.mu.Lock()
	s.ActiveConnections++
	s.mu.Unlock()
}

func (s *LoadBalancerStats) DecrementActive() {
	s.mu.Lock()
	if s.ActiveConnections > 0 {
		s.ActiveConnections--
	}
	s.mu.Unlock()
}

func (s *LoadBalancerStats) RecordSuccess(rttMillis float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalRequests++
	s.SuccessfulRequests++
	s.LastUsedAt = now

	n := float64(s.SuccessfulRequests)
	s.AverageResponseTime = (s.AverageResponseTime*(n-1) + rttMillis) / n
}

func (s *LoadBalancerStats) RecordFailure(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalRequests++
	s.FailedRequests++
	s.LastUsedAt = now
}

// Snapshot returns a value copy safe to read without the lock.
func (s *LoadBalancerStats) Snapshot() LoadBalancerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LoadBalancerStats{
		ActiveConnections:   s.ActiveConnections,
		TotalRequests:       s.TotalRequests,
		SuccessfulRequests:  s.SuccessfulRequests,
		FailedRequests:      s.FailedRequests,
		AverageResponseTime: s.AverageResponseTime,
		LastUsedAt:          s.LastUsedAt,
	}
}

// LoadBalancerStatsRegistry keys LoadBalancerStats by server URL string,
// shared by the least-response-time and least-connections strategies and by
// the status endpoint.
type LoadBalancerStatsRegistry struct {
	byServer *xsync.Map[string, *LoadBalancerStats]
}

func NewLoadBalancerStatsRegistry() *LoadBalancerStatsRegistry {
	return &LoadBalancerStatsRegistry{byServer: xsync.NewMap[string, *LoadBalancerStats]()}
}

func (r *LoadBalancerStatsRegistry) Get(serverKey string) *LoadBalancerStats {
	stats, _ := r.byServer.LoadOrStore(serverKey, &LoadBalancerStats{})
	return stats
}

func (r *LoadBalancerStatsRegistry) Snapshot() map[string]LoadBalancerStats {
	out := make(map[string]LoadBalancerStats)
	r.byServer.Range(func(key string, stats *LoadBalancerStats) bool {
		out[key] = stats.Snapshot()
		return true
	})
	return out
}
