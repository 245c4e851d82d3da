package ports

import (
	"context"
	"net"

	"github.com/gantry-proxy/gantry/internal/core/domain"
)

// ConnectionPool hands out reusable net.Conn-backed PooledConnection
// values keyed by a dial target (scheme+host+port), bounded per target and
// globally (spec.md §4.C5). Acquire may dial a new connection when the
// bucket is below its max and no idle connection is available; it blocks
// (subject to ctx) when the global cap is saturated.
type ConnectionPool interface {
	Acquire(ctx context.Context, network, address string) (*domain.PooledConnection, error)
	Release(conn *domain.PooledConnection, disposition domain.ConnectionDisposition)
	Stats() PoolStats
	Close() error
}

// PoolStats is a point-in-time view across all buckets.
type PoolStats struct {
	TotalIdle     int
	TotalInUse    int
	TotalDialed   int64
	TotalEvicted  int64
	TotalRejected int64
}

// Dialer is the narrow subset of net.Dialer the pool needs, so tests can
// substitute an in-memory dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}
