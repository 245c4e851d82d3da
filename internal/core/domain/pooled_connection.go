package domain

import (
	"net"
	"time"
)

// PooledConnection wraps a transport connection owned by exactly one
// adapter/pool bucket at a time (spec.md §3). Ownership moves pool -> active
// request -> pool (clean release) or is destroyed (error/TTL).
type PooledConnection struct {
	Conn       net.Conn
	CreatedAt  time.Time
	LastUsedAt time.Time
	ID         string
	RemoteAddr string
	InUse      bool
}

// Expired reports whether this connection has outlived maxLifetime since
// creation or idleTimeout since last use - it must never be handed back
// from Acquire (spec.md §4.C5 invariant c).
func (p *PooledConnection) Expired(now time.Time, maxLifetime, idleTimeout time.Duration) bool {
	if maxLifetime > 0 && now.Sub(p.CreatedAt) > maxLifetime {
		return true
	}
	if idleTimeout > 0 && now.Sub(p.LastUsedAt) > idleTimeout {
		return true
	}
	return false
}

// ConnectionDisposition tells Release whether a connection may be reused.
type ConnectionDisposition int

const (
	Reusable ConnectionDisposition = iota
	Discard
)
