// Package pool implements the bounded per-target connection pool (spec.md
// §4.C5): idle connections are bucketed by dial target, capped per bucket
// and globally, and swept on a timer for TTL/idle eviction.
package pool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("connection pool closed")

type Config struct {
	MaxPerTarget  int
	MaxTotal      int
	MaxIdleTime   time.Duration
	MaxLifetime   time.Duration
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPerTarget:  32,
		MaxTotal:      512,
		MaxIdleTime:   90 * time.Second,
		MaxLifetime:   10 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

type bucket struct {
	mu    sync.Mutex
	idle  []*domain.PooledConnection
	inUse int

	// sem caps concurrently-checked-out connections to this target at
	// MaxPerTarget. Acquire blocks on it - rather than failing fast -
	// until a slot frees up or ctx's deadline expires; x/sync/semaphore
	// wakes blocked callers in FIFO order, giving the bucket a waiter
	// queue without hand-rolling one.
	sem *semaphore.Weighted
}

// Pool implements ports.ConnectionPool over a real net.Dialer, bucketed by
// dial address.
type Pool struct {
	cfg     Config
	dialer  ports.Dialer
	global  *semaphore.Weighted
	mu      sync.Mutex
	buckets map[string]*bucket

	stopSweep chan struct{}
	sweepOnce sync.Once
	sweepGrp  *errgroup.Group

	dialed   int64
	evicted  int64
	rejected int64
	statsMu  sync.Mutex
}

func New(cfg Config, dialer ports.Dialer) *Pool {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	p := &Pool{
		cfg:       cfg,
		dialer:    dialer,
		global:    semaphore.NewWeighted(int64(cfg.MaxTotal)),
		buckets:   make(map[string]*bucket),
		stopSweep: make(chan struct{}),
	}
	p.sweepGrp = &errgroup.Group{}
	p.sweepGrp.Go(func() error {
		p.sweepLoop()
		return nil
	})
	return p
}

// bucketKey is the address alone: every dial target this pool serves is a
// TCP host:port (the proxy's upstream connections), so network never
// varies in practice and keying on it too would only risk Acquire/Release
// disagreeing on which bucket a connection belongs to.
func bucketKey(address string) string {
	return address
}

func (p *Pool) bucketFor(key string) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{sem: semaphore.NewWeighted(int64(p.cfg.MaxPerTarget))}
		p.buckets[key] = b
	}
	return b
}

// Acquire returns an idle connection for (network, address) if one is
// available and not expired, otherwise dials a new one subject to the
// per-target and global caps. If the target bucket is already at
// MaxPerTarget in-use connections, Acquire blocks - queued in FIFO order
// behind any earlier waiters on the same bucket - until a slot frees up
// via Release or ctx's deadline expires, whichever comes first. It also
// blocks on the global semaphore until ctx is done if the pool is
// globally saturated.
func (p *Pool) Acquire(ctx context.Context, network, address string) (*domain.PooledConnection, error) {
	key := bucketKey(address)
	b := p.bucketFor(key)

	if err := b.sem.Acquire(ctx, 1); err != nil {
		p.incrRejected()
		return nil, err
	}

	now := time.Now()

	b.mu.Lock()
	for len(b.idle) > 0 {
		conn := b.idle[len(b.idle)-1]
		b.idle = b.idle[:len(b.idle)-1]
		if conn.Expired(now, p.cfg.MaxLifetime, p.cfg.MaxIdleTime) {
			_ = conn.Conn.Close()
			p.global.Release(1)
			p.incrEvicted()
			continue
		}
		conn.InUse = true
		b.inUse++
		b.mu.Unlock()
		return conn, nil
	}
	b.mu.Unlock()

	if err := p.global.Acquire(ctx, 1); err != nil {
		b.sem.Release(1)
		return nil, err
	}

	rawConn, err := p.dialer.DialContext(ctx, network, address)
	if err != nil {
		p.global.Release(1)
		b.sem.Release(1)
		return nil, err
	}

	conn := &domain.PooledConnection{
		Conn:       rawConn,
		CreatedAt:  now,
		LastUsedAt: now,
		ID:         newConnID(),
		RemoteAddr: address,
		InUse:      true,
	}

	b.mu.Lock()
	b.inUse++
	b.mu.Unlock()

	p.incrDialed()
	return conn, nil
}

// Release returns conn to its bucket's idle list, or discards it (closing
// the underlying net.Conn and freeing its global-cap slot) when the caller
// marks it non-reusable or it has already expired.
func (p *Pool) Release(conn *domain.PooledConnection, disposition domain.ConnectionDisposition) {
	key := bucketKey(conn.RemoteAddr)
	p.mu.Lock()
	b, ok := p.buckets[key]
	p.mu.Unlock()
	if !ok {
		_ = conn.Conn.Close()
		p.global.Release(1)
		return
	}

	conn.LastUsedAt = time.Now()
	conn.InUse = false

	b.mu.Lock()
	b.inUse--
	if disposition == domain.Reusable && !conn.Expired(conn.LastUsedAt, p.cfg.MaxLifetime, p.cfg.MaxIdleTime) {
		b.idle = append(b.idle, conn)
		b.mu.Unlock()
		b.sem.Release(1)
		return
	}
	b.mu.Unlock()

	_ = conn.Conn.Close()
	p.global.Release(1)
	p.incrEvicted()
	b.sem.Release(1)
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopSweep:
			return
		}
	}
}

func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		kept := b.idle[:0]
		for _, conn := range b.idle {
			if conn.Expired(now, p.cfg.MaxLifetime, p.cfg.MaxIdleTime) {
				_ = conn.Conn.Close()
				p.global.Release(1)
				p.incrEvicted()
				continue
			}
			kept = append(kept, conn)
		}
		b.idle = kept
		b.mu.Unlock()
	}
}

func (p *Pool) Stats() ports.PoolStats {
	var idle, inUse int

	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		idle += len(b.idle)
		inUse += b.inUse
		b.mu.Unlock()
	}

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return ports.PoolStats{
		TotalIdle:     idle,
		TotalInUse:    inUse,
		TotalDialed:   p.dialed,
		TotalEvicted:  p.evicted,
		TotalRejected: p.rejected,
	}
}

func (p *Pool) Close() error {
	p.sweepOnce.Do(func() { close(p.stopSweep) })
	_ = p.sweepGrp.Wait()

	p.mu.Lock()
	buckets := p.buckets
	p.buckets = make(map[string]*bucket)
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		for _, conn := range b.idle {
			_ = conn.Conn.Close()
		}
		b.idle = nil
		b.mu.Unlock()
	}
	return nil
}

func (p *Pool) incrDialed() {
	p.statsMu.Lock()
	p.dialed++
	p.statsMu.Unlock()
}

func (p *Pool) incrEvicted() {
	p.statsMu.Lock()
	p.evicted++
	p.statsMu.Unlock()
}

func (p *Pool) incrRejected() {
	p.statsMu.Lock()
	p.rejected++
	p.statsMu.Unlock()
}

func newConnID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
