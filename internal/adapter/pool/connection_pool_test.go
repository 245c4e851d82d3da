package pool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gantry-proxy/gantry/internal/core/domain"
)

type fakeConn struct {
	net.Conn
	closed int32
}

func (f *fakeConn) Close() error {
	atomic.StoreInt32(&f.closed, 1)
	return nil
}

type fakeDialer struct {
	dials int32
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	atomic.AddInt32(&d.dials, 1)
	return &fakeConn{}, nil
}

func TestPool_AcquireReleaseReuses(t *testing.T) {
	dialer := &fakeDialer{}
	p := New(Config{MaxPerTarget: 2, MaxTotal: 10, MaxIdleTime: time.Minute, MaxLifetime: time.Hour, SweepInterval: time.Hour}, dialer)
	defer p.Close()

	conn, err := p.Acquire(context.Background(), "tcp", "upstream:8080")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Release(conn, domain.Reusable)

	_, err = p.Acquire(context.Background(), "tcp", "upstream:8080")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if dialer.dials != 1 {
		t.Errorf("expected exactly 1 dial (second Acquire should reuse), got %d", dialer.dials)
	}
}

func TestPool_PerTargetLimitBlocksUntilDeadline(t *testing.T) {
	dialer := &fakeDialer{}
	p := New(Config{MaxPerTarget: 1, MaxTotal: 10, MaxIdleTime: time.Minute, MaxLifetime: time.Hour, SweepInterval: time.Hour}, dialer)
	defer p.Close()

	_, err := p.Acquire(context.Background(), "tcp", "upstream:8080")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	// the bucket is saturated: a second concurrent Acquire must block
	// rather than fail immediately, and return once its deadline expires.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Acquire(ctx, "tcp", "upstream:8080")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected saturated Acquire to fail once its deadline expires")
	}
	if elapsed < 15*time.Millisecond {
		t.Fatalf("expected Acquire to block close to the deadline, returned after %v", elapsed)
	}
}

func TestPool_PerTargetLimitUnblocksOnRelease(t *testing.T) {
	dialer := &fakeDialer{}
	p := New(Config{MaxPerTarget: 1, MaxTotal: 10, MaxIdleTime: time.Minute, MaxLifetime: time.Hour, SweepInterval: time.Hour}, dialer)
	defer p.Close()

	first, err := p.Acquire(context.Background(), "tcp", "upstream:8080")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	done := make(chan struct{})
	var second *domain.PooledConnection
	var secondErr error
	go func() {
		second, secondErr = p.Acquire(context.Background(), "tcp", "upstream:8080")
		close(done)
	}()

	// give the goroutine time to queue up behind the saturated bucket.
	time.Sleep(10 * time.Millisecond)
	p.Release(first, domain.Discard)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected queued Acquire to unblock after Release")
	}
	if secondErr != nil {
		t.Fatalf("queued Acquire failed: %v", secondErr)
	}
	if second == nil {
		t.Fatal("expected queued Acquire to return a connection")
	}
}

func TestPool_CapacityInvariant(t *testing.T) {
	dialer := &fakeDialer{}
	p := New(Config{MaxPerTarget: 3, MaxTotal: 10, MaxIdleTime: time.Minute, MaxLifetime: time.Hour, SweepInterval: time.Hour}, dialer)
	defer p.Close()

	var conns []*domain.PooledConnection
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background(), "tcp", "upstream:8080")
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		conns = append(conns, c)
	}

	stats := p.Stats()
	if stats.TotalIdle+stats.TotalInUse > 3 {
		t.Fatalf("capacity invariant violated: idle=%d inUse=%d", stats.TotalIdle, stats.TotalInUse)
	}

	for _, c := range conns {
		p.Release(c, domain.Reusable)
	}

	stats = p.Stats()
	if stats.TotalIdle != 3 || stats.TotalInUse != 0 {
		t.Fatalf("expected 3 idle / 0 in-use after release, got idle=%d inUse=%d", stats.TotalIdle, stats.TotalInUse)
	}
}

func TestPool_ExpiredIdleConnectionNotReused(t *testing.T) {
	dialer := &fakeDialer{}
	p := New(Config{MaxPerTarget: 2, MaxTotal: 10, MaxIdleTime: time.Millisecond, MaxLifetime: time.Hour, SweepInterval: time.Hour}, dialer)
	defer p.Close()

	conn, _ := p.Acquire(context.Background(), "tcp", "upstream:8080")
	p.Release(conn, domain.Reusable)

	time.Sleep(5 * time.Millisecond)

	_, err := p.Acquire(context.Background(), "tcp", "upstream:8080")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if dialer.dials != 2 {
		t.Errorf("expected expired idle connection to be discarded and redialed, dials=%d", dialer.dials)
	}
}
