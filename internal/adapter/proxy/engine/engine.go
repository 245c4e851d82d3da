// Package engine implements the reverse-proxy/unary request path (spec.md
// §4.C11): match a route, resolve its upstream group, run the request
// through the retry/breaker client, and stream the backend's response
// back to the caller.
package engine

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/gantry-proxy/gantry/internal/adapter/proxy/core"
	"github.com/gantry-proxy/gantry/internal/adapter/proxy/retry"
	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/httpwire"
	"github.com/gantry-proxy/gantry/internal/logger"
	"github.com/gantry-proxy/gantry/internal/util"
	"github.com/gantry-proxy/gantry/pkg/pool"
)

const streamBufferSize = 32 * 1024

// streamBufPool recycles the byte slices used to copy response bodies
// from the upstream connection to the client, avoiding a 32KB allocation
// per proxied request.
var streamBufPool = pool.NewLitePool(func() *[]byte {
	b := make([]byte, streamBufferSize)
	return &b
})

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultConnectionTimeout   = 10 * time.Second
	DefaultConnectionKeepAlive = 60 * time.Second
	DefaultResponseTimeout     = 60 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// Config tunes the shared transport every request is proxied through.
// Mirrors sherpa.Configuration's TCP-tuning knobs, generalised beyond a
// single proxy prefix.
type Config struct {
	ConnectionTimeout   time.Duration
	ConnectionKeepAlive time.Duration
	ResponseTimeout     time.Duration

	// PreserveHost forwards the inbound Host header unchanged instead of
	// rewriting it to the upstream authority.
	PreserveHost bool
	// DisableForwardedHeaders skips adding X-Forwarded-*/Via to the
	// upstream request.
	DisableForwardedHeaders bool
}

func DefaultConfig() Config {
	return Config{
		ConnectionTimeout:   DefaultConnectionTimeout,
		ConnectionKeepAlive: DefaultConnectionKeepAlive,
		ResponseTimeout:     DefaultResponseTimeout,
	}
}

// Engine is an http.Handler that serves every route published in its
// ports.Router against the upstream group ports.UpstreamGroupRegistry
// resolves for it.
type Engine struct {
	router         ports.Router
	groups         ports.UpstreamGroupRegistry
	breaker        ports.CircuitBreaker
	statsCollector ports.StatsCollector
	logger         logger.StyledLogger
	cfg            Config
	transport      *http.Transport

	retryClients sync.Map // group name -> *retry.Client, built lazily per group

	stats core.ProxyStats
}

var _ http.Handler = (*Engine)(nil)

// New builds an Engine. When connPool is non-nil, the shared transport
// dials through it (C5) so TCP connections are reused across requests to
// the same upstream subject to the pool's per-target/global caps; when
// nil, it falls back to a plain tuned net.Dialer (useful for tests that
// don't need pool accounting). breaker is shared across every upstream
// group - it keys trip state by target URL, so one group's backend
// never trips another's.
func New(router ports.Router, groups ports.UpstreamGroupRegistry, breaker ports.CircuitBreaker, statsCollector ports.StatsCollector, connPool ports.ConnectionPool, cfg Config, log logger.StyledLogger) *Engine {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: cfg.ConnectionTimeout, KeepAlive: cfg.ConnectionKeepAlive}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		return conn, nil
	}
	if connPool != nil {
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			pooled, err := connPool.Acquire(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &pooledConn{Conn: pooled.Conn, pool: connPool, pooled: pooled}, nil
		}
	}

	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		DialContext:         dial,
	}

	return &Engine{
		router:         router,
		groups:         groups,
		breaker:        breaker,
		statsCollector: statsCollector,
		logger:         log,
		cfg:            cfg,
		transport:      transport,
	}
}

// retryClientFor returns the group's retry client, building and caching
// one on first use. Each group gets its own client bound to its own
// ports.DiscoveryService so a failed endpoint is only ever reported back
// to the discovery source that owns it.
func (e *Engine) retryClientFor(group *ports.UpstreamGroup) *retry.Client {
	if existing, ok := e.retryClients.Load(group.Name); ok {
		return existing.(*retry.Client)
	}
	client := retry.NewClient(group.Discovery, e.breaker, e.logger)
	actual, _ := e.retryClients.LoadOrStore(group.Name, client)
	return actual.(*retry.Client)
}

// pooledConn adapts a domain.PooledConnection to net.Conn for
// http.Transport: Close releases the connection back to the pool rather
// than tearing down the socket, discarding it instead of recycling it if
// a read/write ever failed.
type pooledConn struct {
	net.Conn
	pool    ports.ConnectionPool
	pooled  *domain.PooledConnection
	failed  atomic.Bool
}

func (c *pooledConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil && err != io.EOF {
		c.failed.Store(true)
	}
	return n, err
}

func (c *pooledConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if err != nil {
		c.failed.Store(true)
	}
	return n, err
}

func (c *pooledConn) Close() error {
	disposition := domain.Reusable
	if c.failed.Load() {
		disposition = domain.Discard
	}
	c.pool.Release(c.pooled, disposition)
	return nil
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = util.GenerateRequestID()
	}

	start := time.Now()
	atomic.AddInt64(&e.stats.TotalRequests, 1)

	match, ok := e.router.Match(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no route matches this request")
		return
	}

	group, ok := e.groups.Get(match.Route.UpstreamGroup)
	if !ok {
		e.logger.Error("route references unknown upstream group", "route", match.Route.ID, "group", match.Route.UpstreamGroup)
		writeJSONError(w, http.StatusBadGateway, "upstream group is not configured")
		return
	}

	endpoints, err := group.Discovery.GetHealthyEndpoints(r.Context())
	if err != nil {
		atomic.AddInt64(&e.stats.FailedRequests, 1)
		writeJSONError(w, http.StatusBadGateway, "failed to resolve upstream endpoints")
		return
	}
	if len(endpoints) == 0 {
		atomic.AddInt64(&e.stats.FailedRequests, 1)
		writeJSONError(w, http.StatusServiceUnavailable, "no healthy upstream endpoints")
		return
	}

	stats := &ports.RequestStats{RequestID: requestID, StartTime: start}

	err = e.retryClientFor(group).ExecuteWithRetry(r.Context(), w, r, endpoints, group.Selector, stats, e.proxyOnce)

	duration := time.Since(start)
	if err != nil {
		e.stats.RecordFailure()
		e.logger.Warn("proxy request failed", "request_id", requestID, "path", r.URL.Path, "error", err, "duration_ms", duration.Milliseconds())
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	e.stats.RecordSuccess(duration.Milliseconds())
}

// proxyOnce is the retry.ProxyFunc run per attempted endpoint: build the
// upstream request, round-trip it on the shared transport, copy headers
// and stream the body back.
func (e *Engine) proxyOnce(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint *domain.Endpoint, stats *ports.RequestStats) error {
	if e.statsCollector != nil {
		e.statsCollector.RecordConnection(endpoint, 1)
		defer e.statsCollector.RecordConnection(endpoint, -1)
	}

	targetURL := endpoint.URL.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	stats.TargetUrl = targetURL.String()
	stats.EndpointName = endpoint.Name

	proxyReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL.String(), r.Body)
	if err != nil {
		return err
	}
	proxyReq.Header = httpwire.StripHopByHop(r.Header)
	if e.cfg.PreserveHost {
		proxyReq.Host = r.Host
	} else {
		proxyReq.Host = endpoint.URL.Host
	}
	if !e.cfg.DisableForwardedHeaders {
		addForwardedHeaders(proxyReq, r)
	}

	backendStart := time.Now()
	resp, err := e.transport.RoundTrip(proxyReq)
	stats.BackendResponseMs = time.Since(backendStart).Milliseconds()
	if err != nil {
		if e.statsCollector != nil {
			e.statsCollector.RecordRequest(endpoint, "error", time.Since(stats.StartTime), 0)
		}
		return err
	}
	defer resp.Body.Close()

	for name, values := range httpwire.StripHopByHop(resp.Header) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("X-Served-By", endpoint.Name)
	w.WriteHeader(resp.StatusCode)

	written, copyErr := streamBody(w, resp.Body)
	stats.TotalBytes = written
	if copyErr != nil {
		return copyErr
	}

	if e.statsCollector != nil {
		e.statsCollector.RecordRequest(endpoint, "success", time.Since(stats.StartTime), int64(written))
	}
	return nil
}

// addForwardedHeaders appends the client's address to X-Forwarded-For
// and sets the X-Forwarded-Proto/Host/Port and Via headers the way
// spec.md §4.C11 requires, unless the engine is configured to skip them.
func addForwardedHeaders(proxyReq, original *http.Request) {
	clientIP := util.GetClientIP(original, false, nil)
	if prior := original.Header.Get("X-Forwarded-For"); prior != "" {
		proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		proxyReq.Header.Set("X-Forwarded-For", clientIP)
	}

	proto := "http"
	if original.TLS != nil {
		proto = "https"
	}
	proxyReq.Header.Set("X-Forwarded-Proto", proto)
	proxyReq.Header.Set("X-Forwarded-Host", original.Host)

	if _, port, err := net.SplitHostPort(original.Host); err == nil && port != "" {
		proxyReq.Header.Set("X-Forwarded-Port", port)
	}

	if via := proxyReq.Header.Get("Via"); via != "" {
		proxyReq.Header.Set("Via", via+", 1.1 gantry")
	} else {
		proxyReq.Header.Set("Via", "1.1 gantry")
	}
}

func streamBody(w http.ResponseWriter, body io.Reader) (int, error) {
	bufPtr := streamBufPool.Get()
	defer streamBufPool.Put(bufPtr)
	buf := *bufPtr
	total := 0
	flusher, _ := w.(http.Flusher)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return total, writeErr
			}
			total += n
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"status": status,
	})
}

// Stats returns a snapshot of aggregate request counters.
func (e *Engine) Stats() ports.ProxyStats {
	return e.stats.GetStats()
}

// Transport returns the engine's shared, pool-aware http.Transport so the
// SSE proxy (C13) can round-trip through the same pooled connections
// instead of opening an unpooled transport of its own.
func (e *Engine) Transport() http.RoundTripper {
	return e.transport
}
