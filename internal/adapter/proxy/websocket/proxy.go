// Package websocket proxies WebSocket upgrades to a selected upstream
// endpoint, forwarding frames bidirectionally until either side closes
// (spec.md §4.C12). Grounded on the bidirectional-forward/keepalive/
// coordinated-shutdown pattern of a WebSocket bridge handler reviewed
// during design, adapted from a single fixed gateway target to the
// gateway's routed, multi-endpoint upstream groups.
package websocket

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/logger"
)

const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 10 * time.Second
	DefaultMaxMessageSize = 32 << 20 // 32MiB
)

// Config tunes a Proxy's dial/keepalive/message behaviour.
type Config struct {
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:    DefaultDialTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Proxy accepts a client WebSocket upgrade and bridges it to an upstream
// endpoint resolved from a ports.UpstreamGroup.
type Proxy struct {
	cfg    Config
	logger logger.StyledLogger

	mu      sync.Mutex
	drainCh chan struct{}
}

func New(cfg Config, log logger.StyledLogger) *Proxy {
	return &Proxy{cfg: cfg, logger: log, drainCh: make(chan struct{})}
}

// Drain signals every active connection to send a graceful close frame.
// Safe to call more than once.
func (p *Proxy) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.drainCh:
	default:
		close(p.drainCh)
	}
}

// IsUpgrade reports whether r is a WebSocket upgrade request per RFC 6455 §4.1.
func IsUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContains(r.Header, "Connection", "upgrade")
}

func headerContains(h http.Header, key, value string) bool {
	for _, v := range h[http.CanonicalHeaderKey(key)] {
		for _, s := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(s), value) {
				return true
			}
		}
	}
	return false
}

func httpToWS(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://")
	default:
		return rawURL
	}
}

// Serve accepts the client's WebSocket upgrade, dials endpoint, and
// bridges frames bidirectionally until one side closes or shutdownCtx is
// cancelled. statsCollector may be nil.
func (p *Proxy) Serve(shutdownCtx context.Context, w http.ResponseWriter, r *http.Request, endpoint *domain.Endpoint, statsCollector ports.StatsCollector) error {
	subprotocols := r.Header.Values("Sec-WebSocket-Protocol")

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: subprotocols})
	if err != nil {
		return err
	}
	clientConn.SetReadLimit(p.cfg.MaxMessageSize)

	if statsCollector != nil {
		statsCollector.RecordConnection(endpoint, 1)
		defer statsCollector.RecordConnection(endpoint, -1)
	}

	dialCtx, dialCancel := context.WithTimeout(shutdownCtx, p.cfg.DialTimeout)
	defer dialCancel()

	target := httpToWS(endpoint.URL.ResolveReference(r.URL).String())
	upstreamConn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPHeader:   http.Header{"Origin": {r.Header.Get("Origin")}},
		Subprotocols: subprotocols,
	})
	if err != nil {
		clientConn.Close(websocket.StatusBadGateway, "upstream unreachable")
		return err
	}
	upstreamConn.SetReadLimit(p.cfg.MaxMessageSize)

	proxyCtx, proxyCancel := context.WithCancel(shutdownCtx)

	if p.cfg.PingInterval > 0 {
		go p.keepAlive(proxyCtx, clientConn, proxyCancel)
		go p.keepAlive(proxyCtx, upstreamConn, proxyCancel)
	}

	var closeClientOnce, closeUpstreamOnce sync.Once
	closeClient := func(code websocket.StatusCode, reason string) {
		closeClientOnce.Do(func() { clientConn.Close(code, reason) })
	}
	closeUpstream := func() { closeUpstreamOnce.Do(func() { upstreamConn.CloseNow() }) }

	go func() {
		select {
		case <-p.drainCh:
			closeClient(websocket.StatusGoingAway, "server shutting down")
		case <-proxyCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer proxyCancel()
		defer p.recoverPump("client->upstream")
		p.forward(proxyCtx, clientConn, upstreamConn, "client->upstream")
	}()
	go func() {
		defer wg.Done()
		defer proxyCancel()
		defer p.recoverPump("upstream->client")
		p.forward(proxyCtx, upstreamConn, clientConn, "upstream->client")
	}()
	wg.Wait()

	closeClient(websocket.StatusGoingAway, "")
	closeUpstream()
	return nil
}

// recoverPump stops a panic in one pump direction from crashing the
// process; the other direction's goroutine still unwinds normally via
// proxyCancel/wg, closing both connections.
func (p *Proxy) recoverPump(direction string) {
	if r := recover(); r != nil {
		p.logger.Error("recovered from panic in websocket pump", "direction", direction, "panic", r)
	}
}

func (p *Proxy) forward(ctx context.Context, src, dst *websocket.Conn, direction string) {
	for {
		msgType, reader, err := src.Reader(ctx)
		if err != nil {
			p.logger.Debug("websocket forward stopped", "direction", direction, "reason", err)
			return
		}

		writeCtx, writeCancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		writer, err := dst.Writer(writeCtx, msgType)
		if err != nil {
			writeCancel()
			p.logger.Debug("websocket write failed", "direction", direction, "reason", err)
			return
		}
		if _, err := io.Copy(writer, reader); err != nil {
			writeCancel()
			p.logger.Debug("websocket copy failed", "direction", direction, "reason", err)
			return
		}
		if err := writer.Close(); err != nil {
			writeCancel()
			p.logger.Debug("websocket flush failed", "direction", direction, "reason", err)
			return
		}
		writeCancel()
	}
}

func (p *Proxy) keepAlive(ctx context.Context, conn *websocket.Conn, onFail context.CancelFunc) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, p.cfg.PongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				p.logger.Debug("websocket keepalive ping failed", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}
