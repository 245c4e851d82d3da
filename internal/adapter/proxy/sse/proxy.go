// Package sse proxies Server-Sent Events streams to a selected upstream
// endpoint: it forwards the client's Last-Event-ID on (re)connect,
// streams the upstream's event frames to the client as they arrive
// rather than buffering them, and tears down cleanly when the client
// disconnects (spec.md §4.C13).
package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/httpwire"
	"github.com/gantry-proxy/gantry/internal/logger"
)

const (
	contentTypeEventStream = "text/event-stream"
	headerLastEventID      = "Last-Event-ID"
)

// Config tunes a Proxy's upstream dial/read behaviour.
type Config struct {
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{DialTimeout: 10 * time.Second}
}

// Proxy streams an SSE response from endpoint straight through to w,
// flushing after every event frame instead of buffering the body.
type Proxy struct {
	cfg       Config
	transport http.RoundTripper
	logger    logger.StyledLogger
}

func New(cfg Config, transport http.RoundTripper, log logger.StyledLogger) *Proxy {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Proxy{cfg: cfg, transport: transport, logger: log}
}

// Serve issues the SSE request to endpoint and streams its event frames
// to w until the upstream closes the stream or r's context is cancelled
// (the client disconnected). If the client previously received events
// and retries, r's own Last-Event-ID header (set by the client per the
// EventSource reconnection algorithm) is forwarded unchanged so the
// upstream can resume from that point.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, endpoint *domain.Endpoint, statsCollector ports.StatsCollector) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing, required for SSE")
	}

	targetURL := endpoint.URL.ResolveReference(r.URL)
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), nil)
	if err != nil {
		return err
	}
	upstreamReq.Header = httpwire.StripHopByHop(r.Header)
	upstreamReq.Header.Set("Accept", contentTypeEventStream)
	if lastEventID := r.Header.Get(headerLastEventID); lastEventID != "" {
		upstreamReq.Header.Set(headerLastEventID, lastEventID)
	}
	upstreamReq.Host = r.Host

	if statsCollector != nil {
		statsCollector.RecordConnection(endpoint, 1)
		defer statsCollector.RecordConnection(endpoint, -1)
	}

	start := time.Now()
	resp, err := p.transport.RoundTrip(upstreamReq)
	if err != nil {
		if statsCollector != nil {
			statsCollector.RecordRequest(endpoint, "error", time.Since(start), 0)
		}
		return err
	}
	defer resp.Body.Close()

	for name, values := range httpwire.StripHopByHop(resp.Header) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Type", contentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)
	flusher.Flush()

	written, err := p.streamFrames(r.Context(), w, flusher, resp.Body)
	if statsCollector != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		statsCollector.RecordRequest(endpoint, status, time.Since(start), int64(written))
	}
	return err
}

// streamFrames copies body to w one line at a time, flushing whenever a
// blank line terminates an event frame per the EventSource wire format,
// so the client sees events as they're produced instead of once the
// upstream closes the connection.
func (p *Proxy) streamFrames(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, body io.Reader) (int, error) {
	reader := bufio.NewReader(body)
	written := 0

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			n, writeErr := w.Write(line)
			written += n
			if writeErr != nil {
				return written, writeErr
			}
			if isBlankLine(line) {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				flusher.Flush()
				return written, nil
			}
			return written, err
		}
	}
}

func isBlankLine(line []byte) bool {
	trimmed := strings.TrimRight(string(line), "\r\n")
	return trimmed == ""
}

// IsEventStream reports whether resp carries an SSE content-type.
func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), contentTypeEventStream)
}
