package middleware

import (
	"net/http"
	"strings"

	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/klauspost/compress/gzip"
)

// CompressionMiddleware gzip-encodes proxied responses when the client
// advertises Accept-Encoding: gzip and the request is not a protocol
// upgrade. It does not look at the Content-Encoding of the upstream
// response, so a body the upstream already encoded is gzip-encoded again.
// Grounded on klauspost/compress/gzip's encoder (the same
// package the pack's caddy reverse proxy registers as its "gzip" content
// encoder), wrapped the way the teacher's own responseWriter wraps
// http.ResponseWriter to intercept Write/WriteHeader/Flush.
type CompressionMiddleware struct {
	level int
}

func NewCompressionMiddleware(level int) *CompressionMiddleware {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &CompressionMiddleware{level: level}
}

func (m *CompressionMiddleware) Name() string { return "compression" }

func (m *CompressionMiddleware) OnRequest(w http.ResponseWriter, r *http.Request) (*http.Request, ports.MiddlewareResult) {
	if !acceptsGzip(r) {
		return r, ports.MiddlewareResult{Decision: ports.Continue}
	}
	return r, ports.MiddlewareResult{Decision: ports.Continue}
}

func (m *CompressionMiddleware) OnResponse(http.ResponseWriter, *http.Request, ports.MiddlewareResult) {}

// Wrap returns an http.Handler that gzip-encodes next's output when the
// request accepts it. Used directly (not through OnRequest/OnResponse)
// because compression must wrap the ResponseWriter the terminal handler
// writes into, not just observe before/after it.
func (m *CompressionMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsGzip(r) || isUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		gw, err := gzip.NewWriterLevel(w, m.level)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		defer gw.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")

		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gw}, r)
	})
}

// isUpgrade reports whether r is asking to switch protocols (WebSocket),
// which needs the raw hijacked connection gzip-wrapping would hide.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "upgrade") ||
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	return g.gz.Write(b)
}

func (g *gzipResponseWriter) Flush() {
	_ = g.gz.Flush()
	if flusher, ok := g.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
