package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gantry-proxy/gantry/internal/core/ports"
)

// CORSConfig controls which origins, methods and headers the gateway
// reflects back for cross-origin requests to proxied routes.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         600,
	}
}

// CORSMiddleware answers preflight OPTIONS requests and decorates every
// response with the configured Access-Control-* headers.
type CORSMiddleware struct {
	cfg CORSConfig
}

func NewCORSMiddleware(cfg CORSConfig) *CORSMiddleware {
	return &CORSMiddleware{cfg: cfg}
}

func (m *CORSMiddleware) Name() string { return "cors" }

func (m *CORSMiddleware) OnRequest(w http.ResponseWriter, r *http.Request) (*http.Request, ports.MiddlewareResult) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return r, ports.MiddlewareResult{Decision: ports.Continue}
	}

	if !m.originAllowed(origin) {
		return r, ports.MiddlewareResult{Decision: ports.Continue}
	}

	header := w.Header()
	if m.allowsAnyOrigin() && !m.cfg.AllowCredentials {
		header.Set("Access-Control-Allow-Origin", "*")
	} else {
		header.Set("Access-Control-Allow-Origin", origin)
		header.Add("Vary", "Origin")
	}
	if m.cfg.AllowCredentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(m.cfg.ExposedHeaders) > 0 {
		header.Set("Access-Control-Expose-Headers", strings.Join(m.cfg.ExposedHeaders, ", "))
	}

	if r.Method == http.MethodOptions {
		header.Set("Access-Control-Allow-Methods", strings.Join(m.cfg.AllowedMethods, ", "))
		header.Set("Access-Control-Allow-Headers", strings.Join(m.cfg.AllowedHeaders, ", "))
		if m.cfg.MaxAge > 0 {
			header.Set("Access-Control-Max-Age", strconv.Itoa(m.cfg.MaxAge))
		}
		w.WriteHeader(http.StatusNoContent)
		return r, ports.MiddlewareResult{Decision: ports.Respond}
	}

	return r, ports.MiddlewareResult{Decision: ports.Continue}
}

func (m *CORSMiddleware) OnResponse(http.ResponseWriter, *http.Request, ports.MiddlewareResult) {}

func (m *CORSMiddleware) allowsAnyOrigin() bool {
	for _, o := range m.cfg.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (m *CORSMiddleware) originAllowed(origin string) bool {
	for _, o := range m.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
