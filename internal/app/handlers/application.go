package handlers

import (
	"net/http"
	"time"

	"github.com/gantry-proxy/gantry/internal/app/middleware"
	"github.com/gantry-proxy/gantry/internal/config"
	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/logger"
	"github.com/gantry-proxy/gantry/internal/router"
)

// SecurityAdapters wires the security chain and access/error logging
// around both proxy and admin routes.
type SecurityAdapters struct {
	securityChain *ports.SecurityChain
	logger        logger.StyledLogger
}

// CreateChainMiddleware wraps a handler with logging plus full security
// validation - used for routes that forward traffic upstream.
func (s *SecurityAdapters) CreateChainMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		withLogging := middleware.EnhancedLoggingMiddleware(s.logger)(next)
		withAccessLogging := middleware.AccessLoggingMiddleware(s.logger)(withLogging)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.securityChain != nil {
				secReq := ports.SecurityRequest{
					ClientID:      r.RemoteAddr,
					Endpoint:      r.URL.Path,
					Method:        r.Method,
					BodySize:      r.ContentLength,
					Headers:       r.Header,
					IsHealthCheck: r.URL.Path == "/internal/health",
				}

				result, err := s.securityChain.Validate(r.Context(), secReq)
				if err != nil || !result.Allowed {
					http.Error(w, "Security validation failed", http.StatusForbidden)
					return
				}
			}
			withAccessLogging.ServeHTTP(w, r)
		})
	}
}

// CreateRateLimitMiddleware wraps a handler with logging only, for admin
// routes that don't need the full security chain.
func (s *SecurityAdapters) CreateRateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		withLogging := middleware.EnhancedLoggingMiddleware(s.logger)(next)
		return middleware.AccessLoggingMiddleware(s.logger)(withLogging)
	}
}

// GatewayProvider is the subset of services.GatewayService the
// Application needs to serve traffic and report status. Kept as an
// interface so this package doesn't import services and create a cycle.
type GatewayProvider interface {
	Handler() http.Handler
	GroupRegistry() ports.UpstreamGroupRegistry
	RouteTable() ports.Router
	AuthAudit() []domain.AuditEntry
}

// Application holds the dependencies the admin/health handlers and the
// route registry need. The gateway's own dispatcher (proxy traffic) is
// registered as a single catch-all proxy route.
type Application struct {
	Config           *config.Config
	logger           logger.StyledLogger
	gateway          GatewayProvider
	securityAdapters *SecurityAdapters
	routeRegistry    *router.RouteRegistry
	StartTime        time.Time
}

// NewApplication builds the admin/health/route-registry layer around an
// already-started gateway.
func NewApplication(
	cfg *config.Config,
	gateway GatewayProvider,
	securityChain *ports.SecurityChain,
	log logger.StyledLogger,
) *Application {
	return &Application{
		Config:  cfg,
		logger:  log,
		gateway: gateway,
		securityAdapters: &SecurityAdapters{
			securityChain: securityChain,
			logger:        log,
		},
		routeRegistry: router.NewRouteRegistry(log),
		StartTime:     time.Now(),
	}
}

// GetRouteRegistry returns the route registry for wiring up routes.
func (a *Application) GetRouteRegistry() *router.RouteRegistry {
	return a.routeRegistry
}

// GetSecurityAdapters returns the security adapters for middleware.
func (a *Application) GetSecurityAdapters() *SecurityAdapters {
	return a.securityAdapters
}

// RegisterRoutes wires the admin endpoints plus the gateway's own
// dispatcher as the catch-all proxy route.
func (a *Application) RegisterRoutes() {
	a.routeRegistry.RegisterWithMethod("/internal/health", a.healthHandler, "Health check endpoint", "GET")
	a.routeRegistry.RegisterWithMethod("/internal/status", a.statusHandler, "Upstream group and route status", "GET")
	a.routeRegistry.RegisterWithMethod("/internal/status/endpoints", a.endpointsStatusHandler, "Endpoint status", "GET")
	a.routeRegistry.RegisterWithMethod("/internal/audit", a.auditHandler, "Auth proxy audit log", "GET")

	gatewayHandler := a.gateway.Handler()
	a.routeRegistry.RegisterProxyRoute("/", func(w http.ResponseWriter, r *http.Request) {
		gatewayHandler.ServeHTTP(w, r)
	}, "Gateway dispatcher (reverse/websocket/sse/auth routing)", "")
}
