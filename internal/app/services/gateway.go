package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gantry-proxy/gantry/internal/adapter/balancer"
	"github.com/gantry-proxy/gantry/internal/adapter/breaker"
	"github.com/gantry-proxy/gantry/internal/adapter/credentials"
	"github.com/gantry-proxy/gantry/internal/adapter/discovery"
	"github.com/gantry-proxy/gantry/internal/adapter/groups"
	"github.com/gantry-proxy/gantry/internal/adapter/health"
	"github.com/gantry-proxy/gantry/internal/adapter/pool"
	"github.com/gantry-proxy/gantry/internal/adapter/proxy/authproxy"
	"github.com/gantry-proxy/gantry/internal/adapter/proxy/engine"
	"github.com/gantry-proxy/gantry/internal/adapter/proxy/sse"
	"github.com/gantry-proxy/gantry/internal/adapter/proxy/websocket"
	"github.com/gantry-proxy/gantry/internal/app/middleware"
	"github.com/gantry-proxy/gantry/internal/config"
	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/logger"
	"github.com/gantry-proxy/gantry/internal/router"
)

// GatewayService builds and owns the request-serving half of the gateway:
// one upstream group per configured discovery source (C11), the route
// table that resolves a request to a group (C8), the shared connection
// pool (C5) and circuit breaker (C6) the forwarding engine (C11) proxies
// through, and the WebSocket (C12), SSE (C13) and auth-gated (C14) proxy
// shapes a matched route's kind dispatches to.
//
// Mirrors HTTPService's resolve-dependencies-then-build shape, but builds
// domain objects instead of wiring an already-built Application.
type GatewayService struct {
	cfg    *config.Config
	logger logger.StyledLogger

	statsService   *StatsService
	statsCollector ports.StatsCollector
	securitySvc    *SecurityService

	groupRegistry *groups.Registry
	routeTable    *router.Table
	pool          *pool.Pool
	breaker       *breaker.Breaker
	engine        *engine.Engine
	wsProxy       *websocket.Proxy
	sseProxy      *sse.Proxy
	authProxy     *authproxy.Proxy

	chain       *middleware.Chain
	compression *middleware.CompressionMiddleware

	discoveryServices []ports.DiscoveryService
}

// NewGatewayService creates a new gateway service.
func NewGatewayService(cfg *config.Config, log logger.StyledLogger) *GatewayService {
	return &GatewayService{cfg: cfg, logger: log}
}

// SetSecurityService wires the rate-limit/size-validation chain the
// security service builds into this gateway's own request pipeline (C9)
// as a Chain link. The HTTP server's proxy route is also validated by
// SecurityAdapters.CreateChainMiddleware; admin routes get logging only.
func (g *GatewayService) SetSecurityService(s *SecurityService) {
	g.securitySvc = s
}

func (g *GatewayService) Name() string { return "gateway" }

func (g *GatewayService) Dependencies() []string { return []string{"stats", "security"} }

// SetStatsService sets the stats service dependency.
func (g *GatewayService) SetStatsService(statsService *StatsService) {
	g.statsService = statsService
}

// Start builds every upstream group's discovery source, the route table,
// the shared pool/breaker, and the four proxy shapes, then starts every
// group's discovery service so health checking begins immediately.
func (g *GatewayService) Start(ctx context.Context) error {
	g.logger.Info("Initialising gateway service")

	if g.statsService != nil {
		g.statsCollector = g.statsService.GetCollector()
	}

	g.groupRegistry = groups.NewRegistry()
	balancerFactory := balancer.NewFactory(g.statsCollector)

	for _, groupCfg := range g.cfg.Groups {
		if err := g.buildGroup(ctx, groupCfg, balancerFactory); err != nil {
			return fmt.Errorf("upstream group %q: %w", groupCfg.Name, err)
		}
	}

	g.routeTable = router.NewTable()
	for i, routeCfg := range g.cfg.Routes {
		route, err := router.BuildRoute(routeCfg, i)
		if err != nil {
			return err
		}
		if err := g.routeTable.Add(route); err != nil {
			return fmt.Errorf("route %q: %w", routeCfg.ID, err)
		}
	}

	g.breaker = breaker.New(breaker.Config{
		FailureThreshold: g.cfg.Breaker.FailureThreshold,
		SuccessThreshold: g.cfg.Breaker.SuccessThreshold,
		ResetTimeout:     g.cfg.Breaker.ResetTimeout,
	})

	dialer := &net.Dialer{Timeout: g.cfg.Proxy.ConnectionTimeout}
	g.pool = pool.New(pool.Config{
		MaxPerTarget:  g.cfg.Pool.MaxPerTarget,
		MaxTotal:      g.cfg.Pool.MaxTotal,
		MaxIdleTime:   g.cfg.Pool.MaxIdleTime,
		MaxLifetime:   g.cfg.Pool.MaxLifetime,
		SweepInterval: g.cfg.Pool.SweepInterval,
	}, dialer)

	g.engine = engine.New(g.routeTable, g.groupRegistry, g.breaker, g.statsCollector, g.pool, engine.Config{
		ConnectionTimeout:       g.cfg.Proxy.ConnectionTimeout,
		ResponseTimeout:         g.cfg.Proxy.ResponseTimeout,
		PreserveHost:            g.cfg.Forwarding.PreserveHost,
		DisableForwardedHeaders: g.cfg.Forwarding.DisableForwardedHeaders,
	}, g.logger)

	g.wsProxy = websocket.New(websocket.DefaultConfig(), g.logger)
	g.sseProxy = sse.New(sse.DefaultConfig(), g.engine.Transport(), g.logger)

	if g.cfg.Auth.Enabled {
		store := credentials.NewStatic(g.cfg.Auth.Credentials)
		g.authProxy = authproxy.New(authproxy.Config{
			Methods:     authMethods(g.cfg.Auth.Methods),
			AccessRules: accessRules(g.cfg.Auth.AccessRules),
			AuditSize:   g.cfg.Auth.AuditSize,
		}, store, g.engine, g.logger)
	}

	g.chain = middleware.NewChain()
	if g.securitySvc != nil {
		if secChain, err := g.securitySvc.GetSecurityChain(); err == nil {
			g.chain.Use(middleware.NewSecurityMiddleware(secChain))
		}
	}
	g.chain.Use(middleware.NewCORSMiddleware(middleware.DefaultCORSConfig()))
	g.compression = middleware.NewCompressionMiddleware(0)

	g.logger.Info("Gateway service initialised", "groups", len(g.cfg.Groups), "routes", len(g.cfg.Routes))
	return nil
}

// buildGroup wires one upstream group's static endpoint repository,
// health checker, discovery service and balancer strategy, starts its
// discovery service, and registers the result into the group registry.
func (g *GatewayService) buildGroup(ctx context.Context, groupCfg config.UpstreamGroupConfig, balancerFactory *balancer.Factory) error {
	repository := discovery.NewStaticEndpointRepository()
	checker := health.NewHTTPHealthChecker(repository, &g.logger)
	checker.SetThresholds(g.cfg.HealthCheck.UnhealthyThreshold, g.cfg.HealthCheck.HealthyThreshold)
	svc := discovery.NewStaticDiscoveryService(repository, checker, groupCfg.Discovery.Static.Endpoints, g.logger)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	g.discoveryServices = append(g.discoveryServices, svc)

	selector, err := balancerFactory.Create(groupCfg.LoadBalancer)
	if err != nil {
		return fmt.Errorf("failed to create load balancer %q: %w", groupCfg.LoadBalancer, err)
	}

	g.groupRegistry.Register(&ports.UpstreamGroup{Name: groupCfg.Name, Discovery: svc, Selector: selector})
	return nil
}

// Stop stops every upstream group's discovery service and the shared
// connection pool.
func (g *GatewayService) Stop(ctx context.Context) error {
	g.logger.Info("Stopping gateway service")

	var firstErr error
	for _, svc := range g.discoveryServices {
		if err := svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.wsProxy != nil {
		g.wsProxy.Drain()
	}
	if g.pool != nil {
		if err := g.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Handler returns the full C9 request pipeline: security validation and
// CORS run as Chain links in front of the route-match/proxy-shape
// dispatcher, and the whole thing is wrapped in gzip compression of the
// response body, the one link that must see the dispatcher's own writes
// rather than just run before/after it.
func (g *GatewayService) Handler() http.Handler {
	d := &dispatcher{
		routes:    g.routeTable,
		groups:    g.groupRegistry,
		engine:    g.engine,
		ws:        g.wsProxy,
		sse:       g.sseProxy,
		auth:      g.authProxy,
		statsColl: g.statsCollector,
		logger:    g.logger,
	}

	var h http.Handler = d
	if g.chain != nil {
		h = g.chain.Then(d)
	}
	if g.compression != nil {
		h = g.compression.Wrap(h)
	}
	return h
}

// GroupRegistry returns the upstream group registry, used by the admin
// status endpoints to enumerate group/endpoint health.
func (g *GatewayService) GroupRegistry() ports.UpstreamGroupRegistry {
	return g.groupRegistry
}

// RouteTable returns the compiled route table, used by the admin status
// endpoints to list configured routes.
func (g *GatewayService) RouteTable() ports.Router {
	return g.routeTable
}

// AuthAudit returns the auth proxy's bounded audit log, or nil if auth
// gating isn't enabled.
func (g *GatewayService) AuthAudit() []domain.AuditEntry {
	if g.authProxy == nil {
		return nil
	}
	return g.authProxy.Audit()
}

// dispatcher is the catch-all http.Handler registered for every
// non-admin route: it matches the request once, then hands off to the
// proxy shape the matched route's "kind" metadata names. "reverse" and
// "auth" routes delegate to the engine/auth proxy, which perform their
// own match/resolve/retry internally - the match here only decides which
// shape to use.
type dispatcher struct {
	routes    ports.Router
	groups    ports.UpstreamGroupRegistry
	engine    http.Handler
	ws        *websocket.Proxy
	sse       *sse.Proxy
	auth      *authproxy.Proxy
	statsColl ports.StatsCollector
	logger    logger.StyledLogger
}

func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	match, ok := d.routes.Match(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no route matches this request")
		return
	}

	switch match.Route.Metadata["kind"] {
	case "websocket":
		d.serveWebSocket(w, r, match)
	case "sse":
		d.serveSSE(w, r, match)
	case "auth":
		if d.auth == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "auth gating is not enabled")
			return
		}
		d.auth.ServeHTTP(w, r)
	default:
		d.engine.ServeHTTP(w, r)
	}
}

func (d *dispatcher) resolveEndpoint(r *http.Request, match domain.RouteMatch) (*domain.Endpoint, error) {
	group, ok := d.groups.Get(match.Route.UpstreamGroup)
	if !ok {
		return nil, fmt.Errorf("upstream group %q is not configured", match.Route.UpstreamGroup)
	}
	endpoints, err := group.Discovery.GetHealthyEndpoints(r.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upstream endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no healthy upstream endpoints")
	}
	return group.Selector.Select(r.Context(), endpoints)
}

func (d *dispatcher) serveWebSocket(w http.ResponseWriter, r *http.Request, match domain.RouteMatch) {
	if !websocket.IsUpgrade(r) {
		writeJSONError(w, http.StatusBadRequest, "this route only accepts WebSocket upgrades")
		return
	}
	endpoint, err := d.resolveEndpoint(r, match)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := d.ws.Serve(r.Context(), w, r, endpoint, d.statsColl); err != nil {
		d.logger.Warn("websocket proxy failed", "path", r.URL.Path, "error", err)
	}
}

func (d *dispatcher) serveSSE(w http.ResponseWriter, r *http.Request, match domain.RouteMatch) {
	endpoint, err := d.resolveEndpoint(r, match)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := d.sse.Serve(w, r, endpoint, d.statsColl); err != nil {
		d.logger.Warn("sse proxy failed", "path", r.URL.Path, "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func authMethods(names []string) []domain.AuthMethod {
	methods := make([]domain.AuthMethod, 0, len(names))
	for _, name := range names {
		methods = append(methods, domain.AuthMethod(name))
	}
	return methods
}

func accessRules(cfgs []config.AccessRuleConfig) []domain.AccessRule {
	rules := make([]domain.AccessRule, 0, len(cfgs))
	for _, c := range cfgs {
		rules = append(rules, domain.AccessRule{
			PathPattern:   c.PathPattern,
			Methods:       c.Methods,
			Public:        c.Public,
			RequiredRoles: c.RequiredRoles,
		})
	}
	return rules
}
