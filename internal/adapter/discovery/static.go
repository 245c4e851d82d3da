package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gantry-proxy/gantry/theme"
	"github.com/pterm/pterm"

	"github.com/gantry-proxy/gantry/internal/config"
	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/logger"
)

const (
	DefaultInitialHealthTimeout  = 30 * time.Second
	DefaultWaitForHealthyTimeout = 30 * time.Second
)

// StaticDiscoveryService implements ports.DiscoveryService for one upstream
// group's static endpoint list (spec.md §4.C11's per-group discovery
// source). Unlike a single global discovery service bound to the whole
// application config, each group owns its own instance, its own endpoint
// set and its own health checker, so one group's churn never bleeds into
// another's.
type StaticDiscoveryService struct {
	repository           domain.EndpointRepository
	checker              domain.HealthChecker
	endpoints            []config.EndpointConfig
	initialHealthTimeout time.Duration
	logger               logger.StyledLogger
}

// NewStaticDiscoveryService builds a discovery service scoped to endpoints,
// the static endpoint list of a single upstream group.
func NewStaticDiscoveryService(
	repository domain.EndpointRepository,
	checker domain.HealthChecker,
	endpoints []config.EndpointConfig,
	log logger.StyledLogger,
) *StaticDiscoveryService {
	return &StaticDiscoveryService{
		repository:           repository,
		checker:              checker,
		endpoints:            endpoints,
		logger:               log,
		initialHealthTimeout: DefaultInitialHealthTimeout,
	}
}

// GetEndpoints returns all registered endpoints
func (s *StaticDiscoveryService) GetEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	return s.repository.GetAll(ctx)
}

// GetHealthyEndpoints returns only healthy endpoints
func (s *StaticDiscoveryService) GetHealthyEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	return s.repository.GetHealthy(ctx)
}

// GetHealthyEndpointsWithFallback returns healthy endpoints with graceful degradation
func (s *StaticDiscoveryService) GetHealthyEndpointsWithFallback(ctx context.Context) ([]*domain.Endpoint, error) {
	healthy, err := s.repository.GetHealthy(ctx)
	if err != nil {
		return nil, err
	}

	if len(healthy) == 0 {
		s.logger.Warn("No healthy endpoints available, falling back to all endpoints")
		all, err := s.repository.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, fmt.Errorf("no endpoints configured")
		}
		return all, nil
	}

	return healthy, nil
}

// RefreshEndpoints reconciles the repository against the group's static
// endpoint list, delegating the add/update/remove diff and change-detection
// to the repository's own atomic upsert.
func (s *StaticDiscoveryService) RefreshEndpoints(ctx context.Context) error {
	result, err := s.repository.UpsertFromConfig(ctx, s.endpoints)
	if err != nil {
		return fmt.Errorf("failed to upsert endpoints: %w", err)
	}

	if result.Changed {
		s.logger.Info("Endpoint set changed",
			"added", len(result.Added), "removed", len(result.Removed), "modified", len(result.Modified))
	}

	return nil
}

// performInitialHealthChecks performs synchronous health checks on startup
func (s *StaticDiscoveryService) performInitialHealthChecks(ctx context.Context) error {
	s.logger.Info("Performing initial health checks...")

	checkCtx, cancel := context.WithTimeout(ctx, s.initialHealthTimeout)
	defer cancel()

	endpoints, err := s.repository.GetAll(checkCtx)
	if err != nil {
		return fmt.Errorf("failed to get endpoints for initial health check: %w", err)
	}

	endpointCount := len(endpoints)
	if endpointCount == 0 {
		s.logger.Warn("No endpoints configured for health checking")
		return nil
	}

	s.logger.Info(fmt.Sprintf("Health checking %s Endpoints",
		pterm.Style{theme.Default().Counts}.Sprintf("(%d)", endpointCount)))

	var wg sync.WaitGroup
	type result struct {
		endpoint *domain.Endpoint
		status   domain.EndpointStatus
		err      error
	}
	results := make(chan result, len(endpoints))

	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(ep *domain.Endpoint) {
			defer wg.Done()
			checkResult, err := s.checker.Check(checkCtx, ep)
			results <- result{ep, checkResult.Status, err}
		}(endpoint)
	}

	wg.Wait()
	close(results)

	healthyCount, unhealthyCount, unknownCount := 0, 0, 0

	for res := range results {
		if res.err != nil {
			s.logger.Error("Initial health check failed",
				"endpoint", res.endpoint.URL.String(), "error", res.err)
		}

		if err := s.repository.UpdateStatus(checkCtx, res.endpoint.URL, res.status); err != nil {
			s.logger.Error("Failed to update endpoint status",
				"endpoint", res.endpoint.URL.String(), "error", err)
		}

		switch res.status {
		case domain.StatusHealthy:
			healthyCount++
		case domain.StatusUnhealthy:
			unhealthyCount++
		default:
			unknownCount++
		}
	}

	if healthyCount == 0 {
		return fmt.Errorf("no healthy endpoints available after initial health check")
	}

	s.logger.Info("Initial health check complete",
		"healthy", healthyCount, "unhealthy", unhealthyCount, "unknown", unknownCount)

	return nil
}

// waitForHealthyEndpoints waits until at least one endpoint becomes healthy
func (s *StaticDiscoveryService) waitForHealthyEndpoints(ctx context.Context, maxWait time.Duration) error {
	s.logger.Info("Waiting for healthy endpoints", "max_wait", maxWait)

	timeout := time.NewTimer(maxWait)
	defer timeout.Stop()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for healthy endpoints: %w", ctx.Err())
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for healthy endpoints after %v", maxWait)
		case <-ticker.C:
			healthy, err := s.repository.GetHealthy(ctx)
			if err != nil {
				s.logger.Error("Error checking healthy endpoints", "error", err)
				continue
			}
			if len(healthy) > 0 {
				s.logger.Info("Found healthy endpoints, ready to serve traffic", "count", len(healthy))
				return nil
			}
			s.logger.Warn("No healthy endpoints yet, waiting...")
		}
	}
}

// Start refreshes the endpoint set from config, runs a synchronous initial
// health check pass and then hands off to periodic checking.
func (s *StaticDiscoveryService) Start(ctx context.Context) error {
	s.logger.Info("Starting static discovery service...")

	if err := s.RefreshEndpoints(ctx); err != nil {
		return fmt.Errorf("failed to refresh endpoints: %w", err)
	}

	if err := s.performInitialHealthChecks(ctx); err != nil {
		s.logger.Warn("Initial health checks failed, continuing with periodic checks", "error", err)
	}

	if err := s.checker.StartChecking(ctx); err != nil {
		return fmt.Errorf("failed to start health checking: %w", err)
	}

	healthy, err := s.repository.GetHealthy(ctx)
	if err != nil {
		return fmt.Errorf("failed to check healthy endpoints: %w", err)
	}

	if len(healthy) == 0 {
		s.logger.Info("No initially healthy endpoints, waiting for periodic health checks...")
		if err := s.waitForHealthyEndpoints(ctx, DefaultWaitForHealthyTimeout); err != nil {
			s.logger.Warn("Proxy will start but may not be able to serve requests initially", "error", err)
		}
	}

	s.logger.Info("Static discovery service started successfully")
	return nil
}

// Stop stops the health checker.
func (s *StaticDiscoveryService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping static discovery service...")
	if err := s.checker.StopChecking(ctx); err != nil {
		return fmt.Errorf("failed to stop health checking: %w", err)
	}
	s.logger.Info("Static discovery service stopped successfully")
	return nil
}

// UpdateEndpointStatus persists a health/status change raised by the
// retry/failover client after a connection failure.
func (s *StaticDiscoveryService) UpdateEndpointStatus(ctx context.Context, endpoint *domain.Endpoint) error {
	return s.repository.UpdateEndpoint(ctx, endpoint)
}

func (s *StaticDiscoveryService) SetInitialHealthTimeout(timeout time.Duration) {
	s.initialHealthTimeout = timeout
}

// GetHealthStatus returns a summary of endpoint health, used by the
// /internal/status admin endpoint.
func (s *StaticDiscoveryService) GetHealthStatus(ctx context.Context) (map[string]interface{}, error) {
	all, err := s.repository.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	healthy, err := s.repository.GetHealthy(ctx)
	if err != nil {
		return nil, err
	}

	status := make(map[string]interface{})
	status["total_endpoints"] = len(all)
	status["healthy_endpoints"] = len(healthy)
	status["unhealthy_endpoints"] = len(all) - len(healthy)

	endpoints := make([]map[string]interface{}, len(all))
	for i, endpoint := range all {
		endpoints[i] = map[string]interface{}{
			"name":         endpoint.Name,
			"url":          endpoint.URL.String(),
			"priority":     endpoint.Priority,
			"status":       string(endpoint.Status),
			"last_checked": endpoint.LastChecked,
		}
	}
	status["endpoints"] = endpoints

	return status, nil
}
