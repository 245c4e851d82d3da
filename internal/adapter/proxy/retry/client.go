// Package retry generalises the endpoint failover logic the teacher's
// proxy engines use (core/retry.go's RetryHandler) to also gate every
// attempt through a per-target circuit breaker (spec.md §4.C10).
package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gantry-proxy/gantry/internal/adapter/proxy/core"
	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/logger"
)

// ProxyFunc is the per-attempt unit of work: deliver the request to
// endpoint and populate stats. Same shape as core.ProxyFunc so existing
// engine code plugs in unchanged.
type ProxyFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint *domain.Endpoint, stats *ports.RequestStats) error

// Client drives ExecuteWithRetry: select an endpoint, run it through the
// breaker, fail over to the next endpoint on a connection error or an
// open breaker, and give up once every endpoint has been tried.
type Client struct {
	discoveryService ports.DiscoveryService
	breaker          ports.CircuitBreaker
	logger           logger.StyledLogger
}

func NewClient(discoveryService ports.DiscoveryService, breaker ports.CircuitBreaker, logger logger.StyledLogger) *Client {
	return &Client{
		discoveryService: discoveryService,
		breaker:          breaker,
		logger:           logger,
	}
}

// ExecuteWithRetry mirrors core.RetryHandler.ExecuteWithRetry's failover
// loop, with each attempt additionally run through c.breaker.Execute so a
// tripped target is skipped without ever calling proxyFunc, and a
// breaker-observed failure during the attempt counts toward that
// target's trip state the same as any other backend error.
func (c *Client) ExecuteWithRetry(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	endpoints []*domain.Endpoint,
	selector domain.EndpointSelector,
	stats *ports.RequestStats,
	proxyFunc ProxyFunc,
) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("no endpoints available")
	}

	available := make([]*domain.Endpoint, len(endpoints))
	copy(available, endpoints)

	var bodyBytes []byte
	if r.Body != nil && r.Body != http.NoBody {
		bodyBytes, _ = io.ReadAll(r.Body)
		r.Body.Close()
	}

	var lastErr error
	maxRetries := len(endpoints)

	for attempt := 0; attempt <= maxRetries && len(available) > 0; attempt++ {
		if bodyBytes != nil {
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		endpoint, err := selector.Select(ctx, available)
		if err != nil {
			return fmt.Errorf("endpoint selection failed: %w", err)
		}

		targetKey := endpoint.URL.String()
		err = c.breaker.Execute(ctx, targetKey, func(ctx context.Context) error {
			return proxyFunc(ctx, w, r, endpoint, stats)
		})

		if err == nil {
			return nil
		}

		lastErr = err

		var breakerOpen *ports.ErrBreakerOpen
		switch {
		case errors.As(err, &breakerOpen):
			c.logger.Debug("Skipping endpoint with open circuit breaker",
				"endpoint", endpoint.Name,
				"target", targetKey)
			available = removeEndpoint(available, endpoint)
		case core.IsConnectionError(err):
			c.logger.Warn("Connection failed to endpoint, marking as unhealthy",
				"endpoint", endpoint.Name,
				"error", err,
				"attempt", attempt+1,
				"remaining_endpoints", len(available)-1)
			c.markEndpointUnhealthy(ctx, endpoint)
			available = removeEndpoint(available, endpoint)
		default:
			return err
		}
	}

	if len(available) == 0 {
		return fmt.Errorf("all endpoints failed or are circuit-broken: %w", lastErr)
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func removeEndpoint(endpoints []*domain.Endpoint, target *domain.Endpoint) []*domain.Endpoint {
	for i, e := range endpoints {
		if e.Name == target.Name {
			copy(endpoints[i:], endpoints[i+1:])
			return endpoints[:len(endpoints)-1]
		}
	}
	return endpoints
}

func (c *Client) markEndpointUnhealthy(ctx context.Context, endpoint *domain.Endpoint) {
	if endpoint == nil {
		return
	}
	endpointCopy := *endpoint
	endpointCopy.Status = domain.StatusOffline
	endpointCopy.ConsecutiveFailures++

	if err := c.discoveryService.UpdateEndpointStatus(ctx, &endpointCopy); err != nil {
		c.logger.Debug("Failed to update endpoint status in repository", "error", err)
	}
}
