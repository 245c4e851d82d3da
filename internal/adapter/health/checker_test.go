package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gantry-proxy/gantry/internal/config"
	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/logger"
	"github.com/gantry-proxy/gantry/theme"
)

type mockRepository struct {
	endpoints map[string]*domain.Endpoint
	mu        sync.RWMutex
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		endpoints: make(map[string]*domain.Endpoint),
	}
}

func (m *mockRepository) GetAll(ctx context.Context) ([]*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	endpoints := make([]*domain.Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func (m *mockRepository) GetHealthy(ctx context.Context) ([]*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := make([]*domain.Endpoint, 0)
	for _, ep := range m.endpoints {
		if ep.Status == domain.StatusHealthy {
			healthy = append(healthy, ep)
		}
	}
	return healthy, nil
}

func (m *mockRepository) GetRoutable(ctx context.Context) ([]*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	routable := make([]*domain.Endpoint, 0)
	for _, ep := range m.endpoints {
		if ep.Status.IsRoutable() {
			routable = append(routable, ep)
		}
	}
	return routable, nil
}

func (m *mockRepository) UpdateStatus(ctx context.Context, endpointURL *url.URL, status domain.EndpointStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ep, ok := m.endpoints[endpointURL.String()]; ok {
		ep.Status = status
	}
	return nil
}

func (m *mockRepository) UpdateEndpoint(ctx context.Context, endpoint *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := endpoint.URL.String()
	m.endpoints[key] = endpoint
	return nil
}

func (m *mockRepository) UpsertFromConfig(ctx context.Context, configs []config.EndpointConfig) (*domain.EndpointChangeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endpoints = make(map[string]*domain.Endpoint)
	for _, cfg := range configs {
		endpointURL, _ := url.Parse(cfg.URL)
		healthURL, _ := url.Parse(cfg.HealthCheckURL)

		endpoint := &domain.Endpoint{
			Name:                 cfg.Name,
			URL:                  endpointURL,
			HealthCheckURL:       healthURL,
			Status:               domain.StatusUnknown,
			CheckTimeout:         cfg.CheckTimeout,
			URLString:            endpointURL.String(),
			HealthCheckURLString: healthURL.String(),
		}
		m.endpoints[endpointURL.String()] = endpoint
	}
	return nil
}

func (m *mockRepository) Add(ctx context.Context, endpoint *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[endpoint.URL.String()] = endpoint
	return nil
}

func (m *mockRepository) Remove(ctx context.Context, endpointURL *url.URL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, endpointURL.String())
	return nil
}

func (m *mockRepository) Exists(ctx context.Context, endpointURL *url.URL) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.endpoints[endpointURL.String()]
	return exists
}

func (m *mockRepository) GetCacheStats() map[string]interface{} {
	return map[string]interface{}{}
}

func newTestLogger() *logger.StyledLogger {
	loggerCfg := &logger.Config{Level: "error", Theme: "default"}
	log, _, _ := logger.New(loggerCfg)
	return logger.NewStyledLogger(log, theme.Default())
}

func endpointFor(t *testing.T, server *httptest.Server) *domain.Endpoint {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	return &domain.Endpoint{
		Name:                 "test-endpoint",
		URL:                  u,
		HealthCheckURL:       u,
		URLString:            u.String(),
		HealthCheckURLString: u.String(),
		CheckTimeout:         time.Second,
	}
}

func TestHTTPHealthChecker_Check_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPHealthChecker(newMockRepository(), newTestLogger())
	endpoint := endpointFor(t, server)

	result, err := checker.Check(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Status != domain.StatusHealthy {
		t.Errorf("Expected StatusHealthy, got %v", result.Status)
	}
}

func TestHTTPHealthChecker_Check_NetworkError(t *testing.T) {
	// Bind and immediately close a listener to get a port nothing is
	// listening on, so dialing it fails deterministically.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	checker := NewHTTPHealthChecker(newMockRepository(), newTestLogger())
	u, _ := url.Parse("http://" + addr)
	endpoint := &domain.Endpoint{
		URL:                  u,
		HealthCheckURL:       u,
		HealthCheckURLString: u.String(),
		CheckTimeout:         200 * time.Millisecond,
	}

	result, err := checker.Check(context.Background(), endpoint)
	if err == nil {
		t.Fatal("Expected error but got none")
	}
	if result.Status != domain.StatusOffline {
		t.Errorf("Expected StatusOffline, got %v", result.Status)
	}
}

func TestHTTPHealthChecker_Check_SlowResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPHealthChecker(newMockRepository(), newTestLogger())
	endpoint := endpointFor(t, server)
	endpoint.CheckTimeout = time.Minute

	result, err := checker.Check(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Status != domain.StatusHealthy {
		t.Errorf("Expected StatusHealthy for fast response, got %v", result.Status)
	}
	if result.Latency > 200*time.Millisecond {
		t.Errorf("Response took too long: %v", result.Latency)
	}
}

func TestCircuitBreaker_BasicOperation(t *testing.T) {
	cb := NewCircuitBreaker()
	url := "http://localhost:11434"

	if cb.IsOpen(url) {
		t.Error("Circuit breaker should be closed initially")
	}

	for i := 0; i < DefaultCircuitBreakerThreshold; i++ {
		cb.RecordFailure(url)
	}

	if !cb.IsOpen(url) {
		t.Error("Circuit breaker should be open after threshold failures")
	}

	cb.RecordSuccess(url)
	if cb.IsOpen(url) {
		t.Error("Circuit breaker should be closed after success")
	}
}

func TestCircuitBreaker_Cleanup(t *testing.T) {
	cb := NewCircuitBreaker()
	url1 := "http://localhost:11434"
	url2 := "http://localhost:11435"

	cb.RecordFailure(url1)
	cb.RecordFailure(url2)

	active := cb.GetActiveEndpoints()
	if len(active) != 2 {
		t.Errorf("Expected 2 active endpoints, got %d", len(active))
	}

	cb.CleanupEndpoint(url1)
	active = cb.GetActiveEndpoints()
	if len(active) != 1 {
		t.Errorf("Expected 1 active endpoint after cleanup, got %d", len(active))
	}
}

func TestHealthChecker_StartStop(t *testing.T) {
	checker := NewHTTPHealthChecker(newMockRepository(), newTestLogger())
	ctx := context.Background()

	if err := checker.StartChecking(ctx); err != nil {
		t.Fatalf("StartChecking failed: %v", err)
	}

	stats := checker.GetSchedulerStats()
	if !stats["isRunning"].(bool) {
		t.Error("Checker should be running")
	}

	if err := checker.StopChecking(ctx); err != nil {
		t.Fatalf("StopChecking failed: %v", err)
	}

	stats = checker.GetSchedulerStats()
	if stats["isRunning"].(bool) {
		t.Error("Checker should be stopped")
	}
}

func TestHTTPHealthChecker_ForceHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mockRepo := newMockRepository()
	checker := NewHTTPHealthChecker(mockRepo, newTestLogger())
	ctx := context.Background()

	u, _ := url.Parse(server.URL)
	mockRepo.endpoints[u.String()] = &domain.Endpoint{
		Name:                 "test-endpoint",
		URL:                  u,
		HealthCheckURL:       u,
		URLString:            u.String(),
		HealthCheckURLString: u.String(),
		CheckTimeout:         time.Second,
	}

	checker.StartChecking(ctx)
	defer checker.StopChecking(ctx)

	if err := checker.ForceHealthCheck(ctx); err != nil {
		t.Fatalf("ForceHealthCheck failed: %v", err)
	}

	// drain the queue: ForceHealthCheck only enqueues, workers process async.
	var endpoint *domain.Endpoint
	for i := 0; i < 50; i++ {
		endpoints, _ := mockRepo.GetAll(ctx)
		if len(endpoints) == 1 && endpoints[0].Status == domain.StatusHealthy {
			endpoint = endpoints[0]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if endpoint == nil {
		t.Fatal("expected endpoint to become healthy after forced check")
	}
}

func TestHealthChecker_ConcurrentAccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mockRepo := newMockRepository()
	checker := NewHTTPHealthChecker(mockRepo, newTestLogger())
	ctx := context.Background()

	u, _ := url.Parse(server.URL)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("endpoint-%d", i)
		mockRepo.endpoints[name] = &domain.Endpoint{
			Name:                 name,
			URL:                  u,
			HealthCheckURL:       u,
			URLString:            name,
			HealthCheckURLString: u.String(),
			CheckTimeout:         time.Second,
		}
	}

	if err := checker.StartChecking(ctx); err != nil {
		t.Fatalf("Failed to start health checker: %v", err)
	}
	defer checker.StopChecking(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := checker.ForceHealthCheck(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent access error: %v", err)
	}
}

func TestHTTPHealthChecker_StatusCodeLogging(t *testing.T) {
	statusCodes := []int{200, 404, 500, 503}
	var callCount int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		code := statusCodes[callCount%len(statusCodes)]
		callCount++
		mu.Unlock()
		w.WriteHeader(code)
	}))
	defer server.Close()

	checker := NewHTTPHealthChecker(newMockRepository(), newTestLogger())
	endpoint := endpointFor(t, server)

	expectedStatuses := map[int]domain.EndpointStatus{
		200: domain.StatusHealthy,
		404: domain.StatusUnhealthy,
		500: domain.StatusUnhealthy,
		503: domain.StatusUnhealthy,
	}

	for _, code := range statusCodes {
		result, _ := checker.Check(context.Background(), endpoint)
		if result.Status != expectedStatuses[code] {
			t.Errorf("HTTP %d: expected status %v, got %v", code, expectedStatuses[code], result.Status)
		}
	}
}

func TestHTTPHealthChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPHealthChecker(newMockRepository(), newTestLogger())
	endpoint := endpointFor(t, server)
	endpoint.CheckTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := checker.Check(ctx, endpoint)
	if err != nil && !errors.Is(err, context.Canceled) {
		// a cancelled dial surfaces as a net.Error, not context.Canceled
		// directly, which is also an acceptable outcome here.
		var netErr net.Error
		if !errors.As(err, &netErr) {
			t.Errorf("Expected context cancellation or a network error, got: %v", err)
		}
	}
}
