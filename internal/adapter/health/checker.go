package health

import (
	"bufio"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"github.com/gantry-proxy/gantry/internal/logger"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gantry-proxy/gantry/internal/core/constants"
	"github.com/gantry-proxy/gantry/internal/core/domain"
	"github.com/gantry-proxy/gantry/internal/httpwire"
	"github.com/gantry-proxy/gantry/internal/util"
)

const (
	DefaultHealthCheckerWorkerCount = 10
	BaseHealthCheckerQueueSize      = 100
	QueueScaleFactor                = 2 // Queue size = endpoints * factor

	DefaultHealthCheckerTimeout = 5 * time.Second
	SlowResponseThreshold       = 10 * time.Second
	VerySlowResponseThreshold   = 30 * time.Second

	HealthyEndpointStatusRangeStart = 200
	HealthyEndpointStatusRangeEnd   = 300

	DefaultCircuitBreakerThreshold = 3
	DefaultCircuitBreakerTimeout   = 30 * time.Second

	MaxBackoffMultiplier = 12
	BaseBackoffSeconds   = 2

	CleanupInterval = 5 * time.Minute

	// DefaultUnhealthyThreshold/DefaultHealthyThreshold gate
	// ServerHealthState transitions: this many consecutive failed/successful
	// probes in a row before a server flips healthy<->unhealthy.
	DefaultUnhealthyThreshold = 3
	DefaultHealthyThreshold   = 2
)

// Heap-based scheduler for efficient health check timing
type scheduledCheck struct {
	endpoint *domain.Endpoint
	dueTime  time.Time
	ctx      context.Context
}

type checkHeap []*scheduledCheck

func (h checkHeap) Len() int           { return len(h) }
func (h checkHeap) Less(i, j int) bool { return h[i].dueTime.Before(h[j].dueTime) }
func (h checkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *checkHeap) Push(x interface{}) {
	*h = append(*h, x.(*scheduledCheck))
}

func (h *checkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

type healthCheckJob struct {
	endpoint *domain.Endpoint
	ctx      context.Context
}

type HTTPHealthChecker struct {
	repository     domain.EndpointRepository
	circuitBreaker *CircuitBreaker
	statusTracker  *StatusTransitionTracker
	cleanupTicker  *time.Ticker
	stopCh         chan struct{}
	jobCh          chan healthCheckJob
	grp            *errgroup.Group
	mu             sync.Mutex
	running        bool
	workerCount    int
	logger         *logger.StyledLogger

	// unhealthyThreshold/healthyThreshold gate the ServerHealthState model
	// (spec.md §3/§4.C4): a server only flips healthy<->unhealthy after
	// this many consecutive probe results in a row, independent of the
	// richer per-probe EndpointStatus used for traffic weighting.
	unhealthyThreshold int
	healthyThreshold   int
	healthStates       map[string]*domain.ServerHealthState
	healthStatesMu     sync.Mutex

	// recoveryCallback fires once per unhealthy->healthy threshold crossing.
	recoveryCallback RecoveryCallback

	// Heap-based scheduler
	schedulerHeap *checkHeap
	heapMu        sync.Mutex
}

func NewHTTPHealthChecker(repository domain.EndpointRepository, logger *logger.StyledLogger) *HTTPHealthChecker {
	heapInstance := &checkHeap{}
	heap.Init(heapInstance)

	return &HTTPHealthChecker{
		repository:         repository,
		circuitBreaker:     NewCircuitBreaker(),
		statusTracker:      NewStatusTransitionTracker(),
		stopCh:             make(chan struct{}),
		workerCount:        DefaultHealthCheckerWorkerCount,
		logger:             logger,
		schedulerHeap:      heapInstance,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		healthyThreshold:   DefaultHealthyThreshold,
		healthStates:       make(map[string]*domain.ServerHealthState),
		recoveryCallback:   NoOpRecoveryCallback{},
	}
}

// SetRecoveryCallback overrides the no-op default; it fires, from whichever
// worker goroutine performed the probe, each time an endpoint's
// ServerHealthState crosses from unhealthy to healthy.
func (c *HTTPHealthChecker) SetRecoveryCallback(cb RecoveryCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb != nil {
		c.recoveryCallback = cb
	}
}

// SetThresholds overrides the default consecutive-result thresholds that
// gate ServerHealthState transitions. Must be called before StartChecking.
func (c *HTTPHealthChecker) SetThresholds(unhealthy, healthy int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unhealthy > 0 {
		c.unhealthyThreshold = unhealthy
	}
	if healthy > 0 {
		c.healthyThreshold = healthy
	}
}

// healthStateFor returns the ServerHealthState tracked for key, creating
// an optimistic-default one on first use.
func (c *HTTPHealthChecker) healthStateFor(key string) *domain.ServerHealthState {
	c.healthStatesMu.Lock()
	defer c.healthStatesMu.Unlock()
	state, ok := c.healthStates[key]
	if !ok {
		state = domain.NewServerHealthState()
		c.healthStates[key] = state
	}
	return state
}

func classifyError(err error) domain.HealthCheckErrorType {
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return domain.ErrorTypeCircuitOpen
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrorTypeTimeout
		}
		return domain.ErrorTypeNetwork
	}

	return domain.ErrorTypeHTTPError
}

// Status logic: offline for network/timeout/circuit-open errors, unhealthy for
// other errors, busy for slow responses, healthy for fast 2xx, unhealthy for
// fast non-2xx
func determineStatus(statusCode int, latency time.Duration, err error, errorType domain.HealthCheckErrorType) domain.EndpointStatus {
	if err != nil {
		switch errorType {
		case domain.ErrorTypeNetwork, domain.ErrorTypeTimeout, domain.ErrorTypeCircuitOpen:
			return domain.StatusOffline
		default:
			return domain.StatusUnhealthy
		}
	}

	if statusCode >= HealthyEndpointStatusRangeStart && statusCode < HealthyEndpointStatusRangeEnd {
		if latency > SlowResponseThreshold {
			return domain.StatusBusy
		}
		return domain.StatusHealthy
	}

	if latency > SlowResponseThreshold {
		return domain.StatusBusy
	}
	return domain.StatusUnhealthy
}

func calculateBackoff(endpoint *domain.Endpoint, success bool) (time.Duration, int) {
	if success {
		return endpoint.CheckInterval, 1
	}

	// The interval uses the current multiplier (capped at DefaultMaxBackoffSeconds);
	// the multiplier returned for the next failure doubles, up to the max
	backoffInterval := util.CalculateEndpointBackoff(endpoint.CheckInterval, endpoint.BackoffMultiplier)

	multiplier := endpoint.BackoffMultiplier * 2
	if multiplier > constants.DefaultMaxBackoffMultiplier {
		multiplier = constants.DefaultMaxBackoffMultiplier
	}

	return backoffInterval, multiplier
}

// Check runs one probe of the endpoint's configured CheckType (HTTP, TCP or
// Ping - spec.md §4.C4), folds the outcome into its ServerHealthState via
// RecordResult, and derives the richer EndpointStatus from the probe's own
// status code and latency (determineStatus), independently of the threshold
// state.
func (c *HTTPHealthChecker) Check(ctx context.Context, endpoint *domain.Endpoint) (domain.HealthCheckResult, error) {
	start := time.Now()
	healthCheckUrl := endpoint.GetHealthCheckURLString()

	result := domain.HealthCheckResult{
		Status: domain.StatusUnknown,
	}

	if c.circuitBreaker.IsOpen(healthCheckUrl) {
		result.Status = domain.StatusOffline
		result.Error = ErrCircuitBreakerOpen
		result.ErrorType = domain.ErrorTypeCircuitOpen
		result.Latency = time.Since(start)
		c.recordThresholdResult(endpoint, false)
		return result, ErrCircuitBreakerOpen
	}

	checkCtx, cancel := context.WithTimeout(ctx, endpoint.CheckTimeout)
	defer cancel()

	var statusCode int
	var probeErr error
	switch endpoint.CheckType {
	case domain.CheckTypeTCP, domain.CheckTypePing:
		probeErr = c.probeTCP(checkCtx, endpoint)
	default:
		statusCode, probeErr = c.probeHTTP(checkCtx, endpoint)
	}
	result.Latency = time.Since(start)

	if probeErr != nil {
		result.Error = probeErr
		result.ErrorType = classifyError(probeErr)
		result.Status = determineStatus(0, result.Latency, probeErr, result.ErrorType)
		c.circuitBreaker.RecordFailure(healthCheckUrl)
		c.recordThresholdResult(endpoint, false)
		return result, probeErr
	}

	result.Status = determineStatus(statusCode, result.Latency, nil, domain.ErrorTypeNone)

	if result.Status == domain.StatusHealthy {
		c.circuitBreaker.RecordSuccess(healthCheckUrl)
	} else {
		c.circuitBreaker.RecordFailure(healthCheckUrl)
	}
	c.recordThresholdResult(endpoint, result.Status.IsRoutable())

	return result, nil
}

// recordThresholdResult folds one probe outcome into the endpoint's
// ServerHealthState. A threshold crossing is logged but otherwise only
// observable via GetHealthState - spec.md's two-state model is additive to
// the richer EndpointStatus the caller derives Check's result from.
func (c *HTTPHealthChecker) recordThresholdResult(endpoint *domain.Endpoint, success bool) {
	state := c.healthStateFor(endpoint.GetHealthCheckURLString())
	c.healthStatesMu.Lock()
	crossed := state.RecordResult(success, time.Now(), c.unhealthyThreshold, c.healthyThreshold)
	healthy := state.Healthy
	c.healthStatesMu.Unlock()

	if !crossed {
		return
	}

	newStatus := domain.StatusUnhealthy
	if healthy {
		newStatus = domain.StatusHealthy
	}
	c.logger.InfoHealthStatus("Health state threshold crossed for", endpoint.Name, newStatus,
		"consecutive_successes", state.ConsecutiveSuccesses,
		"consecutive_failures", state.ConsecutiveFailures)

	if healthy {
		if err := c.recoveryCallback.OnEndpointRecovered(context.Background(), endpoint); err != nil {
			c.logger.Error("Recovery callback failed", "endpoint", endpoint.Name, "error", err)
		}
	}
}

// GetHealthState returns the threshold-gated ServerHealthState tracked for
// endpoint, for admin/status reporting.
func (c *HTTPHealthChecker) GetHealthState(endpoint *domain.Endpoint) domain.ServerHealthState {
	return c.healthStateFor(endpoint.GetHealthCheckURLString()).Snapshot()
}

// probeTCP dials the endpoint's health-check host:port and closes
// immediately without exchanging any bytes (spec.md §4.C4's TCP probe;
// Ping is the same dial-only check, distinguished only in logs per §9 Open
// Question (b)).
func (c *HTTPHealthChecker) probeTCP(ctx context.Context, endpoint *domain.Endpoint) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.HealthCheckURL.Host)
	if err != nil {
		return err
	}
	return conn.Close()
}

// probeHTTP hand-constructs a minimal HTTP/1.1 request line via httpwire
// and reads back just the status line over a raw TCP connection, rather
// than pulling in a full net/http client for a probe that only cares about
// the status code (spec.md §4.C2/§4.C4).
func (c *HTTPHealthChecker) probeHTTP(ctx context.Context, endpoint *domain.Endpoint) (int, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.HealthCheckURL.Host)
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	path := endpoint.HealthCheckURL.RequestURI()
	request := httpwire.BuildRequestLine(http.MethodGet, path) + "\r\n" +
		"Host: " + endpoint.HealthCheckURL.Host + "\r\n" +
		"Connection: close\r\n\r\n"

	if _, err := io.WriteString(conn, request); err != nil {
		return 0, err
	}

	statusLine, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, err
	}
	_, statusCode, _, err := httpwire.ParseStatusLine(statusLine)
	if err != nil {
		return 0, err
	}
	return statusCode, nil
}

// Scale queue size based on endpoint count
func (c *HTTPHealthChecker) calculateQueueSize(endpointCount int) int {
	queueSize := endpointCount * QueueScaleFactor
	if queueSize < BaseHealthCheckerQueueSize {
		queueSize = BaseHealthCheckerQueueSize
	}
	return queueSize
}

func (c *HTTPHealthChecker) StartChecking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	// Get endpoint count to scale queue size
	endpoints, err := c.repository.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to get endpoints for queue sizing: %w", err)
	}

	queueSize := c.calculateQueueSize(len(endpoints))
	c.stopCh = make(chan struct{})
	c.jobCh = make(chan healthCheckJob, queueSize)
	c.grp = &errgroup.Group{}
	c.running = true

	c.logger.Info("Health checker starting",
		"workers", c.workerCount,
		"queue_size", queueSize,
		"endpoints", len(endpoints))

	// Start workers
	for i := 0; i < c.workerCount; i++ {
		c.grp.Go(func() error {
			c.worker()
			return nil
		})
	}

	// Start heap-based scheduler
	c.grp.Go(func() error {
		c.heapSchedulerLoop(ctx)
		return nil
	})

	c.cleanupTicker = time.NewTicker(CleanupInterval)
	c.grp.Go(func() error {
		c.cleanupLoop()
		return nil
	})

	return nil
}

func (c *HTTPHealthChecker) StopChecking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	close(c.stopCh)

	if c.cleanupTicker != nil {
		c.cleanupTicker.Stop()
	}

	_ = c.grp.Wait()
	c.running = false

	return nil
}

func (c *HTTPHealthChecker) cleanupLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.cleanupTicker.C:
			c.performCleanup()
		}
	}
}

// Clean up stale circuit breaker and status tracker entries
func (c *HTTPHealthChecker) performCleanup() {
	endpoints, err := c.repository.GetAll(context.Background())
	if err != nil {
		return
	}

	if len(endpoints) == 0 {
		return
	}

	currentEndpoints := make(map[string]struct{}, len(endpoints))
	for _, endpoint := range endpoints {
		currentEndpoints[endpoint.GetURLString()] = struct{}{}
		// The circuit breaker is keyed by health-check URL, not endpoint URL
		currentEndpoints[endpoint.GetHealthCheckURLString()] = struct{}{}
	}

	// Clean circuit breaker
	circuitEndpoints := c.circuitBreaker.GetActiveEndpoints()
	for _, url := range circuitEndpoints {
		if _, exists := currentEndpoints[url]; !exists {
			c.circuitBreaker.CleanupEndpoint(url)
		}
	}

	// Clean status tracker
	statusEndpoints := c.statusTracker.GetActiveEndpoints()
	for _, url := range statusEndpoints {
		if _, exists := currentEndpoints[url]; !exists {
			c.statusTracker.CleanupEndpoint(url)
		}
	}
}

func (c *HTTPHealthChecker) worker() {
	for {
		select {
		case <-c.stopCh:
			return
		case job := <-c.jobCh:
			c.safeProcessHealthCheck(job)
		}
	}
}

// safeProcessHealthCheck recovers a panicking probe so one bad endpoint
// can't take down a worker goroutine; the endpoint is left at its prior
// status and picked up again on its next scheduled check.
func (c *HTTPHealthChecker) safeProcessHealthCheck(job healthCheckJob) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic in health check",
				"endpoint", job.endpoint.GetURLString(), "panic", r)
		}
	}()
	c.processHealthCheck(job)
}

// checkEndpoint runs one probe against endpoint synchronously and persists
// the result, bypassing the worker queue - used by tests that need a
// deterministic, immediate check (ForceHealthCheck goes through the queue).
func (c *HTTPHealthChecker) checkEndpoint(ctx context.Context, endpoint *domain.Endpoint) {
	c.processHealthCheck(healthCheckJob{endpoint: endpoint, ctx: ctx})
}

func (c *HTTPHealthChecker) processHealthCheck(job healthCheckJob) {
	result, err := c.Check(job.ctx, job.endpoint)

	job.endpoint.Status = result.Status
	job.endpoint.LastChecked = time.Now()
	job.endpoint.LastLatency = result.Latency

	// Calculate backoff
	isSuccess := result.Status == domain.StatusHealthy
	nextInterval, newMultiplier := calculateBackoff(job.endpoint, isSuccess)

	if !isSuccess {
		job.endpoint.ConsecutiveFailures++
		job.endpoint.BackoffMultiplier = newMultiplier
	} else {
		job.endpoint.ConsecutiveFailures = 0
		job.endpoint.BackoffMultiplier = 1
	}

	job.endpoint.NextCheckTime = time.Now().Add(nextInterval)

	// Reschedule in heap
	c.heapMu.Lock()
	heap.Push(c.schedulerHeap, &scheduledCheck{
		endpoint: job.endpoint,
		dueTime:  job.endpoint.NextCheckTime,
		ctx:      job.ctx,
	})
	c.heapMu.Unlock()

	if repoErr := c.repository.UpdateEndpoint(job.ctx, job.endpoint); repoErr != nil {
		c.logger.Error("Failed to update endpoint",
			"endpoint", job.endpoint.GetURLString(),
			"error", repoErr)
	}

	// Only log status changes and periodic error summaries
	shouldLog, errorCount := c.statusTracker.ShouldLog(
		job.endpoint.GetURLString(),
		result.Status,
		err != nil)

	if shouldLog {
		if errorCount > 0 ||
			(result.Status == domain.StatusOffline ||
				result.Status == domain.StatusBusy ||
				result.Status == domain.StatusUnhealthy) {
			c.logger.WarnWithEndpoint("Endpoint health issues for", job.endpoint.Name,
				"status", result.Status.String(),
				"consecutive_failures", errorCount,
				"latency", result.Latency,
				"next_check_in", nextInterval)
		} else {
			c.logger.InfoHealthStatus("Endpoint status changed for",
				job.endpoint.Name,
				result.Status,
				"latency", result.Latency,
				"next_check_in", nextInterval)
		}
	}
}

// Heap-based scheduler - much more efficient than linear scanning
func (c *HTTPHealthChecker) heapSchedulerLoop(ctx context.Context) {
	// Initial population of heap
	endpoints, err := c.repository.GetAll(ctx)
	if err == nil {
		c.heapMu.Lock()
		for _, endpoint := range endpoints {
			heap.Push(c.schedulerHeap, &scheduledCheck{
				endpoint: endpoint,
				dueTime:  endpoint.NextCheckTime,
				ctx:      ctx,
			})
		}
		c.heapMu.Unlock()
	}

	ticker := time.NewTicker(100 * time.Millisecond) // Check more frequently for heap
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.heapMu.Lock()

			// Process all due checks
			for c.schedulerHeap.Len() > 0 {
				next := (*c.schedulerHeap)[0]
				if now.Before(next.dueTime) {
					break // Next check isn't due yet
				}

				check := heap.Pop(c.schedulerHeap).(*scheduledCheck)

				job := healthCheckJob{
					endpoint: check.endpoint,
					ctx:      check.ctx,
				}

				select {
				case c.jobCh <- job:
					// Queued
				default:
					// Queue full, reschedule in 1 second
					check.dueTime = now.Add(time.Second)
					heap.Push(c.schedulerHeap, check)
				}
			}

			c.heapMu.Unlock()
		}
	}
}

func (c *HTTPHealthChecker) SetWorkerCount(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Warn("Cannot change worker count while health checker is running")
		return
	}

	if count < 1 {
		count = 1
	}
	c.workerCount = count
}

func (c *HTTPHealthChecker) GetSchedulerStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return map[string]interface{}{
			"isRunning": false,
		}
	}

	queueSize := len(c.jobCh)
	queueCap := cap(c.jobCh)

	c.heapMu.Lock()
	heapSize := c.schedulerHeap.Len()
	c.heapMu.Unlock()

	return map[string]interface{}{
		"isRunning":     c.running,
		"worker_count":  c.workerCount,
		"queue_size":    queueSize,
		"queue_cap":     queueCap,
		"queue_usage":   float64(queueSize) / float64(queueCap),
		"scheduled_checks": heapSize,
	}
}

func (c *HTTPHealthChecker) ForceHealthCheck(ctx context.Context) error {
	if !c.running {
		return fmt.Errorf("health checker is not running")
	}

	endpoints, err := c.repository.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to get endpoints: %w", err)
	}

	for _, endpoint := range endpoints {
		job := healthCheckJob{
			endpoint: endpoint,
			ctx:      ctx,
		}

		select {
		case c.jobCh <- job:
			// Queued
		default:
			return fmt.Errorf("health check queue is full")
		}
	}

	return nil
}