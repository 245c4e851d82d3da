package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gantry-proxy/gantry/internal/app/handlers"
	"github.com/gantry-proxy/gantry/internal/config"
	"github.com/gantry-proxy/gantry/internal/core/ports"
	"github.com/gantry-proxy/gantry/internal/logger"
)

// HTTPService manages the HTTP server lifecycle and route registration. It coordinates
// with other services to ensure the server only starts accepting requests after all
// dependencies are initialised and health checks have completed.
type HTTPService struct {
	config        *config.ServerConfig
	fullConfig    *config.Config
	server        *http.Server
	securityChain *ports.SecurityChain
	logger        logger.StyledLogger
	application   *handlers.Application
	gatewaySvc    *GatewayService
	securitySvc   *SecurityService
}

// NewHTTPService creates a new HTTP service
func NewHTTPService(
	config *config.ServerConfig,
	fullConfig *config.Config,
	logger logger.StyledLogger,
) *HTTPService {
	return &HTTPService{
		config:     config,
		fullConfig: fullConfig,
		logger:     logger,
	}
}

// Name returns the service name
func (s *HTTPService) Name() string {
	return "http"
}

// Start initialises and starts the HTTP server
func (s *HTTPService) Start(ctx context.Context) error {
	s.logger.Info("Initialising HTTP service")

	if s.securitySvc != nil {
		chain, err := s.securitySvc.GetSecurityChain()
		if err != nil {
			return fmt.Errorf("failed to get security chain: %w", err)
		}
		s.securityChain = chain
	}
	if s.gatewaySvc == nil {
		return fmt.Errorf("gateway service dependency not set")
	}

	app := handlers.NewApplication(s.fullConfig, s.gatewaySvc, s.securityChain, s.logger)
	s.application = app
	s.application.RegisterRoutes()

	mux := http.NewServeMux()
	routeRegistry := s.application.GetRouteRegistry()
	securityAdapters := s.application.GetSecurityAdapters()
	routeRegistry.WireUpWithSecurityChain(mux, securityAdapters)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		s.logger.Info("HTTP server listening",
			"address", s.server.Addr,
			"readTimeout", s.config.ReadTimeout,
			"writeTimeout", s.config.WriteTimeout)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	// Brief pause ensures the listener is established before returning
	time.Sleep(100 * time.Millisecond)

	s.logger.Info("Gantry started, waiting for requests...", "bind", s.server.Addr)

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *HTTPService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")
	defer func() {
		s.logger.ResetLine()
		s.logger.InfoWithStatus("Stopping HTTP server", "OK")
	}()

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
			return err
		}
	}
	return nil
}

// Dependencies returns service dependencies
func (s *HTTPService) Dependencies() []string {
	return []string{"gateway", "security"}
}

// SetGatewayService sets the gateway service dependency
func (s *HTTPService) SetGatewayService(gatewaySvc *GatewayService) {
	s.gatewaySvc = gatewaySvc
}

// SetSecurityService sets the security service dependency
func (s *HTTPService) SetSecurityService(securityService *SecurityService) {
	s.securitySvc = securityService
}
