package config

import (
	"net"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Server      ServerConfig      `yaml:"server"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Engineering EngineeringConfig `yaml:"engineering"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Security    SecurityConfig    `yaml:"security"`
	Plugins     PluginsConfig     `yaml:"plugins"`

	Routes     []RouteConfig          `yaml:"routes"`
	Groups     []UpstreamGroupConfig  `yaml:"groups"`
	Pool       PoolConfig             `yaml:"pool"`
	Breaker    BreakerConfig          `yaml:"breaker"`
	Retry      RetryConfig            `yaml:"retry"`
	Forwarding ForwardingConfig       `yaml:"forwarding"`
	Auth       AuthConfig             `yaml:"auth"`
	HealthCheck HealthCheckConfig     `yaml:"health_check"`
}

// HealthCheckConfig sets the default consecutive-result thresholds that
// gate an endpoint's threshold-based ServerHealthState, separately from the
// richer per-probe EndpointStatus used for traffic weighting.
type HealthCheckConfig struct {
	UnhealthyThreshold int `yaml:"unhealthy_threshold"`
	HealthyThreshold   int `yaml:"healthy_threshold"`
}

// TelemetryConfig holds metrics/tracing configuration.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// SecurityConfig holds TLS/mTLS configuration for the listener.
type SecurityConfig struct {
	TLS  TLSConfig  `yaml:"tls"`
	MTLS MTLSConfig `yaml:"mtls"`
}

// TLSConfig configures the server's own listener certificate.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MTLSConfig configures client-certificate verification.
type MTLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	CAFile  string `yaml:"ca_file"`
}

// PluginsConfig is reserved for future extension points; nothing in the
// current gateway loads a plugin, but operators can already populate it
// without the loader rejecting unknown keys.
type PluginsConfig struct {
	Directory string                 `yaml:"directory"`
	Enabled   []string               `yaml:"enabled"`
	Config    map[string]interface{} `yaml:"config"`
}

// RouteConfig configures one entry in the router's route table (C8).
type RouteConfig struct {
	ID            string                  `yaml:"id"`
	PathPattern   string                  `yaml:"path_pattern"`
	HostPattern   string                  `yaml:"host_pattern"`
	Methods       []string                `yaml:"methods"`
	Headers       []HeaderConditionConfig `yaml:"headers"`
	BodyJSON      []BodyJSONConditionConfig `yaml:"body_json"`
	UpstreamGroup string                  `yaml:"upstream_group"`
	Priority      int                     `yaml:"priority"`
	Enabled       bool                    `yaml:"enabled"`
	Kind          string                  `yaml:"kind"` // "reverse" (default), "websocket", "sse", "auth"
}

// HeaderConditionConfig configures one required-header match on a route.
type HeaderConditionConfig struct {
	Name    string `yaml:"name"`
	Literal string `yaml:"literal"`
	Regex   string `yaml:"regex"`
}

// BodyJSONConditionConfig configures one required JSON-body-field match on
// a route, evaluated against the field at Path ("model",
// "options.stream") within the request body.
type BodyJSONConditionConfig struct {
	Path    string `yaml:"path"`
	Literal string `yaml:"literal"`
	Regex   string `yaml:"regex"`
}

// UpstreamGroupConfig configures one named upstream pool (C11) - its
// discovery source and the load-balancing strategy used among its
// endpoints.
type UpstreamGroupConfig struct {
	Name          string                `yaml:"name"`
	LoadBalancer  string                `yaml:"load_balancer"`
	Discovery     DiscoveryConfig       `yaml:"discovery"`
}

// PoolConfig configures the explicit connection pool (C5).
type PoolConfig struct {
	MaxPerTarget  int           `yaml:"max_per_target"`
	MaxTotal      int           `yaml:"max_total"`
	MaxIdleTime   time.Duration `yaml:"max_idle_time"`
	MaxLifetime   time.Duration `yaml:"max_lifetime"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BreakerConfig configures the per-target circuit breaker (C6).
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// RetryConfig configures the failover client (C10).
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// ForwardingConfig configures C11's outbound-header behaviour.
type ForwardingConfig struct {
	PreserveHost            bool `yaml:"preserve_host"`
	DisableForwardedHeaders bool `yaml:"disable_forwarded_headers"`
}

// AuthConfig configures the auth proxy gate (C14).
type AuthConfig struct {
	Enabled     bool               `yaml:"enabled"`
	Methods     []string           `yaml:"methods"` // ordered: "api-key", "basic", "bearer"
	AccessRules []AccessRuleConfig `yaml:"access_rules"`
	Credentials []CredentialConfig `yaml:"credentials"`
	AuditSize   int                `yaml:"audit_size"`
}

// CredentialConfig configures one entry in the static credential store's
// opaque credential -> identity lookup table.
type CredentialConfig struct {
	Method     string   `yaml:"method"` // "api-key", "basic", "bearer"
	Credential string   `yaml:"credential"`
	UserID     string   `yaml:"user_id"`
	Roles      []string `yaml:"roles"`
}

// AccessRuleConfig configures one entry in the auth proxy's ordered
// access-rule table.
type AccessRuleConfig struct {
	PathPattern   string   `yaml:"path_pattern"`
	Methods       []string `yaml:"methods"`
	Public        bool     `yaml:"public"`
	RequiredRoles []string `yaml:"required_roles"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string              `yaml:"host"`
	Port            int                 `yaml:"port"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RequestLimits   ServerRequestLimits `yaml:"request_limits"`
	RateLimits      ServerRateLimits    `yaml:"rate_limits"`
}

// ServerRequestLimits defines request size and validation limits
type ServerRequestLimits struct {
	MaxBodySize   int64 `yaml:"max_body_size"`
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

// ServerRateLimits defines rate limiting configuration
type ServerRateLimits struct {
	GlobalRequestsPerMinute int           `yaml:"global_requests_per_minute"`
	PerIPRequestsPerMinute  int           `yaml:"per_ip_requests_per_minute"`
	BurstSize               int           `yaml:"burst_size"`
	HealthRequestsPerMinute int           `yaml:"health_requests_per_minute"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	IPExtractionTrustProxy  bool          `yaml:"ip_extraction_trust_proxy"`

	// TrustProxyHeaders enables client IP extraction from X-Forwarded-For/X-Real-IP,
	// but only when the immediate peer address falls within TrustedProxyCIDRs.
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`

	// TrustedProxyCIDRsParsed is populated from TrustedProxyCIDRs during service
	// startup; it is not read from config directly.
	TrustedProxyCIDRsParsed []*net.IPNet `yaml:"-"`
}

// ProxyConfig holds proxy-specific configuration
type ProxyConfig struct {
	LoadBalancer      string        `yaml:"load_balancer"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	StreamBufferSize  int           `yaml:"stream_buffer_size"`
}

// DiscoveryConfig holds service discovery configuration
type DiscoveryConfig struct {
	Type            string                `yaml:"type"` // Only "static" is implemented
	Static          StaticDiscoveryConfig `yaml:"static"`
	RefreshInterval time.Duration         `yaml:"refresh_interval"`
}

// StaticDiscoveryConfig holds static endpoint configuration
type StaticDiscoveryConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig holds configuration for an upstream endpoint.
type EndpointConfig struct {
	Name           string        `yaml:"name"`
	URL            string        `yaml:"url"`
	HealthCheckURL string        `yaml:"health_check_url"`
	ModelURL       string        `yaml:"model_url"`
	Priority       int           `yaml:"priority"`
	// CheckType selects the health probe: "http" (default), "tcp" or "ping".
	CheckType      string        `yaml:"check_type"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development/debugging configuration
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}
