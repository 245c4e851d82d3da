package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gantry-proxy/gantry/internal/util"
)

const (
	DefaultPort = 19841
	DefaultHost = "localhost"

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestLimits: ServerRequestLimits{
				MaxBodySize:   10 * 1024 * 1024,
				MaxHeaderSize: 1 * 1024 * 1024,
			},
			RateLimits: ServerRateLimits{
				GlobalRequestsPerMinute: 1000,
				PerIPRequestsPerMinute:  100,
				BurstSize:               50,
				HealthRequestsPerMinute: 1000,
				CleanupInterval:         5 * time.Minute,
				TrustProxyHeaders:       false,
				TrustedProxyCIDRs: []string{
					"127.0.0.0/8",
					"10.0.0.0/8",
					"172.16.0.0/12",
					"192.168.0.0/16",
				},
			},
		},
		Proxy: ProxyConfig{
			ConnectionTimeout: 30 * time.Second,  // Quick connection/request timeout
			ResponseTimeout:   10 * time.Minute,  // Long response timeout for LLMs
			ReadTimeout:       120 * time.Second, // 2 minutes between response chunks
			MaxRetries:        3,
			RetryBackoff:      500 * time.Millisecond,
			LoadBalancer:      "priority",
		},
		Discovery: DiscoveryConfig{
			Type:            "static",
			RefreshInterval: 30 * time.Second,
			Static: StaticDiscoveryConfig{
				Endpoints: []EndpointConfig{
					// Assume they have an ollama locally running
					{
						Name:           "local-ollama",
						URL:            "http://localhost:11434",
						Priority:       100,
						HealthCheckURL: "/health",
						ModelURL:       "/api/tags",
						CheckInterval:  5 * time.Second,
						CheckTimeout:   2 * time.Second,
					},
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Address: ":9090",
			},
			Tracing: TracingConfig{
				Enabled:    false,
				Endpoint:   "localhost:4317",
				SampleRate: 0.1,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				Enabled:  false,
				CertFile: "cert.pem",
				KeyFile:  "key.pem",
			},
			MTLS: MTLSConfig{
				Enabled: false,
				CAFile:  "ca.pem",
			},
		},
		Plugins: PluginsConfig{
			Directory: "./plugins",
			Enabled:   []string{},
			Config:    map[string]interface{}{},
		},
		Pool: PoolConfig{
			MaxPerTarget:  32,
			MaxTotal:      512,
			MaxIdleTime:   90 * time.Second,
			MaxLifetime:   10 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     30 * time.Second,
		},
		HealthCheck: HealthCheckConfig{
			UnhealthyThreshold: 3,
			HealthyThreshold:   2,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
		},
		Auth: AuthConfig{
			Methods:   []string{"api-key", "basic", "bearer"},
			AuditSize: 256,
		},
	}
}

// Load loads configuration from file and environment variables. An optional
// callback is invoked whenever the config file changes on disk.
func Load(onConfigChange ...func()) (*Config, error) {
	var onChange func()
	if len(onConfigChange) > 0 {
		onChange = onConfigChange[0]
	}

	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("OLLA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have OLLA_CONFIG_FILE env var
		if configFile := os.Getenv("OLLA_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := applyRequestLimitEnvOverrides(&config.Server.RequestLimits); err != nil {
		return nil, fmt.Errorf("invalid request limit: %w", err)
	}

	applyRateLimitEnvOverrides(&config.Server.RateLimits)

	if err := parseTrustedProxyCIDRs(&config.Server.RateLimits); err != nil {
		return nil, fmt.Errorf("invalid trusted proxy CIDR: %w", err)
	}

	viper.WatchConfig()

	if onChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// lame debounce to avoid rapid-fire reloads
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // Ignore miultiple rapid changes
			}
			lastReload = now

			// looks like on windows this event is triggered
			// before the file is fully written, not sure why
			time.Sleep(DefaultFileWriteDelay)
			onChange()
		})
	}
	return config, nil
}

// parseByteSize parses a human size string ("50MB", "1GB", "1024") into bytes.
func parseByteSize(s string) (int64, error) {
	return units.RAMInBytes(s)
}

// applyRequestLimitEnvOverrides reads the body/header size limits as human-
// readable byte sizes ("50MB") rather than raw integers.
func applyRequestLimitEnvOverrides(limits *ServerRequestLimits) error {
	if v, ok := os.LookupEnv("OLLA_SERVER_MAX_BODY_SIZE"); ok {
		n, err := parseByteSize(v)
		if err != nil {
			return fmt.Errorf("OLLA_SERVER_MAX_BODY_SIZE: %w", err)
		}
		limits.MaxBodySize = n
	}
	if v, ok := os.LookupEnv("OLLA_SERVER_MAX_HEADER_SIZE"); ok {
		n, err := parseByteSize(v)
		if err != nil {
			return fmt.Errorf("OLLA_SERVER_MAX_HEADER_SIZE: %w", err)
		}
		limits.MaxHeaderSize = n
	}
	return nil
}

// applyRateLimitEnvOverrides reads the handful of rate-limit settings that use
// shorthand env var names not reachable by viper's automatic dotted-key lookup.
func applyRateLimitEnvOverrides(limits *ServerRateLimits) {
	if v, ok := os.LookupEnv("OLLA_SERVER_GLOBAL_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			limits.GlobalRequestsPerMinute = n
		}
	}
	if v, ok := os.LookupEnv("OLLA_SERVER_PER_IP_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			limits.PerIPRequestsPerMinute = n
		}
	}
	if v, ok := os.LookupEnv("OLLA_SERVER_RATE_BURST_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			limits.BurstSize = n
		}
	}
	if v, ok := os.LookupEnv("OLLA_SERVER_HEALTH_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			limits.HealthRequestsPerMinute = n
		}
	}
	if v, ok := os.LookupEnv("OLLA_SERVER_RATE_CLEANUP_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			limits.CleanupInterval = d
		}
	}
	if v, ok := os.LookupEnv("OLLA_SERVER_TRUST_PROXY_HEADERS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			limits.TrustProxyHeaders = b
		}
	}
	if v, ok := os.LookupEnv("OLLA_SERVER_TRUSTED_PROXY_CIDRS"); ok {
		parts := strings.Split(v, ",")
		cidrs := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cidrs = append(cidrs, trimmed)
			}
		}
		limits.TrustedProxyCIDRs = cidrs
	}
}

// parseTrustedProxyCIDRs parses the configured CIDR strings into net.IPNet values
// once at load time so the rate limiter never has to parse them per-request.
func parseTrustedProxyCIDRs(limits *ServerRateLimits) error {
	parsed, err := util.ParseTrustedCIDRs(limits.TrustedProxyCIDRs)
	if err != nil {
		return err
	}
	limits.TrustedProxyCIDRsParsed = parsed
	return nil
}
