// Package config provides configuration loading, validation, and hot
// reload.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Health    HealthConfig    `yaml:"health"`
	Logs      LogsConfig      `yaml:"request_logs"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenPort        int      `yaml:"listen_port"`
	MaxInFlight       int      `yaml:"max_in_flight"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

// AuthConfig configures token verification.
type AuthConfig struct {
	SecretKey          string `yaml:"secret_key"`
	TokenAlgorithm     string `yaml:"token_algorithm"`
	IdentityServiceURL string `yaml:"identity_service_url"`
}

// StoreConfig configures the persistent store.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// DispatchConfig holds the defaults used when a route omits its own
// dispatch parameters.
type DispatchConfig struct {
	GatewayTimeoutMs  int `yaml:"gateway_timeout_ms"`
	GatewayRetryCount int `yaml:"gateway_retry_count"`
}

// RateLimitConfig configures the rate-limit engine.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BreakerConfig configures the circuit breakers.
type BreakerConfig struct {
	Enabled            bool `yaml:"enabled"`
	FailureThreshold   int  `yaml:"failure_threshold"`
	SuccessThreshold   int  `yaml:"success_threshold"`
	OpenTimeoutSeconds int  `yaml:"open_timeout_seconds"`
}

// HealthConfig configures the upstream health supervisor.
type HealthConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	CheckTimeoutSeconds  int `yaml:"check_timeout_seconds"`
}

// LogsConfig configures the request log sink.
type LogsConfig struct {
	RetentionDays int     `yaml:"retention_days"`
	BufferSize    int     `yaml:"buffer_size"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// CORSConfig configures cross-origin requests on the proxied surface.
type CORSConfig struct {
	Origins          []string `yaml:"origins"`
	Methods          []string `yaml:"methods"`
	Headers          []string `yaml:"headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// GatewayTimeout returns the default per-attempt dispatch timeout.
func (c DispatchConfig) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutMs) * time.Millisecond
}

// OpenTimeout returns the breaker's open period.
func (c BreakerConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSeconds) * time.Second
}

// CheckInterval returns the probe loop period.
func (c HealthConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// CheckTimeout returns the per-probe timeout.
func (c HealthConfig) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutSeconds) * time.Second
}

// RetentionCutoff returns the oldest instant a log row may carry.
func (c LogsConfig) RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.RetentionDays)
}

// Load reads configuration from a YAML file, applies GATEWAY_*
// environment overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv builds configuration entirely from GATEWAY_* environment
// variables. Useful for container deployments without a config file.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback tries the file first and falls back to environment
// variables when the file does not exist.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies GATEWAY_* environment variables. They
// always win over file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.ListenPort = port
		}
	}
	if v := os.Getenv("GATEWAY_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxInFlight = n
		}
	}
	if v := os.Getenv("GATEWAY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.Server.TrustedProxyCIDRs = splitList(v)
	}

	if v := os.Getenv("GATEWAY_SECRET_KEY"); v != "" {
		cfg.Auth.SecretKey = v
	}
	if v := os.Getenv("GATEWAY_TOKEN_ALGORITHM"); v != "" {
		cfg.Auth.TokenAlgorithm = v
	}
	if v := os.Getenv("GATEWAY_IDENTITY_SERVICE_URL"); v != "" {
		cfg.Auth.IdentityServiceURL = v
	}

	if v := os.Getenv("GATEWAY_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}

	if v := os.Getenv("GATEWAY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.GatewayTimeoutMs = n
		}
	}
	if v := os.Getenv("GATEWAY_RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.GatewayRetryCount = n
		}
	}

	if v := os.Getenv("GATEWAY_RATE_LIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("GATEWAY_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.Breaker.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GATEWAY_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("GATEWAY_SUCCESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.SuccessThreshold = n
		}
	}
	if v := os.Getenv("GATEWAY_OPEN_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.OpenTimeoutSeconds = n
		}
	}

	if v := os.Getenv("GATEWAY_HEALTH_CHECK_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.CheckIntervalSeconds = n
		}
	}
	if v := os.Getenv("GATEWAY_HEALTH_CHECK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.CheckTimeoutSeconds = n
		}
	}

	if v := os.Getenv("GATEWAY_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Logs.RetentionDays = n
		}
	}
	if v := os.Getenv("GATEWAY_LOG_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Logs.BufferSize = n
		}
	}
	if v := os.Getenv("GATEWAY_LOG_SAMPLING_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Logs.SamplingRatio = f
		}
	}

	if v := os.Getenv("GATEWAY_CORS_ORIGINS"); v != "" {
		cfg.CORS.Origins = splitList(v)
	}
	if v := os.Getenv("GATEWAY_CORS_METHODS"); v != "" {
		cfg.CORS.Methods = splitList(v)
	}
	if v := os.Getenv("GATEWAY_CORS_HEADERS"); v != "" {
		cfg.CORS.Headers = splitList(v)
	}
	if v := os.Getenv("GATEWAY_CORS_ALLOW_CREDENTIALS"); v != "" {
		cfg.CORS.AllowCredentials = v == "true" || v == "1"
	}

	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATEWAY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenPort == 0 {
		cfg.Server.ListenPort = 8000
	}
	if cfg.Server.MaxInFlight == 0 {
		cfg.Server.MaxInFlight = 1024
	}
	if cfg.Auth.TokenAlgorithm == "" {
		cfg.Auth.TokenAlgorithm = "HS256"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "gateway.db"
	}
	if cfg.Dispatch.GatewayTimeoutMs == 0 {
		cfg.Dispatch.GatewayTimeoutMs = 30000
	}
	if cfg.Dispatch.GatewayRetryCount == 0 {
		cfg.Dispatch.GatewayRetryCount = 3
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
	if cfg.Breaker.OpenTimeoutSeconds == 0 {
		cfg.Breaker.OpenTimeoutSeconds = 60
	}
	if cfg.Health.CheckIntervalSeconds == 0 {
		cfg.Health.CheckIntervalSeconds = 60
	}
	if cfg.Health.CheckTimeoutSeconds == 0 {
		cfg.Health.CheckTimeoutSeconds = 5
	}
	if cfg.Logs.RetentionDays == 0 {
		cfg.Logs.RetentionDays = 30
	}
	if cfg.Logs.BufferSize == 0 {
		cfg.Logs.BufferSize = 1024
	}
	if cfg.Logs.SamplingRatio == 0 {
		cfg.Logs.SamplingRatio = 1.0
	}
	if len(cfg.CORS.Methods) == 0 {
		cfg.CORS.Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.ListenPort < 1 || cfg.Server.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", cfg.Server.ListenPort)
	}
	if cfg.Auth.SecretKey == "" && cfg.Auth.IdentityServiceURL == "" {
		return fmt.Errorf("one of secret_key or identity_service_url is required")
	}
	switch cfg.Auth.TokenAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported token_algorithm %q", cfg.Auth.TokenAlgorithm)
	}
	if cfg.Dispatch.GatewayTimeoutMs < 1 {
		return fmt.Errorf("gateway_timeout_ms must be >= 1")
	}
	if cfg.Dispatch.GatewayRetryCount < 0 {
		return fmt.Errorf("gateway_retry_count must be >= 0")
	}
	if cfg.Breaker.FailureThreshold < 1 || cfg.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker thresholds must be >= 1")
	}
	if cfg.Logs.SamplingRatio < 0 || cfg.Logs.SamplingRatio > 1 {
		return fmt.Errorf("log sampling_ratio must be within [0, 1]")
	}
	for _, cidr := range cfg.Server.TrustedProxyCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid trusted proxy CIDR %q", cidr)
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
