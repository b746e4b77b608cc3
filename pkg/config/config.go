package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/middleware"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      storage.Config
	Cache         cache.Config
	Auth          AuthConfig
	RBAC          RBACConfig
	Seed          SeedConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig selects how bearer tokens are verified. OIDC is used when an
// issuer is set; DevSecret enables locally minted HMAC tokens.
type AuthConfig struct {
	OIDCIssuer   string
	OIDCClientID string
	DevSecret    string
	DevIssuer    string
}

// RBACConfig controls permission enforcement
type RBACConfig struct {
	Enforce       bool
	SweepSchedule string
	CacheTTL      time.Duration
}

// SeedConfig locates the seed file. An empty Path uses the embedded default.
type SeedConfig struct {
	Enabled bool
	Path    string
	Watch   bool
}

// RateLimitConfig throttles API callers per subject, or per client IP for
// anonymous requests
type RateLimitConfig struct {
	Enabled bool
	middleware.RateLimitConfig
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from SHOPADMIN_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Auth:          loadAuthConfig(),
		RBAC:          loadRBACConfig(),
		Seed:          loadSeedConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SHOPADMIN_HOST", "0.0.0.0"),
		Port:            getEnv("SHOPADMIN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SHOPADMIN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SHOPADMIN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SHOPADMIN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHOPADMIN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("SHOPADMIN_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("SHOPADMIN_CORS_ORIGINS"),
		HealthPort:      getEnv("SHOPADMIN_HEALTH_PORT", "9090"),
	}
}

// DatabaseFromEnv reads only the SHOPADMIN_DB_* settings. The operator
// CLI uses it so it does not need the server's auth configuration.
func DatabaseFromEnv() storage.Config {
	return loadDatabaseConfig()
}

// AuthFromEnv reads only the token verification settings
func AuthFromEnv() AuthConfig {
	return loadAuthConfig()
}

// CacheFromEnv reads only the SHOPADMIN_REDIS_URL and cache settings
func CacheFromEnv() cache.Config {
	return loadCacheConfig()
}

func loadDatabaseConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Driver = getEnv("SHOPADMIN_DB_DRIVER", cfg.Driver)
	cfg.DSN = getEnv("SHOPADMIN_DB_DSN", cfg.DSN)
	if n := getEnvInt("SHOPADMIN_DB_MAX_OPEN_CONNS", 0); n > 0 {
		cfg.MaxOpenConns = n
	}
	if n := getEnvInt("SHOPADMIN_DB_MAX_IDLE_CONNS", 0); n > 0 {
		cfg.MaxIdleConns = n
	}
	cfg.ConnMaxLifetime = getEnvDuration("SHOPADMIN_DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)
	cfg.ConnectTimeout = getEnvDuration("SHOPADMIN_DB_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	cfg.AutoMigrate = getEnvBool("SHOPADMIN_DB_AUTO_MIGRATE", cfg.AutoMigrate)
	return cfg
}

func loadCacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.RedisURL = getEnv("SHOPADMIN_REDIS_URL", "")
	cfg.KeyPrefix = getEnv("SHOPADMIN_CACHE_PREFIX", cfg.KeyPrefix)
	cfg.TTL = getEnvDuration("SHOPADMIN_CACHE_TTL", cfg.TTL)
	if n := getEnvInt("SHOPADMIN_L1_CACHE_SIZE", 0); n > 0 {
		cfg.LocalSize = n
	}
	cfg.LocalTTL = getEnvDuration("SHOPADMIN_L1_CACHE_TTL", cfg.LocalTTL)
	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuer:   getEnv("SHOPADMIN_OIDC_ISSUER", ""),
		OIDCClientID: getEnv("SHOPADMIN_OIDC_CLIENT_ID", ""),
		DevSecret:    getEnv("SHOPADMIN_DEV_TOKEN_SECRET", ""),
		DevIssuer:    getEnv("SHOPADMIN_DEV_TOKEN_ISSUER", "shopadmin-dev"),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		Enforce:       getEnvBool("SHOPADMIN_RBAC_ENFORCE", true),
		SweepSchedule: getEnv("SHOPADMIN_RBAC_SWEEP_SCHEDULE", "*/5 * * * *"),
		CacheTTL:      getEnvDuration("SHOPADMIN_RBAC_CACHE_TTL", 10*time.Minute),
	}
}

func loadSeedConfig() SeedConfig {
	return SeedConfig{
		Enabled: getEnvBool("SHOPADMIN_SEED_ENABLED", true),
		Path:    getEnv("SHOPADMIN_SEED_PATH", ""),
		Watch:   getEnvBool("SHOPADMIN_SEED_WATCH", false),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	defaults := middleware.DefaultRateLimitConfig()
	return RateLimitConfig{
		Enabled: getEnvBool("SHOPADMIN_RATE_LIMIT_ENABLED", true),
		RateLimitConfig: middleware.RateLimitConfig{
			RequestsPerWindow: getEnvInt("SHOPADMIN_RATE_LIMIT_REQUESTS", defaults.RequestsPerWindow),
			WindowDuration:    getEnvDuration("SHOPADMIN_RATE_LIMIT_WINDOW", defaults.WindowDuration),
			BurstSize:         getEnvInt("SHOPADMIN_RATE_LIMIT_BURST", defaults.BurstSize),
			TrustedProxies:    getEnvList("SHOPADMIN_TRUSTED_PROXIES"),
		},
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SHOPADMIN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SHOPADMIN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SHOPADMIN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SHOPADMIN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SHOPADMIN_OTEL_SERVICE_NAME", "shopadmin"),
		OTelServiceVersion: getEnv("SHOPADMIN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SHOPADMIN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("SHOPADMIN_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.Auth.OIDCIssuer == "" && c.Auth.DevSecret == "" {
		return fmt.Errorf("either SHOPADMIN_OIDC_ISSUER or SHOPADMIN_DEV_TOKEN_SECRET is required")
	}
	if c.Auth.OIDCIssuer != "" && c.Auth.OIDCClientID == "" {
		return fmt.Errorf("OIDC client id is required when an issuer is set")
	}

	if _, err := cron.ParseStandard(c.RBAC.SweepSchedule); err != nil {
		return fmt.Errorf("invalid membership sweep schedule %q: %w", c.RBAC.SweepSchedule, err)
	}

	if c.Seed.Watch && c.Seed.Path == "" {
		return fmt.Errorf("seed watch requires SHOPADMIN_SEED_PATH")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
