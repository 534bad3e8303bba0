package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/idbridge/idbridge/pkg/observability"
	"github.com/idbridge/idbridge/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Redis configuration (login rate limiting)
	Redis RedisConfig

	// Policy configuration
	Policy PolicyConfig

	// Token maintenance configuration
	Token TokenConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// BaseURL is the externally visible origin of this service; it
	// becomes the SP entity id and the root of the ACS URLs.
	BaseURL string

	// Realm identifies this deployment in successful sign-in results.
	Realm string
}

// RedisConfig holds the rate-limiter backend configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int

	// Login attempts allowed per client per window.
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// PolicyConfig holds the credential-coexistence policy configuration
type PolicyConfig struct {
	// SettingsFile is the YAML file watched for runtime changes.
	// Empty means the env defaults below are used unchanged.
	SettingsFile string

	// Defaults applied when no settings file is configured, and as
	// the initial values until the file is first read.
	AllowCoexistence bool
	ExemptLogins     []string

	// StrengthMinLength > 0 enables the placeholder shim: cleared
	// passwords are replaced by a random value of at least this
	// length instead of the blank sentinel.
	StrengthMinLength int

	BcryptCost int
}

// TokenConfig holds token maintenance configuration
type TokenConfig struct {
	// SweepSchedule is a cron expression for the orphaned-token
	// sweep. Empty disables the job.
	SweepSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Policy:        loadPolicyConfig(),
		Token:         loadTokenConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IDBRIDGE_HOST", "0.0.0.0"),
		Port:            getEnv("IDBRIDGE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("IDBRIDGE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IDBRIDGE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDBRIDGE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IDBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("IDBRIDGE_HEALTH_PORT", "9090"),
		BaseURL:         getEnv("IDBRIDGE_BASE_URL", "http://localhost:8080"),
		Realm:           getEnv("IDBRIDGE_REALM", "idbridge"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("IDBRIDGE_DB_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	if dsn := getEnv("IDBRIDGE_DB_DSN", ""); dsn != "" {
		cfg.DSN = dsn
	}
	if maxConns := getEnvInt("IDBRIDGE_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("IDBRIDGE_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("IDBRIDGE_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	return cfg
}

// loadRedisConfig loads rate-limiter configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:         getEnvBool("IDBRIDGE_REDIS_ENABLED", false),
		Addr:            getEnv("IDBRIDGE_REDIS_ADDR", "localhost:6379"),
		Password:        getEnv("IDBRIDGE_REDIS_PASSWORD", ""),
		DB:              getEnvInt("IDBRIDGE_REDIS_DB", 0),
		LoginRateLimit:  getEnvInt("IDBRIDGE_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: getEnvDuration("IDBRIDGE_LOGIN_RATE_WINDOW", time.Minute),
	}
}

// loadPolicyConfig loads policy configuration from environment
func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		SettingsFile:      getEnv("IDBRIDGE_POLICY_FILE", ""),
		AllowCoexistence:  getEnvBool("IDBRIDGE_ALLOW_PASSWORD_COEXISTENCE", false),
		ExemptLogins:      getEnvList("IDBRIDGE_EXEMPT_LOGINS", []string{"root", "admin"}),
		StrengthMinLength: getEnvInt("IDBRIDGE_PASSWORD_MIN_LENGTH", 0),
		BcryptCost:        getEnvInt("IDBRIDGE_BCRYPT_COST", 0),
	}
}

// loadTokenConfig loads token maintenance configuration from environment
func loadTokenConfig() TokenConfig {
	return TokenConfig{
		SweepSchedule: getEnv("IDBRIDGE_TOKEN_SWEEP_SCHEDULE", "@hourly"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("IDBRIDGE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("IDBRIDGE_METRICS_ENABLED", true),
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
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.Server.Realm == "" {
		return fmt.Errorf("realm is required")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required when redis is enabled")
		}
		if c.Redis.LoginRateLimit <= 0 {
			return fmt.Errorf("login rate limit must be positive")
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
