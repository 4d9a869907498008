// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
}

// DatabaseConfig controls the PostgreSQL connection pool.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// CreditsConfig holds the shared secrets and request policy for the credit
// endpoints. SigningSecret and InternalAPIKey are resolved at startup: the
// dedicated variable wins, the shared internal-service key is the fallback.
type CreditsConfig struct {
	SigningSecret  string
	InternalAPIKey string
	NonceWindow    time.Duration
	SingleUseNonce bool
	DefaultTenant  string
	RateLimitRPS   int
	RateLimitBurst int
	AuditFile      string
}

// RedisConfig points at the optional nonce store. Empty URL disables it.
type RedisConfig struct {
	URL string
}

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Credits  CreditsConfig
	Redis    RedisConfig
}

// Load reads configuration from the environment and validates it. A missing
// signing secret or internal API key is a hard error: a deployment without
// them must not serve credit endpoints.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           envString("SERVER_HOST", "0.0.0.0"),
			Port:           envInt("SERVER_PORT", 8085),
			RequestTimeout: envDuration("SERVER_REQUEST_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          envString("DATABASE_DRIVER", "postgres"),
			DSN:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		},
		Logging: LoggingConfig{
			Level:      envString("LOG_LEVEL", "info"),
			Format:     envString("LOG_FORMAT", "text"),
			Output:     envString("LOG_OUTPUT", "stderr"),
			FilePrefix: os.Getenv("LOG_FILE_PREFIX"),
		},
		Credits: CreditsConfig{
			SigningSecret:  firstNonEmpty(os.Getenv("CREDITS_SIGNING_SECRET"), os.Getenv("INTERNAL_SERVICE_KEY")),
			InternalAPIKey: firstNonEmpty(os.Getenv("CREDITS_INTERNAL_API_KEY"), os.Getenv("INTERNAL_SERVICE_KEY")),
			NonceWindow:    envDuration("CREDITS_NONCE_WINDOW", 300*time.Second),
			SingleUseNonce: envBool("CREDITS_NONCE_SINGLE_USE", false),
			DefaultTenant:  os.Getenv("CREDITS_DEFAULT_TENANT"),
			RateLimitRPS:   envInt("CREDITS_RATE_LIMIT_RPS", 50),
			RateLimitBurst: envInt("CREDITS_RATE_LIMIT_BURST", 100),
			AuditFile:      os.Getenv("CREDITS_AUDIT_FILE"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Credits.SigningSecret == "" {
		return fmt.Errorf("credits signing secret not configured (set CREDITS_SIGNING_SECRET or INTERNAL_SERVICE_KEY)")
	}
	if c.Credits.InternalAPIKey == "" {
		return fmt.Errorf("internal API key not configured (set CREDITS_INTERNAL_API_KEY or INTERNAL_SERVICE_KEY)")
	}
	if c.Credits.NonceWindow <= 0 {
		return fmt.Errorf("credits nonce window must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare number of seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
