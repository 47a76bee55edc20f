// Package config loads application configuration from FICHAS_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Sweep    SweepConfig
	OTel     OTelConfig

	LogLevel observability.LogLevel
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes).
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	PingTimeout time.Duration
}

// RedisConfig holds the optional summary-cache configuration.
type RedisConfig struct {
	Enabled    bool
	URL        string
	SummaryTTL time.Duration
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// BootstrapAdminToken authenticates as admin before any token exists.
	// Leave empty to disable.
	BootstrapAdminToken string
}

// SweepConfig drives the scheduled ensure-current-period sweep.
type SweepConfig struct {
	Enabled  bool
	Schedule string
}

// OTelConfig holds the optional OTLP trace/metric export settings.
type OTelConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("FICHAS_HOST", "0.0.0.0"),
			Port:            getEnv("FICHAS_PORT", "8080"),
			ReadTimeout:     getEnvDuration("FICHAS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("FICHAS_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("FICHAS_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("FICHAS_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("FICHAS_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("FICHAS_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("FICHAS_POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("FICHAS_POSTGRES_MIN_CONNS", 2),
			PingTimeout: getEnvDuration("FICHAS_POSTGRES_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:    getEnvBool("FICHAS_REDIS_ENABLED", false),
			URL:        getEnv("FICHAS_REDIS_URL", "redis://localhost:6379/0"),
			SummaryTTL: getEnvDuration("FICHAS_SUMMARY_CACHE_TTL", time.Minute),
		},
		Auth: AuthConfig{
			BootstrapAdminToken: getEnv("FICHAS_BOOTSTRAP_ADMIN_TOKEN", ""),
		},
		Sweep: SweepConfig{
			Enabled:  getEnvBool("FICHAS_SWEEP_ENABLED", true),
			Schedule: getEnv("FICHAS_SWEEP_SCHEDULE", "0 1 * * *"),
		},
		OTel: OTelConfig{
			Enabled:  getEnvBool("FICHAS_OTEL_ENABLED", false),
			Endpoint: getEnv("FICHAS_OTEL_ENDPOINT", "localhost:4317"),
			Insecure: getEnvBool("FICHAS_OTEL_INSECURE", true),
		},
		LogLevel: observability.ParseLogLevel(getEnv("FICHAS_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
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
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when the cache is enabled")
	}
	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return fmt.Errorf("sweep schedule is required when the sweep is enabled")
	}
	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		return fmt.Errorf("otel endpoint is required when export is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
