// Package config provides configuration management for the monitoring
// server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lenko-d/workforce-monitoring-agent/internal/engine"
	"github.com/lenko-d/workforce-monitoring-agent/internal/observability"
	"github.com/lenko-d/workforce-monitoring-agent/internal/realtime"
	"github.com/lenko-d/workforce-monitoring-agent/internal/retention"
)

// Config holds all server configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Stores    engine.Config        `yaml:"stores"`
	Retention retention.Config     `yaml:"retention"`
	Realtime  realtime.Config      `yaml:"realtime"`
	Ingest    IngestConfig         `yaml:"ingest"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Logging   observability.Config `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IngestConfig holds agent ingest endpoint settings.
type IngestConfig struct {
	// TokenEnv names an environment variable holding a shared agent token.
	// When the variable is set, agent submissions must carry it as a bearer
	// token; when unset, submissions are unauthenticated.
	TokenEnv     string `yaml:"token_env"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// RateLimitConfig holds ingest rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RedisAddr         string `yaml:"redis_addr"`
	RedisPasswordEnv  string `yaml:"redis_password_env"`
	RedisDB           int    `yaml:"redis_db"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	IncludeHeaders    bool   `yaml:"include_headers"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Stores:    engine.DefaultConfig(),
		Retention: retention.DefaultConfig(),
		Realtime:  realtime.DefaultConfig(),
		Ingest: IngestConfig{
			TokenEnv:     "AGENT_TOKEN",
			MaxBodyBytes: 1024 * 1024,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RedisAddr:         "localhost:6379",
			RedisPasswordEnv:  "REDIS_PASSWORD",
			RequestsPerMinute: 600,
			IncludeHeaders:    true,
		},
		Logging: observability.Config{
			ServiceName:    "workforce-monitoring",
			ServiceVersion: "dev",
			Environment:    "production",
			LogLevel:       "info",
			LogFormat:      "json",
		},
	}
}
