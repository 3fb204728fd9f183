package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the chat service.
// Environment variables are parsed from the PARLEY_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage driver: postgres, sqlite, or memory
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"parley.db"`

	// Credential tokens
	TokenSecret   string        `envconfig:"TOKEN_SECRET" default:""`
	TokenIssuer   string        `envconfig:"TOKEN_ISSUER" default:"parley"`
	TokenValidity time.Duration `envconfig:"TOKEN_VALIDITY" default:"168h"`

	// Event bus
	BusQueueSize int `envconfig:"BUS_QUEUE_SIZE" default:"64"`
}

// ResolveDefaults validates the configuration and derives DBDriver when set
// to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}

	allowedDB := map[string]bool{"postgres": true, "sqlite": true, "memory": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}
	if c.TokenSecret == "" {
		if c.Environment == EnvProduction {
			return fmt.Errorf("TOKEN_SECRET is required in production")
		}
		c.TokenSecret = "dev-insecure-secret"
	}
	if c.BusQueueSize <= 0 {
		return fmt.Errorf("BUS_QUEUE_SIZE must be positive")
	}
	return nil
}

// New creates a Config by parsing PARLEY_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("PARLEY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("postgres_dsn_present", fmt.Sprintf("%t", cfg.PostgresDSN != "")).
		Int("bus_queue_size", cfg.BusQueueSize).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	return &Config{
		Environment:   EnvTesting,
		HTTPPort:      8080,
		DBDriver:      "memory",
		TokenSecret:   "test-secret",
		TokenIssuer:   "parley-test",
		TokenValidity: time.Hour,
		BusQueueSize:  16,
	}
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }
