// Package config loads service configuration from the environment. A .env
// file in the working directory is honored for development; real deployments
// set the variables directly.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lahorneada/supportchat/internal/constants"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	PathPrefix      string        `envconfig:"PATH_PREFIX" default:"/supportchat"`
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	MaxMessageSize  int64         `envconfig:"MAX_MESSAGE_SIZE" default:"65536"`
	MaxConnsPerUser int           `envconfig:"MAX_CONNECTIONS_PER_USER" default:"10"`
	MessageRate     int           `envconfig:"MESSAGE_RATE_LIMIT" default:"60"`
	RateWindow      time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
	AdminRateLimit  int           `envconfig:"ADMIN_RATE_LIMIT" default:"20"`
	ShutdownPeriod  time.Duration `envconfig:"SHUTDOWN_PERIOD" default:"10s"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	DSN          string        `envconfig:"DATABASE_DSN" default:"supportchat.db"`
	QueryTimeout time.Duration `envconfig:"DATABASE_QUERY_TIMEOUT" default:"10s"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"` // "json" or "text"
}

// Load reads configuration from the environment, honoring an optional .env file.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and collects every problem found so a
// misconfigured deployment fails fast with a complete report.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}

	if c.Server.JWTSecret == "" {
		errs = append(errs, errors.New("JWT secret is required"))
	} else {
		if len(c.Server.JWTSecret) < constants.MinJWTSecretLength {
			errs = append(errs, fmt.Errorf(
				"JWT secret must be at least %d characters (got %d); generate one with: openssl rand -base64 32",
				constants.MinJWTSecretLength, len(c.Server.JWTSecret)))
		}
		lowerSecret := strings.ToLower(c.Server.JWTSecret)
		for _, weak := range constants.WeakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errs = append(errs, fmt.Errorf(
					"JWT secret appears to be weak (contains %q); use a cryptographically random secret", weak))
				break
			}
		}
	}

	if c.Server.PathPrefix == "" {
		errs = append(errs, errors.New("path prefix cannot be empty"))
	} else if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		errs = append(errs, errors.New("path prefix must start with '/'"))
	}

	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.Server.MaxConnsPerUser <= 0 {
		errs = append(errs, errors.New("max connections per user must be positive"))
	}
	if c.Server.MessageRate <= 0 {
		errs = append(errs, errors.New("message rate limit must be positive"))
	}
	if c.Server.RateWindow <= 0 {
		errs = append(errs, errors.New("rate window must be positive"))
	}
	if c.Server.AdminRateLimit <= 0 {
		errs = append(errs, errors.New("admin rate limit must be positive"))
	}

	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.Database.QueryTimeout <= 0 {
		errs = append(errs, errors.New("database query timeout must be positive"))
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log format must be json or text, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
