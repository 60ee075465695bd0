package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			PathPrefix:      "/supportchat",
			JWTSecret:       "a-long-random-value-zq9x7w3k5m8p2r4t6v0b",
			MaxMessageSize:  65536,
			MaxConnsPerUser: 10,
			MessageRate:     60,
			RateWindow:      time.Minute,
			AdminRateLimit:  20,
			ShutdownPeriod:  10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          "supportchat.db",
			QueryTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-long-random-value-zq9x7w3k5m8p2r4t6v0b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/supportchat", cfg.Server.PathPrefix)
	assert.Equal(t, int64(65536), cfg.Server.MaxMessageSize)
	assert.Equal(t, 10, cfg.Server.MaxConnsPerUser)
	assert.Equal(t, 60, cfg.Server.MessageRate)
	assert.Equal(t, time.Minute, cfg.Server.RateWindow)
	assert.Equal(t, "supportchat.db", cfg.Database.DSN)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-long-random-value-zq9x7w3k5m8p2r4t6v0b")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PATH_PREFIX", "/chat")
	t.Setenv("ALLOWED_ORIGINS", "https://lahorneada.example,https://admin.lahorneada.example")
	t.Setenv("MESSAGE_RATE_LIMIT", "30")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/chat", cfg.Server.PathPrefix)
	assert.Equal(t, []string{"https://lahorneada.example", "https://admin.lahorneada.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.Server.MessageRate)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"missing secret", func(c *Config) { c.Server.JWTSecret = "" }, "JWT secret"},
		{"short secret", func(c *Config) { c.Server.JWTSecret = "short" }, "at least"},
		{"weak secret", func(c *Config) {
			c.Server.JWTSecret = "password-password-password-password-pass"
		}, "weak"},
		{"empty prefix", func(c *Config) { c.Server.PathPrefix = "" }, "prefix"},
		{"relative prefix", func(c *Config) { c.Server.PathPrefix = "chat" }, "must start with"},
		{"zero message size", func(c *Config) { c.Server.MaxMessageSize = 0 }, "message size"},
		{"zero conns", func(c *Config) { c.Server.MaxConnsPerUser = 0 }, "connections"},
		{"zero rate", func(c *Config) { c.Server.MessageRate = 0 }, "rate limit"},
		{"zero window", func(c *Config) { c.Server.RateWindow = 0 }, "window"},
		{"zero admin rate", func(c *Config) { c.Server.AdminRateLimit = 0 }, "admin rate"},
		{"empty DSN", func(c *Config) { c.Database.DSN = "" }, "DSN"},
		{"zero query timeout", func(c *Config) { c.Database.QueryTimeout = 0 }, "timeout"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.JWTSecret = ""
	cfg.Database.DSN = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "JWT secret")
	assert.Contains(t, err.Error(), "DSN")
}

func TestAddr(t *testing.T) {
	cfg := ServerConfig{Port: 9999}
	assert.Equal(t, ":9999", cfg.Addr())
}
