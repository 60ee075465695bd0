// Package constants centralizes defaults and limits shared across packages.
package constants

import "time"

// Timeouts for store and transport operations.
const (
	DefaultStoreTimeout   = 10 * time.Second // standard database operations
	SchemaTimeout         = 30 * time.Second // migrations and index creation
	HealthCheckTimeout    = 2 * time.Second
	DefaultShutdownPeriod = 10 * time.Second
)

// WebSocket connection lifecycle.
const (
	PongWait   = 60 * time.Second
	PingPeriod = (PongWait * 9) / 10 // must be less than PongWait
	WriteWait  = 10 * time.Second
)

// Sizes and limits.
const (
	DefaultMaxMessageSize  = 65536 // bytes per WebSocket frame
	DefaultMaxConnsPerUser = 10
	DefaultMessageRate     = 60 // send_message events per minute per principal
	DefaultAdminRateLimit  = 20 // admin REST requests per minute
	DefaultHistoryLimit    = 0  // 0 = full history
	MaxHistoryLimit        = 500
	MaxMessageTextLength   = 4000
	MinJWTSecretLength     = 32
	DefaultAuditPageSize   = 50
	MaxAuditPageSize       = 500
)

// Durations for background work.
const (
	DefaultRateWindow      = 1 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// HTTP server timeouts for standalone mode.
const (
	HTTPReadTimeout  = 15 * time.Second
	HTTPWriteTimeout = 30 * time.Second
	HTTPIdleTimeout  = 120 * time.Second
)

// Default configuration values.
const (
	DefaultPort       = 8080
	DefaultPathPrefix = "/supportchat"
	DefaultDSN        = "supportchat.db"
)

// WeakSecrets are substrings that disqualify a JWT secret at startup.
var WeakSecrets = []string{"secret", "password", "changeme", "example", "test123", "12345678"}
