// Package supportchat wires the support chat service into a gin engine:
// the WebSocket endpoint, health probes, Prometheus metrics, and the
// staff-only admin REST surface.
package supportchat

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/lahorneada/supportchat/internal/audit"
	"github.com/lahorneada/supportchat/internal/auth"
	"github.com/lahorneada/supportchat/internal/chat"
	"github.com/lahorneada/supportchat/internal/config"
	"github.com/lahorneada/supportchat/internal/constants"
	"github.com/lahorneada/supportchat/internal/domain"
	"github.com/lahorneada/supportchat/internal/httperrors"
	"github.com/lahorneada/supportchat/internal/ratelimit"
	"github.com/lahorneada/supportchat/internal/relay"
	"github.com/lahorneada/supportchat/internal/room"
	"github.com/lahorneada/supportchat/internal/store"
	"github.com/lahorneada/supportchat/internal/util"
	"github.com/lahorneada/supportchat/internal/ws"
)

const principalKey = "principal"

var (
	// Global references for graceful shutdown. Register replaces a
	// previous instance's resources to avoid goroutine leaks when called
	// more than once (tests, hot reload).
	globalWSHandler    *ws.Handler
	globalMsgLimiter   *ratelimit.MessageLimiter
	globalAdminLimiter *ratelimit.MessageLimiter
	globalLogger       *slog.Logger
	shutdownMu         sync.Mutex
)

// Register sets up all chat service routes on the engine. The schema must
// already be migrated; see store.ChatStore.EnsureSchema.
func Register(r *gin.Engine, cfg *config.Config, logger *slog.Logger, db *gorm.DB) error {
	svcLogger := logger.WithGroup("supportchat")
	svcLogger.Info("Initializing support chat service")

	if err := cfg.Validate(); err != nil {
		svcLogger.Error("Configuration validation failed", "error", err)
		return err
	}

	chatStore := store.NewChatStore(db, svcLogger)
	recorder := audit.NewRecorder(db, svcLogger)
	service := chat.NewService(chatStore, recorder, svcLogger)
	rooms := room.NewRegistry(svcLogger)
	msgRelay := relay.NewRelay(service, rooms, svcLogger)

	msgLimiter := ratelimit.NewMessageLimiter(cfg.Server.RateWindow, cfg.Server.MessageRate)
	adminLimiter := ratelimit.NewMessageLimiter(cfg.Server.RateWindow, cfg.Server.AdminRateLimit)

	verifier := auth.NewVerifier(cfg.Server.JWTSecret)
	gateway := ws.NewGateway(service, msgRelay, rooms, msgLimiter, svcLogger)
	wsHandler := ws.NewHandler(verifier, gateway, rooms,
		cfg.Server.MaxConnsPerUser, cfg.Server.MaxMessageSize, svcLogger)

	if len(cfg.Server.AllowedOrigins) > 0 {
		wsHandler.SetAllowedOrigins(cfg.Server.AllowedOrigins)

		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		svcLogger.Warn("No allowed origins configured, accepting all origins (development mode)")
	}

	// Cleanup goroutines start only after validation so a failed Register
	// leaks nothing.
	msgLimiter.StartCleanup()
	adminLimiter.StartCleanup()

	shutdownMu.Lock()
	if globalMsgLimiter != nil {
		globalMsgLimiter.StopCleanup()
	}
	if globalAdminLimiter != nil {
		globalAdminLimiter.StopCleanup()
	}
	if globalWSHandler != nil {
		_ = globalWSHandler.ShutdownWithContext(context.Background())
	}
	globalWSHandler = wsHandler
	globalMsgLimiter = msgLimiter
	globalAdminLimiter = adminLimiter
	globalLogger = svcLogger
	shutdownMu.Unlock()

	r.Use(securityHeadersMiddleware())

	group := r.Group(cfg.Server.PathPrefix)
	{
		group.GET("/ws", func(c *gin.Context) {
			wsHandler.HandleWebSocket(c.Writer, c.Request)
		})

		group.GET("/healthz", handleHealth)
		group.GET("/readyz", handleReady(chatStore, svcLogger))
		group.GET("/metrics", gin.WrapH(promhttp.Handler()))

		adminGroup := group.Group("/admin")
		adminGroup.Use(staffAuthMiddleware(verifier, svcLogger))
		adminGroup.Use(adminRateLimitMiddleware(adminLimiter, svcLogger))
		{
			adminGroup.GET("/chats", handleListChats(service, svcLogger))
			adminGroup.GET("/logs", handleListLogs(recorder, svcLogger))
			adminGroup.GET("/logs/stats", handleLogStats(recorder, svcLogger))
		}
	}

	svcLogger.Info("Support chat service registered",
		"websocket_endpoint", cfg.Server.PathPrefix+"/ws",
		"admin_endpoints", cfg.Server.PathPrefix+"/admin/*",
		"metrics_endpoint", cfg.Server.PathPrefix+"/metrics")

	return nil
}

// Shutdown closes all live WebSocket connections and stops background
// goroutines, honoring the context deadline.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	if globalLogger != nil {
		globalLogger.Info("Starting graceful shutdown of support chat service")
	}

	if globalMsgLimiter != nil {
		globalMsgLimiter.StopCleanup()
	}
	if globalAdminLimiter != nil {
		globalAdminLimiter.StopCleanup()
	}

	if globalWSHandler != nil {
		if err := globalWSHandler.ShutdownWithContext(ctx); err != nil {
			if globalLogger != nil {
				globalLogger.Warn("WebSocket handler shutdown error", "error", err)
			}
			return err
		}
	}

	if globalLogger != nil {
		globalLogger.Info("Support chat service shutdown complete")
	}
	return nil
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// staffAuthMiddleware authenticates the request and requires a staff role.
// The credential comes from the jwt cookie or the Authorization header, same
// as the WebSocket upgrade.
func staffAuthMiddleware(verifier *auth.Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.CredentialFromRequest(c.Request)
		if err != nil {
			httperrors.RespondUnauthorized(c, "")
			c.Abort()
			return
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			logger.Warn("Credential rejected on admin endpoint", "error", err)
			httperrors.RespondInvalidToken(c)
			c.Abort()
			return
		}

		if !principal.Role.IsStaff() {
			logger.Warn("Non-staff access to admin endpoint denied",
				"user_id", principal.ID,
				"role", principal.Role)
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func adminRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			httperrors.RespondInternalError(c)
			c.Abort()
			return
		}

		if !limiter.Allow(principal.ID) {
			retryAfterMS := limiter.RetryAfter(principal.ID)
			logger.Warn("Admin rate limit exceeded",
				"user_id", principal.ID,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfterMS)

			// Ceiling so the hint is never zero seconds.
			retryAfterSeconds := (retryAfterMS + 999) / 1000
			if retryAfterSeconds < 1 {
				retryAfterSeconds = 1
			}
			httperrors.RespondTooManyRequests(c, retryAfterSeconds)
			c.Abort()
			return
		}

		c.Next()
	}
}

func principalFromContext(c *gin.Context) (*auth.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := v.(*auth.Principal)
	return principal, ok
}

// handleListChats lists chats by status for staff, newest activity first.
func handleListChats(service *chat.Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			httperrors.RespondInternalError(c)
			return
		}

		status := domain.ChatStatus(c.DefaultQuery("status", string(domain.ChatActive)))
		if status != domain.ChatActive && status != domain.ChatClosed {
			httperrors.RespondBadRequest(c, "status must be 'active' or 'closed'")
			return
		}

		ctx, cancel := util.NewTimeoutContext(constants.DefaultStoreTimeout)
		defer cancel()

		summaries, err := service.ListChats(ctx, principal, status)
		if err != nil {
			util.LogError(logger, "http", "list chats", err, "user_id", principal.ID)
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"chats":  summaries,
			"count":  len(summaries),
			"status": status,
		})
	}
}

// handleListLogs lists audit entries with filters and pagination.
func handleListLogs(recorder *audit.Recorder, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := audit.ListOptions{
			Entity: c.Query("entity"),
			Action: c.Query("action"),
			Page:   parseIntQuery(c, "page", 1),
			Limit:  parseIntQuery(c, "limit", constants.DefaultAuditPageSize),
		}
		if recordID := parseIntQuery(c, "record_id", 0); recordID > 0 {
			opts.RecordID = uint(recordID)
		}
		if opts.Limit > constants.MaxAuditPageSize {
			opts.Limit = constants.MaxAuditPageSize
		}

		ctx, cancel := util.NewTimeoutContext(constants.DefaultStoreTimeout)
		defer cancel()

		result, err := recorder.List(ctx, opts)
		if err != nil {
			util.LogError(logger, "http", "list audit entries", err)
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// handleLogStats aggregates audit entries by action and entity.
func handleLogStats(recorder *audit.Recorder, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := util.NewTimeoutContext(constants.DefaultStoreTimeout)
		defer cancel()

		stats, err := recorder.Stats(ctx)
		if err != nil {
			util.LogError(logger, "http", "aggregate audit stats", err)
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

// handleHealth is the liveness probe.
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady is the readiness probe; it verifies database connectivity.
func handleReady(chatStore *store.ChatStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
		defer cancel()

		if err := chatStore.Ping(ctx); err != nil {
			logger.Warn("Database health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not ready",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
