package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lahorneada/supportchat"
	"github.com/lahorneada/supportchat/internal/config"
	"github.com/lahorneada/supportchat/internal/constants"
	"github.com/lahorneada/supportchat/internal/domain"
	"github.com/lahorneada/supportchat/internal/store"
)

// initializeLogger builds the process logger from the log configuration.
func initializeLogger(cfg *config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// seedDemoUsers creates a demo customer and admin when the users table is
// empty, so a fresh checkout can exercise the chat flow immediately.
func seedDemoUsers(ctx context.Context, chatStore *store.ChatStore, logger *slog.Logger) error {
	var count int64
	if err := chatStore.DB().WithContext(ctx).Model(&domain.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		logger.Info("Users already present, skipping seed", "count", count)
		return nil
	}

	users := []domain.User{
		{Name: "Demo Customer", Email: "customer@example.com", Role: domain.RoleCustomer},
		{Name: "Demo Admin", Email: "admin@example.com", Role: domain.RoleAdmin},
	}
	for i := range users {
		if err := chatStore.CreateUser(ctx, &users[i]); err != nil {
			return err
		}
		logger.Info("Seeded user",
			"id", users[i].ID,
			"email", users[i].Email,
			"role", users[i].Role)
	}
	return nil
}

// newHTTPServer creates an HTTP server with production-safe timeout defaults.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}
}

func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// runWithSignalChannel is the testable body of main. It blocks until the
// signal channel fires or the server fails.
func runWithSignalChannel(sigChan chan os.Signal, seed bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := initializeLogger(&cfg.Log)
	logger.Info("Server starting", "addr", cfg.Server.Addr(), "prefix", cfg.Server.PathPrefix)

	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	chatStore := store.NewChatStore(db, logger)

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), constants.SchemaTimeout)
	defer schemaCancel()
	if err := chatStore.EnsureSchema(schemaCtx); err != nil {
		return err
	}

	if seed {
		if err := seedDemoUsers(schemaCtx, chatStore, logger); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if err := supportchat.Register(engine, cfg, logger, db); err != nil {
		return err
	}

	server := newHTTPServer(cfg.Server.Addr(), engine)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
	defer cancel()

	if err := supportchat.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Chat service shutdown incomplete", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}

func closeDB(db *gorm.DB, logger *slog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Warn("Could not access underlying database handle", "error", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Database close failed", "error", err)
	}
}

func main() {
	seed := flag.Bool("seed", false, "seed demo users into an empty database")
	flag.Parse()

	if err := runWithSignalChannel(setupSignalHandler(), *seed); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
