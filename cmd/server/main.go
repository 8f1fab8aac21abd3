/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the asset ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, environment, then flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Build the inventory engine and integrity scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -env     Path to a .env file (default: .env in the working directory)
  -port    HTTP server port (APP_PORT, default 8080)
  -db      SQLite database path (DB_PATH, default inventory.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  APP_PORT, DB_PATH, LOG_LEVEL, INTEGRITY_CRON, CORS_ORIGINS
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the integrity scheduler
  4. Close database connection
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/asset-ledger/api"
	"github.com/warp/asset-ledger/config"
	"github.com/warp/asset-ledger/inventory"
	"github.com/warp/asset-ledger/logger"
	"github.com/warp/asset-ledger/store/sqlite"
)

func main() {
	// Flags
	envFile := flag.String("env", "", "Path to .env file")
	port := flag.String("port", "", "HTTP server port (overrides APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Log.Level))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		baseLogger.Fatal("failed to initialize database", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer store.Close()

	engine := inventory.NewEngine(store, inventory.WithLogger(logger.Named(baseLogger, "inventory")))

	sched := api.NewIntegrityScheduler(engine, cfg.Integrity.CronSchedule, logger.Named(baseLogger, "integrity"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start integrity scheduler", zap.Error(err))
	}
	defer sched.Stop()

	handler := api.NewHandler(engine, sched, logger.Named(baseLogger, "api"))
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		baseLogger.Info("server starting", zap.String("addr", srv.Addr), zap.String("db", cfg.Database.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	baseLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		baseLogger.Error("server forced to shutdown", zap.Error(err))
	}

	baseLogger.Info("server stopped")
}
