package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vitalsdash/internal"
	"vitalsdash/internal/config"
	"vitalsdash/internal/container"
	"vitalsdash/internal/errors"
	"vitalsdash/ui"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// initDatabase connects to PostgreSQL when DATABASE_URL is set
func initDatabase(ctx context.Context, appConfig *config.Config) (*sqlx.DB, error) {
	if appConfig.Database.URL == "" {
		return nil, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", appConfig.Database.URL)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to connect to database"))
	}
	return db, nil
}

// newLogger builds the process logger from the loaded configuration
func newLogger(appConfig *config.Config) *internal.Logger {
	level := internal.ParseLogLevel(appConfig.Log.Level)
	json := strings.EqualFold(appConfig.Log.Format, "json")
	return internal.NewLoggerWithOutput(level, os.Stderr, json)
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(appConfig)
	internal.DefaultLogger = logger
	gin.SetMode(appConfig.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(appConfig, logger)
	if err != nil {
		logger.Error("failed to create application container: %v", err)
		os.Exit(1)
	}

	db, err := initDatabase(ctx, appConfig)
	if err != nil {
		logger.Error("failed to initialize database: %v", err)
		os.Exit(1)
	}
	if db != nil {
		if err := appContainer.InitWithDatabase(ctx, db); err != nil {
			logger.Error("failed to initialize container: %v", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, snapshots are kept in memory")
	}

	if err := appContainer.Build(); err != nil {
		logger.Error("failed to build application: %v", err)
		os.Exit(1)
	}

	apiRouter, err := appContainer.APIRouter()
	if err != nil {
		logger.Error("failed to build API router: %v", err)
		os.Exit(1)
	}

	server, err := ui.NewServer(appContainer.Dashboard, apiRouter, appContainer.SSEHub, logger)
	if err != nil {
		logger.Error("failed to initialize server: %v", err)
		os.Exit(1)
	}

	// Warm the cache so the first page load does not wait on upstream
	if err := appContainer.Scheduler.RunNow(ctx); err != nil {
		logger.Warn("initial refresh failed: %v", err)
	}
	appContainer.Scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(":" + appConfig.Server.Port)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown: %v", err)
	}
	if err := appContainer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("container shutdown: %v", err)
	}
}
