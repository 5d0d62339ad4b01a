package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vitalsdash/internal"
	"vitalsdash/internal/config"
	"vitalsdash/internal/container"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// main serves only the JSON API, without the HTML dashboard
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := internal.NewLoggerWithOutput(
		internal.ParseLogLevel(appConfig.Log.Level),
		os.Stderr,
		strings.EqualFold(appConfig.Log.Format, "json"),
	)
	internal.DefaultLogger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(appConfig, logger)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}

	if appConfig.Database.URL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", appConfig.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := appContainer.InitWithDatabase(ctx, db); err != nil {
			log.Fatalf("Failed to initialize container: %v", err)
		}
	}

	if err := appContainer.Build(); err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	router, err := appContainer.APIRouter()
	if err != nil {
		log.Fatalf("Failed to build API router: %v", err)
	}

	appContainer.Scheduler.Start()

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting JSON API on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown: %v", err)
	}
	if err := appContainer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("container shutdown: %v", err)
	}
}
