package container

import (
	"context"
	"fmt"

	"vitalsdash/adapters/api"
	"vitalsdash/adapters/memory"
	"vitalsdash/adapters/postgres"
	"vitalsdash/app"
	"vitalsdash/internal"
	httpapi "vitalsdash/internal/api"
	"vitalsdash/internal/config"
	"vitalsdash/internal/errors"
	"vitalsdash/internal/migration"
	"vitalsdash/internal/scheduler"
	"vitalsdash/ports"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Adapters
	Source    ports.MetricSource
	Snapshots ports.SnapshotRepository

	// Application
	Dashboard *app.DashboardService
	SSEHub    *httpapi.SSEHub
	Scheduler *scheduler.Scheduler

	client *api.Client
}

// New creates the container with an upstream client and in-memory snapshots.
// Call InitWithDatabase to persist snapshots, then Build.
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.ConfigInvalid("config cannot be nil")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}

	clientConfig := api.DefaultClientConfig(cfg.Upstream.BaseURLWithSlash())
	clientConfig.Token = cfg.Upstream.Token
	clientConfig.Timeout = cfg.Upstream.Timeout
	clientConfig.RateLimit = cfg.Upstream.RateLimit

	client, err := api.NewClient(clientConfig, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create upstream client")
	}

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Source:    client,
		Snapshots: memory.NewSnapshotRepository(),
		client:    client,
	}, nil
}

// InitWithDatabase migrates db and switches snapshot storage to PostgreSQL
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return errors.ConfigInvalid("database connection cannot be nil")
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "database connection test failed"))
	}

	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		return errors.Wrap(err, "database migration failed")
	}

	c.DB = db
	c.Snapshots = postgres.NewSnapshotRepository(db)
	c.Logger.Info("snapshots persisted in PostgreSQL (schema %s)", runner.Version())
	return nil
}

// Build creates the dashboard service, the event hub and the refresh scheduler
func (c *Container) Build() error {
	if c.Dashboard != nil {
		return nil
	}

	c.Dashboard = app.NewDashboardService(c.Source, c.Snapshots, app.DashboardConfig{
		SnapshotKeep:  c.Config.Database.SnapshotKeep,
		DefaultOffset: c.Config.Prediction.Offset,
	}, c.Logger)

	c.SSEHub = httpapi.NewSSEHub(0, c.Logger)
	c.Dashboard.OnRefresh(c.SSEHub.PublishRefresh)

	sched, err := scheduler.New(c.Config.Refresh.Schedule, c.Config.Refresh.Timeout, c.Dashboard, c.Logger)
	if err != nil {
		return err
	}
	c.Scheduler = sched
	return nil
}

// APIRouter returns the JSON API router for the dashboard service
func (c *Container) APIRouter() (chi.Router, error) {
	if c.Dashboard == nil {
		return nil, fmt.Errorf("container not built")
	}
	return httpapi.NewRouter(c.Dashboard, c.Logger), nil
}

// Shutdown stops the scheduler and releases connections
func (c *Container) Shutdown(ctx context.Context) error {
	var firstErr error
	if c.Scheduler != nil {
		if err := c.Scheduler.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if c.client != nil {
		c.client.Close()
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && firstErr == nil {
			firstErr = errors.WithCode(errors.CodeDatabaseError, err)
		}
	}
	return firstErr
}
