package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ueno-ryu/fallback-gateway/auth"
	"github.com/ueno-ryu/fallback-gateway/config"
	"github.com/ueno-ryu/fallback-gateway/middleware"
	"github.com/ueno-ryu/fallback-gateway/repositories"
	"github.com/ueno-ryu/fallback-gateway/repositories/postgres"
	"github.com/ueno-ryu/fallback-gateway/services/fallback"
	"github.com/ueno-ryu/fallback-gateway/services/invoker"
	"github.com/ueno-ryu/fallback-gateway/services/recorder"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when no database is configured
	Logger *zap.Logger

	// Execution store
	Executions repositories.ExecutionRepository // nil when DB is nil
	Recorder   *recorder.Service                // nil when DB is nil

	// Fallback chain
	Invoker  invoker.Invoker
	Executor *fallback.Executor

	// Auth; nil when auth is disabled outside production
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initExecutor(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initExecutor builds the CLI invoker and the fallback executor over the
// configured backend priority list.
func (d *Dependencies) initExecutor(cfg *config.Config) error {
	d.Invoker = invoker.NewCLIInvoker(cfg.Fallback.GeminiBinary, d.Logger)

	executor, err := fallback.NewExecutor(fallback.ExecutorConfig{
		Backends:     cfg.Fallback.Backends,
		RetryBackoff: cfg.Fallback.RetryBackoff,
		CycleBackoff: cfg.Fallback.CycleBackoff,
	}, d.Invoker, d.Logger)
	if err != nil {
		return err
	}

	d.Executor = executor
	d.Logger.Info("fallback executor initialized",
		zap.Strings("backends", cfg.Fallback.Backends),
		zap.String("binary", cfg.Fallback.GeminiBinary))
	return nil
}

// initDatabase initializes the PostgreSQL connection, schema, repository
// and the async recorder. A nil database config disables recording and the
// read endpoints rather than failing startup.
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Warn("no database configured, execution recording disabled")
		return nil
	}

	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.DB = db
	d.Executions = postgres.NewExecutionRepository(db, d.Logger)
	d.Recorder = recorder.New(d.Executions, d.Logger, recorder.DefaultConfig())
	if err := d.Recorder.Start(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to start recorder: %w", err)
	}

	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.Secret == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("auth secret is required in production")
		}
		d.Logger.Warn("auth secret not configured, API routes are unauthenticated")
		return nil
	}

	validator, err := auth.NewValidator(cfg.Auth)
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("JWT auth initialized")
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Recorder != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Recorder.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop recorder: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
