// Package main provides the entry point for the extraction queue API
// server.
//
// @title Extraction Queue API
// @version 0.1.0
// @description Per-project extraction job queue: batch enqueue, redo,
// cancel, retry, and stats, fronted by an HTTP API authenticated by
// per-project API tokens or JWTs.
// @license.name Proprietary
// @host localhost:3002
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description API token or JWT (format: "Bearer <token>")
package main

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/rowforge/extractqueue/domain/apitoken"
	"github.com/rowforge/extractqueue/domain/authinfo"
	"github.com/rowforge/extractqueue/domain/extraction"
	"github.com/rowforge/extractqueue/domain/health"
	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/domain/queue/pool"
	"github.com/rowforge/extractqueue/domain/queue/scheduler"
	"github.com/rowforge/extractqueue/domain/queue/worker"
	"github.com/rowforge/extractqueue/internal/config"
	"github.com/rowforge/extractqueue/internal/database"
	"github.com/rowforge/extractqueue/internal/migrate"
	"github.com/rowforge/extractqueue/internal/server"
	"github.com/rowforge/extractqueue/internal/storage"
	"github.com/rowforge/extractqueue/pkg/auth"
	"github.com/rowforge/extractqueue/pkg/logger"
	"github.com/rowforge/extractqueue/pkg/tracing"
)

func main() {
	// Load .env files if present (for local development).
	// Order matters: .env.local overrides .env.
	// Note: Load() won't overwrite existing vars, Overload() will.
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		fx.Provide(logger.NewLogger),
		config.Module,
		database.Module,
		server.Module,
		storage.Module,
		tracing.Module,

		// Apply pending goose migrations before anything touches the schema.
		migrate.Module,
		fx.Invoke(runMigrations),

		// Auth module (API token + JWT verification middleware)
		auth.Module,

		// Domain modules
		health.Module,
		authinfo.Module,
		projects.Module,
		apitoken.Module,
		queue.Module,

		// Queue processing: per-project admission pools, the Worker Loop,
		// the extraction pipeline dispatcher, and the cron-based
		// reconciliation sweep.
		pool.Module,
		extraction.Module,
		worker.Module,
		scheduler.Module,
	).Run()
}

// runMigrations applies pending goose migrations during fx startup, before
// any domain module's OnStart hook can touch the schema.
func runMigrations(lc fx.Lifecycle, m *migrate.Migrator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Up(ctx)
		},
	})
}
