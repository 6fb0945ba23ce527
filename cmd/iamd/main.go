package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	st, closeStore, err := app.OpenStore(ctx, cfg, cfg.AutoMigrate, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	deps := app.Deps{
		Store:   st,
		Metrics: observability.NewMetrics(),
		Logger:  logger,
	}

	var jobHandler *jobs.Handler
	redisClient, err := app.OpenRedis(ctx, cfg)
	switch {
	case err != nil:
		logger.Warn("redis unavailable, permission cache and mail delivery disabled", slog.Any("error", err))
	case redisClient != nil:
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		deps.Redis = redisClient

		jobClient, err := jobs.NewClient(cfg.RedisOpts())
		if err != nil {
			logger.Error("job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		deps.Notifier = jobClient

		inspector := asynq.NewInspector(cfg.RedisOpts())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	services, err := app.NewServices(cfg, deps)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.SeedOnStart {
		report, err := services.Seeder.Run(ctx, cfg.SeedOptions())
		if err != nil {
			logger.Error("seed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("seed applied",
			slog.Int("permissions_created", report.PermissionsCreated),
			slog.Int("roles_created", report.RolesCreated),
			slog.Bool("admin_created", report.AdminCreated))
	}

	params := services.HTTPHandlers(cfg, deps)
	params.JobHandler = jobHandler
	router := app.NewRouter(params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
