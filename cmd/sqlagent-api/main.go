package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sqlagent/sqlagent/internal/api"
	"github.com/sqlagent/sqlagent/internal/app"
	"github.com/sqlagent/sqlagent/internal/auth"
	"github.com/sqlagent/sqlagent/internal/config"
	"github.com/sqlagent/sqlagent/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlagent-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to build runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = rt.Close() }()

	deps := api.Dependencies{
		Logger:   logger,
		Agent:    rt.Agent,
		Gateway:  rt.Gateway,
		Recorder: rt.Recorder,
		Readiness: api.CombineReadinessChecks(
			rt.Readiness,
			api.CheckDatabaseDSN(cfg),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if rt.History != nil {
		deps.History = rt.History
	}
	if rt.Maintenance != nil {
		deps.Maintenance = rt.Maintenance
		go func() {
			if err := rt.Maintenance.Run(ctx); err != nil {
				logger.Error("maintenance loop stopped", slog.Any("error", err))
			}
		}()
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("db_driver", cfg.Database.Driver),
			slog.String("model_provider", cfg.Model.Provider),
			slog.Bool("history", cfg.History.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
