package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/farmledger/cmd/farmledger/cli"
	"github.com/odyssey-erp/farmledger/internal/app"
	"github.com/odyssey-erp/farmledger/internal/observability"
	"github.com/odyssey-erp/farmledger/internal/platform/cache"
	"github.com/odyssey-erp/farmledger/internal/platform/db"
	postinghttp "github.com/odyssey-erp/farmledger/internal/posting/http"
	"github.com/odyssey-erp/farmledger/jobs"
	"github.com/odyssey-erp/farmledger/migrations"
)

func main() {
	if app.SkipRuntime("server") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, "server")

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCLI(ctx, cfg, os.Args[2:]))
	}

	if cfg.MigrationsAuto {
		if err := db.Migrate(migrations.FS, ".", cfg.PGDSN); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.Postgres("server"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics("server")
	services, err := app.NewServices(app.ServiceDeps{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Redis:      redisClient,
		Registerer: metrics.Registerer(),
	})
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(cfg.Redis().Asynq())
	defer inspector.Close()
	jobClient := jobs.NewClient(cfg.Redis().Asynq(), cfg.PostingMaxAttempts)
	defer jobClient.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PostingHandler: postinghttp.NewHandler(logger, services.Events, services.Engine, services.Ledger).WithScheduler(jobClient),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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

func runJobsCLI(ctx context.Context, cfg *app.Config, args []string) int {
	opts := cfg.Redis().Asynq()
	client := asynq.NewClient(opts)
	defer client.Close()
	inspector := asynq.NewInspector(opts)
	defer inspector.Close()
	jobsCLI, err := cli.NewJobsCLI(client, inspector, cfg.PostingMaxAttempts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return jobsCLI.Run(ctx, args, os.Stdout, os.Stderr)
}
