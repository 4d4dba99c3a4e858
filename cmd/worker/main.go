package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/farmledger/internal/app"
	jobmetrics "github.com/odyssey-erp/farmledger/internal/jobs"
	"github.com/odyssey-erp/farmledger/internal/observability"
	"github.com/odyssey-erp/farmledger/internal/platform/cache"
	"github.com/odyssey-erp/farmledger/internal/platform/db"
	"github.com/odyssey-erp/farmledger/jobs"
)

func main() {
	if app.SkipRuntime("worker") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.Postgres("worker"))
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

	metrics := observability.NewMetrics("worker")
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

	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	postingJob := jobs.NewPostingJob(services.Engine, services.Sweeper, logger, jobMetrics)
	integrityJob := jobs.NewLedgerIntegrityJob(services.Ledger, logger, jobMetrics)

	if cfg.WorkerMetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.WorkerMetricsAddr, logger); err != nil {
				logger.Error("metrics server", slog.Any("error", err))
			}
		}()
	}

	sweepTask, err := jobs.NewSweepTask("")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().Asynq(),
		Logger:      logger,
		Concurrency: cfg.PostingSweepConcurrency + 2,
		RetryDelay:  jobs.RetryDelay(services.Policy),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPostingProcess, Handler: postingJob.HandleProcess},
			{Type: jobs.TaskPostingSweep, Handler: postingJob.HandleSweep},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PostingSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(0), asynq.Unique(cfg.PostingLockTTL)}},
			{Spec: "0 3 * * *", Task: jobs.NewLedgerIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
