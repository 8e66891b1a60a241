package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/loanbook/internal/app"
	"github.com/odyssey-erp/loanbook/internal/books"
	"github.com/odyssey-erp/loanbook/internal/entries"
	jobmetrics "github.com/odyssey-erp/loanbook/internal/jobs"
	"github.com/odyssey-erp/loanbook/internal/platform/cache"
	"github.com/odyssey-erp/loanbook/internal/platform/db"
	"github.com/odyssey-erp/loanbook/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		slog.Default().Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr}
	client := jobs.NewClient(redisOpts.QueueOpt())
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	integrity := jobs.NewIntegrityJob(
		entries.NewRepository(pool),
		books.NewRepository(pool),
		client,
		logger,
		jobmetrics.NewMetrics(nil),
	)

	cron, err := jobs.DefaultCron()
	if err != nil {
		logger.Error("build cron", slog.Any("error", err))
		os.Exit(1)
	}
	for i := range cron {
		cron[i].Options = append(cron[i].Options, asynq.MaxRetry(3))
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts.QueueOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    integrity.Handlers(),
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
