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

	"github.com/odyssey-erp/loanbook/internal/app"
	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/books"
	"github.com/odyssey-erp/loanbook/internal/entries"
	"github.com/odyssey-erp/loanbook/internal/events"
	"github.com/odyssey-erp/loanbook/internal/observability"
	"github.com/odyssey-erp/loanbook/internal/platform/cache"
	"github.com/odyssey-erp/loanbook/internal/platform/db"
	"github.com/odyssey-erp/loanbook/jobs"
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
	if err := cfg.ValidateServer(); err != nil {
		slog.Default().Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts.QueueOpt())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts.QueueOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	}

	metrics := observability.NewMetrics("loanbook")

	booksRepo := books.NewRepository(dbpool)
	booksService := books.NewService(booksRepo, logger)
	booksHandler := books.NewHandler(logger, booksService)

	entriesRepo := entries.NewRepository(dbpool)
	entriesService := entries.NewService(entriesRepo, publisher, jobClient, logger)
	entriesHandler := entries.NewHandler(logger, entriesService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Verifier:       auth.NewVerifier(cfg.JWTSecret),
		BooksHandler:   booksHandler,
		EntriesHandler: entriesHandler,
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
