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

	"github.com/odyssey-erp/loanbook/internal/app"
	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/internal/backend"
	"github.com/odyssey-erp/loanbook/internal/gateway"
	"github.com/odyssey-erp/loanbook/internal/netmon"
	"github.com/odyssey-erp/loanbook/internal/observability"
	"github.com/odyssey-erp/loanbook/internal/offline"
	"github.com/odyssey-erp/loanbook/internal/platform/cache"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping gateway startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.ValidateGateway(); err != nil {
		slog.Default().Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	sess, err := auth.SessionFromToken(cfg.SessionToken)
	if err != nil {
		logger.Error("read session token", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics("loanbook_gateway")

	monitor := netmon.New(cfg.BackendURL,
		netmon.WithInterval(cfg.ProbeInterval),
		netmon.WithTimeout(cfg.ProbeTimeout),
		netmon.WithLogger(logger),
		netmon.WithRegisterer(metrics.Registerer()),
	)
	go monitor.Run(ctx)

	store, closeStore, err := openCache(ctx, cfg)
	if err != nil {
		logger.Error("open cache", slog.String("backend", cfg.CacheBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("cache close", slog.Any("error", err))
		}
	}()

	cacheMetrics, err := offline.NewMetrics(metrics.Registerer())
	if err != nil {
		logger.Error("register cache metrics", slog.Any("error", err))
		os.Exit(1)
	}
	coord := offline.NewCoordinator(store, monitor,
		offline.WithTTL(cfg.CacheTTL),
		offline.WithLogger(logger),
		offline.WithMetrics(cacheMetrics),
	)

	service := gateway.NewService(gateway.Config{
		Session:     sess,
		Coordinator: coord,
		Backend:     backend.NewClient(cfg.BackendURL, cfg.BackendTimeout),
		Locale:      cfg.Locale,
		Logger:      logger,
	})

	router := app.NewGatewayRouter(app.GatewayRouterParams{
		Logger:  logger,
		Config:  cfg,
		Handler: gateway.NewHandler(logger, service),
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.GatewayAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting gateway",
			slog.String("addr", cfg.GatewayAddr),
			slog.String("backend", cfg.BackendURL),
			slog.String("user_id", sess.UserID),
			slog.String("cache", cfg.CacheBackend))
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

func openCache(ctx context.Context, cfg *app.Config) (offline.Cache, func() error, error) {
	switch cfg.CacheBackend {
	case app.CacheRedis:
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, nil, err
		}
		return offline.NewRedisCache(client, cfg.CacheRetention), client.Close, nil
	case app.CacheSQLite:
		store, err := offline.OpenSQLiteCache(ctx, cfg.CacheSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case app.CacheMemory:
		return offline.NewMemoryCache(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}
