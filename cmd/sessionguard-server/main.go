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

	"github.com/redis/go-redis/v9"

	"github.com/storefront/sessionguard"
	"github.com/storefront/sessionguard/internal/envconfig"
	"github.com/storefront/sessionguard/metrics/export/prometheus"
	"github.com/storefront/sessionguard/middleware"
)

func main() {
	cfg, err := envconfig.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	engineCfg := cfg.Engine()
	// Weak secrets are fatal before anything else is opened.
	if err := sessionguard.ValidateSecrets(engineCfg.JWT.AccessSecret, engineCfg.JWT.RefreshSecret); err != nil {
		logger.Error("refusing to start with weak token secrets", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	builder := sessionguard.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithLogger(logger)
	if cfg.AuditLog {
		builder = builder.WithAuditSink(sessionguard.NewSlogSink(logger.With("component", "audit")))
	}
	engine, err := builder.Build()
	if err != nil {
		logger.Error("engine build failed", "err", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if h := engine.Health(ctx); !h.RedisAvailable {
		logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr)
	}

	sweeper := engine.NewSweeper(sessionguard.SweeperConfig{})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	handlers := middleware.NewHandlers(engine, middleware.CookieConfig{
		Domain:   cfg.CookieDomain,
		Insecure: cfg.CookieInsecure,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(engine, handlers, prometheus.NewExporter(engine).Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	logger.Info("server stopped")
}
