// Package main provides the entry point for the workforce monitoring
// server: it receives telemetry from endpoint agents, maintains bounded
// in-memory event stores, and pushes realtime updates to dashboards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lenko-d/workforce-monitoring-agent/internal/api"
	"github.com/lenko-d/workforce-monitoring-agent/internal/api/gateway"
	"github.com/lenko-d/workforce-monitoring-agent/internal/config"
	"github.com/lenko-d/workforce-monitoring-agent/internal/engine"
	"github.com/lenko-d/workforce-monitoring-agent/internal/observability"
	"github.com/lenko-d/workforce-monitoring-agent/internal/realtime"
	"github.com/lenko-d/workforce-monitoring-agent/internal/retention"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("workforce-monitoring %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if loaded, err := config.Load(*configPath); err == nil {
		cfg = loaded
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	cfg.Logging.ServiceVersion = Version

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting workforce monitoring server",
		zap.String("version", Version),
		zap.String("config", *configPath))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sink and engine reference each other (engine publishes through the
	// hub, the hub forwards websocket agent submissions to the engine), so
	// the hub is created first and wired afterwards.
	hub := realtime.New(cfg.Realtime, nil, metrics, logger.Named("realtime"))
	eng := engine.New(cfg.Stores, hub, metrics, logger.Named("engine"))
	hub.SetIngestor(eng)
	go hub.Run(ctx)

	sweeper := retention.New(cfg.Retention, eng, metrics, logger.Named("retention"))
	go sweeper.Run(ctx)

	var ingestMiddleware []func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: os.Getenv(cfg.RateLimit.RedisPasswordEnv),
			DB:       cfg.RateLimit.RedisDB,
		})
		limiter := gateway.NewRateLimiter(redisClient, gateway.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			IncludeHeaders:    cfg.RateLimit.IncludeHeaders,
		}, logger.Named("ratelimit"))
		ingestMiddleware = append(ingestMiddleware, limiter.Middleware(nil))
		logger.Info("ingest rate limiting enabled",
			zap.String("redis", cfg.RateLimit.RedisAddr),
			zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute))
	}

	apiServer := api.New(eng, hub, cfg.Ingest, metrics, registry, Version, logger.Named("api"))
	router := apiServer.Router(cfg.Server.RequestTimeout, ingestMiddleware...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}
