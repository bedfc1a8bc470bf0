package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/voidxp/voidgate/internal/account"
	"github.com/voidxp/voidgate/internal/attachment"
	"github.com/voidxp/voidgate/internal/audit"
	"github.com/voidxp/voidgate/internal/config"
	"github.com/voidxp/voidgate/internal/dispatch"
	"github.com/voidxp/voidgate/internal/gateway"
	"github.com/voidxp/voidgate/internal/identity"
	"github.com/voidxp/voidgate/internal/normalize"
	"github.com/voidxp/voidgate/internal/quota"
	"github.com/voidxp/voidgate/internal/router"
	"github.com/voidxp/voidgate/internal/search"
	"github.com/voidxp/voidgate/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Local development keeps secrets in .env; absence is fine.
	_ = godotenv.Load()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(bootLogger)

	// Load configuration
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (registered accounts and audit persistence will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (tier cache disabled, quota counts fall back to memory)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	signer, err := identity.NewSigner(cfg.Auth.SigningSecret, cfg.Auth.SessionTTL, cfg.Auth.AnonymousTTL)
	if err != nil {
		logger.Error("failed to build token signer", "error", err)
		os.Exit(1)
	}

	// Anonymous counts are process-local on purpose; registered counts
	// live in Redis so every replica sees the same window.
	accounts := account.NewStore(dbPool, rdb, cfg.Quota.TierLimits, cfg.Quota.DefaultTier)
	var registeredCounts quota.CounterStore
	if rdb != nil {
		registeredCounts = quota.NewRedisStore(rdb)
	} else {
		logger.Warn("registered quota counts are process-local without redis")
		registeredCounts = quota.NewMemStore()
	}
	enforcer := quota.NewEnforcer(quota.NewMemStore(), registeredCounts, accounts)

	// Build provider registry
	registry, err := router.BuildRegistry(loader.Providers())
	if err != nil {
		logger.Error("invalid provider catalog", "error", err)
		os.Exit(1)
	}
	configured := 0
	for _, d := range registry.List() {
		if d.Configured() {
			configured++
		}
	}
	logger.Info("provider registry built",
		"providers", len(registry.List()),
		"configured", configured,
	)

	metrics := telemetry.NewMetrics()
	dispatcher := dispatch.NewDispatcher(dispatch.NewHTTPTransport(registry), metrics)

	auditSink := audit.NewPGSink(dbPool)
	emitter := audit.NewEmitter(auditSink, metrics)

	normalizer := normalize.New(
		attachment.NewResolver(),
		search.NewService(cfg.Search),
		emitter,
		cfg.Gateway.SystemPrompt,
	)

	handler := gateway.NewHandler(gateway.Deps{
		Signer:       signer,
		Quota:        enforcer,
		Registry:     registry,
		Normalizer:   normalizer,
		Dispatcher:   dispatcher,
		Accounts:     accounts,
		Analytics:    auditSink,
		Audit:        emitter,
		Metrics:      metrics,
		MaxBodyBytes: cfg.Gateway.MaxBodyBytes,
		Version:      version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(cfg.Gateway.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.MetricsPort),
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics listener starting", "addr", metricsSrv.Addr)
		errCh <- metricsSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Warn("metrics listener shutdown failed", "error", err)
	}
	if err := emitter.Close(ctx); err != nil {
		logger.Warn("audit emitter did not flush in time", "error", err)
	}
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("gateway stopped")
}

func buildLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
