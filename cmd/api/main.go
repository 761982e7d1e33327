package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/background"
	"github.com/BradenHooton/authguard/internal/config"
	"github.com/BradenHooton/authguard/internal/database"
	"github.com/BradenHooton/authguard/internal/handlers"
	"github.com/BradenHooton/authguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/authguard/internal/middleware"
	"github.com/BradenHooton/authguard/internal/repositories"
	"github.com/BradenHooton/authguard/internal/routes"
	"github.com/BradenHooton/authguard/internal/services"
	pkgauth "github.com/BradenHooton/authguard/pkg/auth"
	pkghttp "github.com/BradenHooton/authguard/pkg/http"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("store", cfg.Security.StoreBackend),
		slog.Any("notify_channels", cfg.Notify.Channels),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	securityMetrics, err := metrics.NewSecurityMetrics(metrics.Options{Registerer: registry})
	if err != nil {
		logger.Error("failed to register security metrics", slog.Any("error", err))
		os.Exit(1)
	}
	httpMetrics, err := middlewareCustom.NewHTTPMetrics(middlewareCustom.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		logger.Error("failed to register http metrics", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger, pkglogger.NewFingerprinter([]byte(cfg.Auth.FingerprintKey)))

	// Attempt store
	store, healthCheck, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open attempt store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	notifiers, err := buildNotifiers(ctx, cfg, auditLogger, logger)
	if err != nil {
		logger.Error("failed to initialize notifiers", slog.Any("error", err))
		os.Exit(1)
	}

	// Security core
	manager := services.NewSecurityManager(store, securityConfig(cfg),
		services.WithLogger(logger),
		services.WithAuditLogger(auditLogger),
		services.WithMetrics(securityMetrics),
		services.WithNotifiers(notifiers...),
	)

	cleanupManager := background.NewCleanupManager(manager, logger, cfg.Security.CleanupInterval, cfg.Security.RetentionHorizon)

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(httpMetrics.Handler)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		Security: handlers.NewSecurityHandler(manager, ipConfig, auditLogger, logger, cfg.Security.RetentionHorizon).
			WithRequestContextFallback(cfg.Server.RequestContextFallback),
		Health:   handlers.NewHealthHandler(cfg.Security.StoreBackend, healthCheck, logger),
		Tokens:   tokenManager,
		RateLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
			IPConfig:          ipConfig,
		},
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	go cleanupManager.Start(ctx)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", slog.Any("error", err))
	}

	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	exitCode := 0
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		exitCode = 1
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("security manager shutdown error", slog.Any("error", err))
		exitCode = 1
	}

	closeStore()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	logger.Info("server stopped gracefully")
}

// securityConfig maps environment configuration onto the security core
func securityConfig(cfg *config.Config) services.SecurityManagerConfig {
	s := cfg.Security
	return services.SecurityManagerConfig{
		RateLimit: services.RateLimitConfig{
			MaxAttempts:        s.MaxAttempts,
			Window:             s.Window,
			LockoutDuration:    s.LockoutDuration,
			BackoffExponentCap: s.BackoffExponentCap,
			RetentionHorizon:   s.RetentionHorizon,
			EvictionInterval:   s.EvictionInterval,
		},
		Risk: services.RiskConfig{
			Lookback: time.Hour,
			Location: s.RiskLocation,
		},
		Challenge: services.ChallengePolicyConfig{
			Enabled:   s.ChallengeEnabled,
			Threshold: s.ChallengeThreshold,
		},
		Password: pkgauth.PasswordPolicy{
			StrongThreshold: s.PasswordStrongThreshold,
			Locale:          s.PasswordLocale,
		},
		Stats: services.StatsConfig{
			RecentWindow: time.Hour,
			TopNetworks:  s.StatsTopNetworks,
			Location:     s.RiskLocation,
		},
		Notifications: services.DispatcherConfig{
			QueueSize: cfg.Notify.QueueSize,
			Workers:   cfg.Notify.Workers,
			Timeout:   cfg.Notify.Timeout,
		},
	}
}

// openStore connects the configured attempt store backend. The returned close
// function is idempotent.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.AttemptStore, handlers.HealthCheck, func(), error) {
	switch cfg.Security.StoreBackend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis connection established", slog.String("addr", cfg.Redis.Addr))

		store := repositories.NewRedisAttemptStore(client, repositories.RedisStoreConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			KeyTTL:    cfg.Redis.KeyTTL,
		})
		health := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return store, health, sync.OnceFunc(func() { _ = client.Close() }), nil

	case config.StorePostgres:
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return repositories.NewPostgresAttemptStore(db.Pool), db.HealthCheck, sync.OnceFunc(db.Close), nil

	default:
		return repositories.NewMemoryAttemptStore(cfg.Security.MemoryShards), nil, func() {}, nil
	}
}

// buildNotifiers creates one notifier per enabled channel
func buildNotifiers(ctx context.Context, cfg *config.Config, audit *pkglogger.AuditLogger, logger *slog.Logger) ([]services.Notifier, error) {
	var notifiers []services.Notifier

	if cfg.Notify.HasChannel(config.ChannelLog) {
		notifiers = append(notifiers, services.NewLogNotifier(audit))
	}

	if cfg.Notify.HasChannel(config.ChannelSES) {
		ses, err := services.NewSESNotifier(ctx, cfg.Notify.AWSRegion, cfg.Notify.FromAddress, cfg.Notify.Recipients, logger)
		if err != nil {
			return nil, fmt.Errorf("ses notifier: %w", err)
		}
		notifiers = append(notifiers, ses)
	}

	if cfg.Notify.HasChannel(config.ChannelKafka) {
		kafka, err := services.NewKafkaNotifier(services.KafkaNotifierConfig{
			Brokers:  cfg.Notify.KafkaBrokers,
			Topic:    cfg.Notify.KafkaTopic,
			ClientID: cfg.Notify.KafkaClientID,
			Timeout:  cfg.Notify.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka notifier: %w", err)
		}
		notifiers = append(notifiers, kafka)
	}

	return notifiers, nil
}
