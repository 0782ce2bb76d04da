package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"

	"gate-admission/config"
	"gate-admission/internal/handlers"
	"gate-admission/internal/services"
	"gate-admission/monitoring"
	"gate-admission/security"
	"gate-admission/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		if cfg.QueueStore == "redis" {
			return err
		}
		slog.Warn("running without redis, rate limiting disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := newQueueStore(cfg, redisClient)
	if err != nil {
		return err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	monitor := monitoring.NewMonitor(registry, redisClient)

	var verificationLog services.VerificationLog = services.NewMemoryVerificationLog()
	if redisClient != nil {
		verificationLog = services.NewRedisVerificationLog(redisClient)
	}

	events := services.NewPocketBaseEventDirectory(app, cfg.DefaultGates)
	metricsService := services.NewGateMetricsService(verificationLog, events, utils.RealClock{})

	queueService, err := services.NewGateQueueService(store, events, services.PolicyFromConfig(cfg),
		services.WithNotifier(newNotifier(cfg)),
		services.WithMetricsRecorder(metricsService),
		services.WithObserver(monitor),
	)
	if err != nil {
		return err
	}

	reconciler, err := services.NewGateReconciler(queueService, cfg.ReconcileInterval)
	if err != nil {
		return err
	}

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(queueService, metricsService)
	adminHandler := handlers.NewAdminHandler(queueService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		restored, err := queueService.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore gate queue: %w", err)
		}
		log.Printf("Restored %d active queue entries", restored)

		go queueService.RunScheduler(ctx)
		if err := reconciler.Start(ctx); err != nil {
			return err
		}
		if cfg.EnableMetrics {
			go monitor.Run(ctx, cfg.ReconcileInterval)
		}

		var limiter *security.RateLimiter
		if redisClient != nil {
			limiter = security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)
		}
		limited := func(scope string) func(e *core.RequestEvent) error {
			if limiter == nil {
				return func(e *core.RequestEvent) error { return e.Next() }
			}
			return limiter.QueueRateLimit(scope)
		}

		// Gate queue endpoints
		e.Router.GET("/api/v1/events/{eventId}/gates", queueHandler.ListGates)
		e.Router.POST("/api/v1/events/{eventId}/gates/{gateId}/queue", queueHandler.JoinQueue).
			Bind(apis.RequireAuth()).
			BindFunc(limited("join"))
		e.Router.GET("/api/v1/events/{eventId}/queue/me", queueHandler.GetMyEntry).Bind(apis.RequireAuth())
		e.Router.GET("/api/v1/events/{eventId}/traffic", queueHandler.GetGateTraffic)
		e.Router.POST("/api/v1/gate/verify", queueHandler.VerifyToken).BindFunc(limited("verify"))
		e.Router.POST("/api/v1/queue/entries/{entryId}/release", queueHandler.ReleaseEntry).Bind(apis.RequireAuth())
		e.Router.GET("/api/v1/queue/entries/{entryId}/qr", queueHandler.GetEntryQR).Bind(apis.RequireAuth())

		// Metrics endpoints
		e.Router.GET("/api/v1/events/{eventId}/metrics/summary", queueHandler.GetMetricsSummary)
		e.Router.GET("/api/v1/events/{eventId}/metrics/flow", queueHandler.GetRealtimeFlow)

		// Admin endpoints
		admin := e.Router.Group("/api/v1/admin")
		admin.Bind(apis.RequireSuperuserAuth())
		admin.POST("/events/{eventId}/gates/{gateId}/promote", adminHandler.PromoteNext)
		admin.POST("/events/{eventId}/gates/{gateId}/recompute", adminHandler.Recompute)
		admin.POST("/queue/entries/{entryId}/expire", adminHandler.ExpireEntry)
		admin.POST("/reconcile", adminHandler.Reconcile)

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(monitor.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if redisClient != nil {
				if err := utils.RedisHealthCheck(redisClient); err != nil {
					return e.JSON(http.StatusServiceUnavailable, map[string]string{
						"status": "unhealthy",
						"error":  err.Error(),
					})
				}
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")
		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		log.Println("Shutdown signal received, cleaning up...")
		cancel()
		if err := reconciler.Shutdown(); err != nil {
			slog.Warn("reconciler shutdown failed", "error", err)
		}
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// newQueueStore picks the queue store backend named by QUEUE_STORE.
func newQueueStore(cfg *config.Config, redisClient *redis.Client) (services.QueueStore, error) {
	switch strings.ToLower(cfg.QueueStore) {
	case "memory":
		return services.NewMemoryQueueStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("queue store redis: no redis client")
		}
		return services.NewRedisQueueStore(redisClient), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("queue store postgres: DATABASE_URL is not set")
		}
		db, err := services.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := services.NewGormQueueStore(db)
		if err := store.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate gate queue table: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown queue store %q", cfg.QueueStore)
}

// newNotifier pushes queue updates over PubNub when keys are configured.
func newNotifier(cfg *config.Config) services.Notifier {
	if cfg.PubNubPublishKey == "" || cfg.PubNubSubscribeKey == "" {
		slog.Warn("pubnub keys not set, queue notifications disabled")
		return services.NoopNotifier{}
	}

	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey
	pnConfig.UUID = "gate-admission"

	return services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig), utils.NewCircuitBreaker("pubnub"))
}
