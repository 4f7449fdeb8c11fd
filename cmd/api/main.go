package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/tandemap/internal/adapters/http"
	natsadapter "github.com/samirrijal/tandemap/internal/adapters/nats"
	"github.com/samirrijal/tandemap/internal/adapters/postgres"
	"github.com/samirrijal/tandemap/internal/adapters/redisgeo"
	"github.com/samirrijal/tandemap/internal/adapters/valkey"
	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/core/usecases"
	"github.com/samirrijal/tandemap/internal/pkg/config"
	"github.com/samirrijal/tandemap/internal/pkg/logging"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
	"github.com/samirrijal/tandemap/internal/pkg/telemetry"
	"github.com/samirrijal/tandemap/internal/workflows"
)

func main() {
	cfg, err := config.Load("tandemap-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.Enabled)
	if err != nil {
		slog.Warn("telemetry init failed", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), 0)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	candidateRepo := postgres.NewCandidateRepo(db)
	presenceRepo := postgres.NewPresenceRepo(db)
	pointRepo := postgres.NewPointRepo(db)

	// Cache and presence meta
	var (
		cacheSvc      ports.CacheService
		presenceStore ports.PresenceStore
	)
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
		presenceStore = valkey.NewPresenceStore(cache.Client())
	}

	// Geo index
	var (
		primary ports.GeoQueryService
		geo     http.Pinger
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locator := redisgeo.NewLocator(rdb, cfg.Redis.GeoKey, candidateRepo)
		primary = locator
		geo = locator
	}

	candidates := usecases.NewCandidateService(primary, candidateRepo, cacheSvc, usecases.CandidateServiceConfig{
		FallbackRegion:      cfg.Discovery.DefaultRegion,
		FallbackInSecondary: cfg.Discovery.FallbackInSecondary,
		CacheTTLSeconds:     cfg.Discovery.CacheTTLSeconds,
	}, logger)

	hub := http.NewHub(logger)

	// NATS
	var publisher ports.EventPublisher
	var natsPing interface{ Ping() error }
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
		natsPing = pub
	}

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL, "tandemap-api")
	if err != nil {
		slog.Warn("nats subscriber unavailable", "error", err)
	} else {
		defer sub.Close()
		if err := sub.SubscribePresence(ctx, http.PresenceEventHandler(presenceRepo, hub)); err != nil {
			slog.Warn("presence subscription failed", "error", err)
		}
	}

	// Temporal
	var scheduler ports.ExpiryScheduler
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			slog.Warn("temporal unavailable, presence expiry runs in-process only", "error", err)
		} else {
			defer tc.Close()
			scheduler = workflows.NewExpiryScheduler(tc, cfg.Temporal.TaskQueue)
		}
	}

	center := cfg.Discovery.DefaultRegion.Center()
	tracker := usecases.DefaultLocationTrackerConfig(center)
	if cfg.Discovery.SignificantChangeDeg > 0 {
		tracker.SignificantChangeDeg = cfg.Discovery.SignificantChangeDeg
	}
	tracker.Debounce = cfg.Discovery.Debounce()
	if cfg.Discovery.WatchIntervalMs > 0 {
		tracker.Watch.MinInterval = cfg.Discovery.WatchInterval()
	}
	if cfg.Discovery.WatchDistanceMeters > 0 {
		tracker.Watch.MinDistanceMeters = cfg.Discovery.WatchDistanceMeters
	}

	deps := &http.Dependencies{
		Candidates:    candidates,
		Presence:      presenceRepo,
		PresenceStore: presenceStore,
		Scheduler:     scheduler,
		Publisher:     publisher,
		Points:        pointRepo,
		Hub:           hub,
		Settings: http.Settings{
			Region:          cfg.Discovery.DefaultRegion,
			DefaultRadiusKm: cfg.Discovery.DefaultRadiusKm,
			Tracker:         tracker,
			Presence: usecases.PresenceConfig{
				AllowedEmojis:   cfg.Presence.AllowedEmojis,
				DefaultDuration: cfg.Presence.DefaultDuration,
				MaxMessageLen:   cfg.Presence.MaxMessageLen,
			},
			ReconcileMode:     usecases.ReconcileMode(cfg.Map.ReconcileMode),
			DefaultStyle:      domain.MapStyle(cfg.Map.DefaultStyle),
			PermissionTimeout: cfg.Discovery.PermissionTimeout(),
		},
		DB:    db,
		Cache: cache,
		NATS:  natsPing,
		Geo:   geo,
	}

	go reportPoolStats(ctx, db)

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "Tandemap API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.tandemap.app",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())
	hub.StopAll()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		}
	}
}
