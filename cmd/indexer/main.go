package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/samirrijal/tandemap/internal/adapters/postgres"
	"github.com/samirrijal/tandemap/internal/adapters/redisgeo"
	"github.com/samirrijal/tandemap/internal/pkg/config"
	"github.com/samirrijal/tandemap/internal/pkg/logging"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

const metricsAddr = ":9091"

func main() {
	cfg, err := config.Load("tandemap-indexer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	repo := postgres.NewCandidateRepo(db)
	locator := redisgeo.NewLocator(rdb, cfg.Redis.GeoKey, repo)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/metrics", metrics.Handler())
	go func() {
		if err := app.Listen(metricsAddr); err != nil {
			slog.Error("metrics listener stopped", "error", err)
		}
	}()
	defer app.Shutdown()

	interval := cfg.Discovery.IndexInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	slog.Info("geo indexer started", "key", cfg.Redis.GeoKey, "interval", interval)

	syncIndex(ctx, repo, locator)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("geo indexer stopped")
			return
		case <-ticker.C:
			syncIndex(ctx, repo, locator)
		}
	}
}

// syncIndex copies every located profile into the GEO set.
func syncIndex(ctx context.Context, repo *postgres.CandidateRepo, locator *redisgeo.Locator) {
	start := time.Now()
	defer func() { metrics.IndexSyncDuration.Observe(time.Since(start).Seconds()) }()

	candidates, err := repo.ListAll(ctx)
	if err != nil {
		metrics.IndexSyncErrors.Inc()
		slog.Error("list candidates", "error", err)
		return
	}

	n, err := locator.Index(ctx, candidates)
	if err != nil {
		metrics.IndexSyncErrors.Inc()
		slog.Error("index candidates", "error", err)
		return
	}

	metrics.IndexedCandidates.Set(float64(n))
	slog.Debug("geo index synced", "indexed", n, "skipped", len(candidates)-n, "duration", time.Since(start))
}
