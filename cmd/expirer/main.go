package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/tandemap/internal/adapters/nats"
	"github.com/samirrijal/tandemap/internal/adapters/postgres"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/pkg/config"
	"github.com/samirrijal/tandemap/internal/pkg/logging"
	"github.com/samirrijal/tandemap/internal/workflows"
)

func main() {
	cfg, err := config.Load("tandemap-expirer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := postgres.New(context.Background(), cfg.Database.DSN(), 4)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Offline announcements are best effort; expiry still clears the row.
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.PresenceExpiryWorkflow)
	w.RegisterActivity(&workflows.PresenceActivities{
		Presence:  postgres.NewPresenceRepo(db),
		Publisher: publisher,
		Log:       logger,
	})

	slog.Info("expiry worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
