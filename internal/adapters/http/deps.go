package http

import (
	"context"
	"time"

	"github.com/samirrijal/tandemap/internal/adapters/postgres"
	"github.com/samirrijal/tandemap/internal/adapters/valkey"
	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/core/usecases"
)

// PresenceBackend is the remote presence row: read, write and the
// broadcast message shown to others.
type PresenceBackend interface {
	ports.PresenceUpdater
	ports.PresenceReader
	ports.PresenceMessageWriter
}

// PointLister loads venues and events inside a region.
type PointLister interface {
	ListWithin(ctx context.Context, region domain.BoundingRegion) ([]domain.PointOfInterest, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Settings are the discovery defaults applied to every request and session.
type Settings struct {
	Region          domain.BoundingRegion
	DefaultRadiusKm float64
	Tracker         usecases.LocationTrackerConfig
	Presence        usecases.PresenceConfig
	ReconcileMode   usecases.ReconcileMode
	DefaultStyle    domain.MapStyle
	// PermissionTimeout bounds how long a live session waits for the
	// device to answer a permission or location request.
	PermissionTimeout time.Duration
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Candidates    *usecases.CandidateService
	Presence      PresenceBackend
	PresenceStore ports.PresenceStore
	Scheduler     ports.ExpiryScheduler
	Publisher     ports.EventPublisher
	Points        PointLister
	Hub           *Hub
	Settings      Settings

	DB    *postgres.DB
	Cache *valkey.Cache
	NATS  interface{ Ping() error }
	Geo   Pinger
}
