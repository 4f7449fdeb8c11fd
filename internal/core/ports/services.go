package ports

import (
	"context"
	"time"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// LocationAccuracy is the accuracy profile requested from the device.
type LocationAccuracy string

const (
	AccuracyBalanced LocationAccuracy = "balanced"
	AccuracyHigh     LocationAccuracy = "high"
	AccuracyLow      LocationAccuracy = "low"
)

// WatchOptions configure a continuous location watch.
type WatchOptions struct {
	Accuracy          LocationAccuracy `json:"accuracy"`
	MinInterval       time.Duration    `json:"min_interval"`
	MinDistanceMeters float64          `json:"min_distance_meters"`
}

// LocationProvider is the device location API.
type LocationProvider interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentLocation(ctx context.Context) (domain.Coordinate, error)
	Watch(opts WatchOptions, callback func(domain.Coordinate)) (unsubscribe func(), err error)
}

// MapSurface is the imperative rendering surface. Only the map reconciler
// may call the marker methods.
type MapSurface interface {
	CreateMarker(spec domain.MarkerSpec) (domain.MarkerHandle, error)
	UpdateMarker(handle domain.MarkerHandle, spec domain.MarkerSpec) error
	RemoveMarker(handle domain.MarkerHandle) error
	SetPulse(visible bool, center domain.Coordinate) error
	// SetStyle switches the visual style and calls onReady once the new
	// style has loaded.
	SetStyle(style domain.MapStyle, onReady func()) error
	SetTerrain(enabled bool) error
	OnMarkerClick(handler func(domain.MarkerHandle))
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishPresence(ctx context.Context, userID string, state domain.ViewerPresence) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribePresence(ctx context.Context, handler func(ctx context.Context, userID string, state domain.ViewerPresence) error) error
}

// ExpiryScheduler arranges a durable remote clear of a presence broadcast.
// The clear only applies while committedAt is still the user's latest commit.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, userID string, committedAt, expiresAt time.Time) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
