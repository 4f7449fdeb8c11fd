package ports

import (
	"context"
	"time"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// GeoQueryService is the external radius query capability.
type GeoQueryService interface {
	QueryNearby(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error)
}

// CandidateSource returns the unfiltered candidate set used by the
// secondary query path.
type CandidateSource interface {
	ListAll(ctx context.Context) ([]domain.RawCandidate, error)
}

// PresenceStore is local key-value persistence for the last committed
// presence metadata. Not authoritative.
type PresenceStore interface {
	LoadMeta(ctx context.Context, userID string) (*domain.PresenceMeta, error)
	SaveMeta(ctx context.Context, userID string, meta domain.PresenceMeta) error
}

// PresenceUpdater is the remote presence endpoint. at is when the change
// takes effect: an available status is stamped with it as the commit time
// and ends ttlMinutes later.
type PresenceUpdater interface {
	SetAvailability(ctx context.Context, userID string, status domain.AvailabilityStatus, ttlMinutes *int, at time.Time) error
}

// PresenceMessageWriter stores the message and emoji shown with a broadcast.
type PresenceMessageWriter interface {
	SetMessage(ctx context.Context, userID, message, emoji string) error
}

// PresenceReader returns the remote committed presence of a user, if any.
type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (*domain.CommittedPresence, error)
}
