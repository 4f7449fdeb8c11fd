package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

// PresenceClearer clears a broadcast that has not been renewed.
type PresenceClearer interface {
	ClearIfExpired(ctx context.Context, userID string, committedAt time.Time) (bool, error)
}

// PresenceActivities holds the activity implementations for the expiry workflow.
type PresenceActivities struct {
	Presence  PresenceClearer
	Publisher ports.EventPublisher
	Log       *slog.Logger
}

func (a *PresenceActivities) logger() *slog.Logger {
	if a.Log == nil {
		return slog.Default()
	}
	return a.Log
}

// ClearExpiredPresence sets userID offline if the broadcast committed at
// committedAt is still the current one. It reports whether it cleared.
func (a *PresenceActivities) ClearExpiredPresence(ctx context.Context, userID string, committedAt time.Time) (bool, error) {
	cleared, err := a.Presence.ClearIfExpired(ctx, userID, committedAt)
	if err != nil {
		return false, fmt.Errorf("clear presence %s: %w", userID, err)
	}
	if cleared {
		metrics.PresenceTransitions.WithLabelValues("remote_expired").Inc()
		a.logger().Info("presence expired", "user_id", userID, "committed_at", committedAt)
	}
	return cleared, nil
}

// AnnounceOffline tells other sessions that userID went offline.
func (a *PresenceActivities) AnnounceOffline(ctx context.Context, userID string) error {
	if a.Publisher == nil {
		return nil
	}
	return a.Publisher.PublishPresence(ctx, userID, domain.ViewerPresence{})
}
