package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// PresenceRepo implements ports.PresenceUpdater and ports.PresenceReader on
// the availability columns of profiles.
type PresenceRepo struct {
	db *DB
}

// NewPresenceRepo creates a new PresenceRepo.
func NewPresenceRepo(db *DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// SetAvailability marks userID available for ttlMinutes from at, or offline.
// at becomes presence_committed_at, the key ClearIfExpired matches on.
func (r *PresenceRepo) SetAvailability(ctx context.Context, userID string, status domain.AvailabilityStatus, ttlMinutes *int, at time.Time) error {
	var (
		sql  string
		args []any
	)
	switch status {
	case domain.StatusAvailable:
		if ttlMinutes == nil {
			return errors.New("available status requires a duration")
		}
		sql = `
			UPDATE profiles
			SET availability_status = 'available',
			    available_until = $3::timestamptz + make_interval(mins => $2),
			    presence_duration = $2,
			    presence_committed_at = $3,
			    updated_at = now()
			WHERE id = $1`
		args = []any{userID, *ttlMinutes, at}
	case domain.StatusOffline:
		sql = `
			UPDATE profiles
			SET availability_status = 'offline',
			    available_until = NULL,
			    updated_at = now()
			WHERE id = $1`
		args = []any{userID}
	default:
		return fmt.Errorf("unknown availability status %q", status)
	}

	tag, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// SetMessage stores the broadcast message and emoji shown to other viewers.
func (r *PresenceRepo) SetMessage(ctx context.Context, userID, message, emoji string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE profiles
		SET presence_message = $2, presence_emoji = $3, updated_at = now()
		WHERE id = $1
	`, userID, message, emoji)
	return err
}

// GetPresence returns the live broadcast of userID, or nil when offline or
// expired.
func (r *PresenceRepo) GetPresence(ctx context.Context, userID string) (*domain.CommittedPresence, error) {
	var (
		status      string
		until       *time.Time
		duration    *int
		committedAt *time.Time
		message     string
		emoji       string
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT availability_status, available_until, presence_duration,
		       presence_committed_at, presence_message, presence_emoji
		FROM profiles WHERE id = $1
	`, userID).Scan(&status, &until, &duration, &committedAt, &message, &emoji)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if status != string(domain.StatusAvailable) || until == nil || !until.After(time.Now()) {
		return nil, nil
	}

	value := domain.ViewerPresence{
		IsAvailable: true,
		Message:     message,
		Emoji:       emoji,
		CommittedAt: committedAt,
	}
	if duration != nil {
		value.DurationMinutes = *duration
	}
	return &domain.CommittedPresence{Value: value, ExpiresAt: *until}, nil
}

// ClearIfExpired sets userID offline only while the broadcast committed at
// committedAt is still the current one. Any later commit stamps a newer
// presence_committed_at and is left alone. It reports whether a row changed.
func (r *PresenceRepo) ClearIfExpired(ctx context.Context, userID string, committedAt time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE profiles
		SET availability_status = 'offline', available_until = NULL, updated_at = now()
		WHERE id = $1
		  AND availability_status = 'available'
		  AND presence_committed_at = $2
	`, userID, committedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
