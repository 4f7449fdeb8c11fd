package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// candidateColumns selects one RawCandidate per profile row. Location is
// nullable; availability is live only until available_until.
const candidateColumns = `
	SELECT p.id, p.display_name,
	       ST_Y(p.location::geometry) AS lat,
	       ST_X(p.location::geometry) AS lng,
	       (p.availability_status = 'available'
	        AND (p.available_until IS NULL OR p.available_until > now())) AS available_now,
	       p.presence_message, p.presence_emoji,
	       COALESCE((
	           SELECT json_agg(json_build_object('language', pl.language, 'proficiency_tag', pl.proficiency)
	                           ORDER BY pl.language)
	           FROM profile_languages pl WHERE pl.profile_id = p.id
	       ), '[]'::json) AS languages
	FROM profiles p`

// CandidateRepo implements ports.CandidateSource and ports.GeoQueryService
// over the profiles table.
type CandidateRepo struct {
	db *DB
}

// NewCandidateRepo creates a new CandidateRepo.
func NewCandidateRepo(db *DB) *CandidateRepo {
	return &CandidateRepo{db: db}
}

// ListAll returns every profile, unfiltered.
func (r *CandidateRepo) ListAll(ctx context.Context) ([]domain.RawCandidate, error) {
	rows, err := r.db.Pool.Query(ctx, candidateColumns+` ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

// QueryNearby returns located profiles within radiusKm using PostGIS ST_DWithin,
// nearest first.
func (r *CandidateRepo) QueryNearby(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
	rows, err := r.db.Pool.Query(ctx, candidateColumns+`
		WHERE p.location IS NOT NULL
		  AND ST_DWithin(p.location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(p.location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
	`, lng, lat, radiusKm*1000)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

// GetByIDs returns the profiles with the given ids, in arbitrary order.
func (r *CandidateRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.RawCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Pool.Query(ctx, candidateColumns+` WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

func collectCandidates(rows pgx.Rows) ([]domain.RawCandidate, error) {
	defer rows.Close()

	var out []domain.RawCandidate
	for rows.Next() {
		var (
			c         domain.RawCandidate
			lat, lng  *float64
			languages []byte
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &lat, &lng, &c.AvailableNow,
			&c.PresenceMessage, &c.PresenceEmoji, &languages,
		); err != nil {
			return nil, err
		}
		if lat != nil && lng != nil {
			c.Coordinate = &domain.Coordinate{Latitude: *lat, Longitude: *lng}
		}
		if err := json.Unmarshal(languages, &c.Languages); err != nil {
			return nil, fmt.Errorf("decode languages of %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
