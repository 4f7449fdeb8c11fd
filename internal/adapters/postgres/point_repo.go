package postgres

import (
	"context"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// PointRepo reads venues and events shown by the places/events map filters.
type PointRepo struct {
	db *DB
}

// NewPointRepo creates a new PointRepo.
func NewPointRepo(db *DB) *PointRepo {
	return &PointRepo{db: db}
}

// ListWithin returns the points inside region.
func (r *PointRepo) ListWithin(ctx context.Context, region domain.BoundingRegion) ([]domain.PointOfInterest, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, category,
		       ST_Y(location::geometry) AS lat,
		       ST_X(location::geometry) AS lng
		FROM points_of_interest
		WHERE location && ST_MakeEnvelope($1, $2, $3, $4, 4326)::geography
		ORDER BY name
	`, region.West, region.South, region.East, region.North)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.PointOfInterest
	for rows.Next() {
		var (
			p        domain.PointOfInterest
			category string
		)
		if err := rows.Scan(&p.ID, &p.Name, &category, &p.Coordinate.Latitude, &p.Coordinate.Longitude); err != nil {
			return nil, err
		}
		p.Category = domain.ViewFilter(category)
		points = append(points, p)
	}
	return points, rows.Err()
}
