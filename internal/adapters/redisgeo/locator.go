// Package redisgeo serves radius queries from a Redis GEO set of candidate
// positions.
package redisgeo

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// Hydrator loads candidate attributes for ids returned by a GEO search.
type Hydrator interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.RawCandidate, error)
}

// Locator implements ports.GeoQueryService with GEOSEARCH.
type Locator struct {
	rdb      *redis.Client
	key      string
	hydrator Hydrator
}

// NewLocator creates a Locator over the GEO set stored at key.
func NewLocator(rdb *redis.Client, key string, hydrator Hydrator) *Locator {
	return &Locator{rdb: rdb, key: key, hydrator: hydrator}
}

// QueryNearby returns candidates within radiusKm, nearest first. Positions
// come from the GEO set; the remaining attributes from the hydrator.
func (l *Locator) QueryNearby(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
	res, err := l.rdb.GeoSearchLocation(ctx, l.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("geosearch %s: %w", l.key, err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	ids := make([]string, len(res))
	for i, item := range res {
		ids[i] = item.Name
	}
	attrs, err := l.hydrator.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate candidates: %w", err)
	}
	byID := make(map[string]domain.RawCandidate, len(attrs))
	for _, a := range attrs {
		byID[a.ID] = a
	}

	out := make([]domain.RawCandidate, 0, len(res))
	for _, item := range res {
		c, ok := byID[item.Name]
		if !ok {
			// indexed but since deleted
			continue
		}
		c.Coordinate = &domain.Coordinate{Latitude: item.Latitude, Longitude: item.Longitude}
		out = append(out, c)
	}
	return out, nil
}

// Index replaces the GEO set with the located candidates and returns how
// many were written. The swap is atomic for readers.
func (l *Locator) Index(ctx context.Context, candidates []domain.RawCandidate) (int, error) {
	locs := make([]*redis.GeoLocation, 0, len(candidates))
	for _, c := range candidates {
		if c.Coordinate == nil || !c.Coordinate.Valid() {
			continue
		}
		locs = append(locs, &redis.GeoLocation{
			Name:      c.ID,
			Longitude: c.Coordinate.Longitude,
			Latitude:  c.Coordinate.Latitude,
		})
	}

	if len(locs) == 0 {
		if err := l.rdb.Del(ctx, l.key).Err(); err != nil {
			return 0, fmt.Errorf("clear %s: %w", l.key, err)
		}
		return 0, nil
	}

	tmp := l.key + ":staging"
	pipe := l.rdb.TxPipeline()
	pipe.Del(ctx, tmp)
	pipe.GeoAdd(ctx, tmp, locs...)
	pipe.Rename(ctx, tmp, l.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("index %s: %w", l.key, err)
	}
	return len(locs), nil
}

// Ping checks the Redis connection.
func (l *Locator) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
