package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/ports"
	"github.com/samirrijal/tandemap/internal/pkg/geospatial"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

var tracer = otel.Tracer("github.com/samirrijal/tandemap/internal/core/usecases")

// NearbyQuery describes one candidate lookup.
type NearbyQuery struct {
	ViewerID string
	Center   domain.Coordinate
	RadiusKm float64
	Criteria domain.FilterCriteria
	// Fresh skips the cached result. The fresh result is still cached.
	Fresh bool
}

// CandidateServiceConfig tunes CandidateService.
type CandidateServiceConfig struct {
	// FallbackRegion is where candidates without geodata are placed.
	FallbackRegion domain.BoundingRegion
	// FallbackInSecondary lets the secondary path seat fallback-placed
	// candidates by their synthesized distance. When false they are excluded.
	FallbackInSecondary bool
	// CacheTTLSeconds is the nearby result cache lifetime; 0 disables caching.
	CacheTTLSeconds int
}

// CandidateService finds candidates near the viewer.
type CandidateService struct {
	primary   ports.GeoQueryService
	secondary ports.CandidateSource
	cache     ports.CacheService
	cfg       CandidateServiceConfig
	log       *slog.Logger
}

// NewCandidateService creates a new CandidateService. primary and cache may be nil.
func NewCandidateService(primary ports.GeoQueryService, secondary ports.CandidateSource, cache ports.CacheService, cfg CandidateServiceConfig, log *slog.Logger) *CandidateService {
	if log == nil {
		log = slog.Default()
	}
	return &CandidateService{primary: primary, secondary: secondary, cache: cache, cfg: cfg, log: log}
}

// FindNearby returns candidates within q.RadiusKm of q.Center, excluding the
// viewer. A primary query failure is demoted to the secondary path; only a
// secondary failure is returned.
func (s *CandidateService) FindNearby(ctx context.Context, q NearbyQuery) ([]domain.Candidate, error) {
	if !q.Center.Valid() {
		return nil, fmt.Errorf("%w: center %.6f,%.6f", domain.ErrInvalidCoordinate, q.Center.Latitude, q.Center.Longitude)
	}
	if !(q.RadiusKm > 0) || math.IsInf(q.RadiusKm, 1) {
		return nil, fmt.Errorf("radius must be a positive number, got %v", q.RadiusKm)
	}

	ctx, span := tracer.Start(ctx, "CandidateService.FindNearby")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("center.lat", q.Center.Latitude),
		attribute.Float64("center.lng", q.Center.Longitude),
		attribute.Float64("radius_km", q.RadiusKm),
	)

	// Try cache
	cacheKey := fmt.Sprintf("candidates:nearby:%s:%.4f:%.4f:%.2f:%t", q.ViewerID, q.Center.Latitude, q.Center.Longitude, q.RadiusKm, q.Criteria.AvailableNowOnly)
	if s.cache != nil && s.cfg.CacheTTLSeconds > 0 && !q.Fresh {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var candidates []domain.Candidate
			if err := json.Unmarshal(data, &candidates); err == nil {
				metrics.CacheHits.WithLabelValues("candidates_nearby").Inc()
				return candidates, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("candidates_nearby").Inc()
	}

	candidates, err := s.queryPrimary(ctx, q)
	if err != nil {
		if !errors.Is(err, errNoPrimary) {
			metrics.FallbackDemotions.Inc()
			s.log.Warn("primary geo query failed, using secondary path", "error", err)
		}
		span.SetAttributes(attribute.String("path", "secondary"))

		candidates, err = s.querySecondary(ctx, q)
		if err != nil {
			metrics.CandidateFetches.WithLabelValues("secondary", "error").Inc()
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
		}
		metrics.CandidateFetches.WithLabelValues("secondary", "ok").Inc()
	} else {
		span.SetAttributes(attribute.String("path", "primary"))
		metrics.CandidateFetches.WithLabelValues("primary", "ok").Inc()
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	if s.cache != nil && s.cfg.CacheTTLSeconds > 0 {
		if data, err := json.Marshal(candidates); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cfg.CacheTTLSeconds)
		}
	}

	return candidates, nil
}

var errNoPrimary = errors.New("geo query service not configured")

func (s *CandidateService) queryPrimary(ctx context.Context, q NearbyQuery) ([]domain.Candidate, error) {
	if s.primary == nil {
		return nil, errNoPrimary
	}
	raws, err := s.primary.QueryNearby(ctx, q.Center.Latitude, q.Center.Longitude, q.RadiusKm)
	if err != nil {
		metrics.CandidateFetches.WithLabelValues("primary", "error").Inc()
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(raws))
	for _, raw := range raws {
		if raw.ID == "" || raw.ID == q.ViewerID {
			continue
		}
		out = append(out, s.normalize(raw, q.Center))
	}
	return out, nil
}

func (s *CandidateService) querySecondary(ctx context.Context, q NearbyQuery) ([]domain.Candidate, error) {
	if s.secondary == nil {
		return nil, errors.New("candidate source not configured")
	}
	raws, err := s.secondary.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	out := make([]domain.Candidate, 0, len(raws))
	for _, raw := range raws {
		if raw.ID == "" || raw.ID == q.ViewerID {
			continue
		}
		if q.Criteria.AvailableNowOnly && !raw.AvailableNow {
			continue
		}
		hasReal := raw.Coordinate != nil && raw.Coordinate.Valid()
		if !hasReal && !s.cfg.FallbackInSecondary {
			continue
		}
		c := s.normalize(raw, q.Center)
		if c.DistanceKm == nil || !(*c.DistanceKm <= q.RadiusKm) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := *out[i].DistanceKm, *out[j].DistanceKm
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// normalize converts a raw record, resolving a fallback coordinate and the
// distance from center.
func (s *CandidateService) normalize(raw domain.RawCandidate, center domain.Coordinate) domain.Candidate {
	real := raw.Coordinate
	if real != nil && !real.Valid() {
		real = nil
	}
	res := geospatial.Resolve(raw.ID, real, s.cfg.FallbackRegion)

	c := domain.Candidate{
		ID:                   raw.ID,
		Name:                 raw.Name,
		Coordinate:           res.Coordinate,
		CoordinateIsFallback: res.IsFallback,
		AvailableNow:         raw.AvailableNow,
		LanguagesSpoken:      raw.Languages,
		PresenceMessage:      raw.PresenceMessage,
		PresenceEmoji:        raw.PresenceEmoji,
	}
	if d := geospatial.Haversine(center, res.Coordinate); !math.IsNaN(d) {
		c.DistanceKm = &d
	}
	return c
}
