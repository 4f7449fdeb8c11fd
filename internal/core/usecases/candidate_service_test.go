package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/core/usecases"
	"github.com/samirrijal/tandemap/internal/pkg/geospatial"
)

var (
	theHague = domain.BoundingRegion{North: 52.13, South: 52.01, East: 4.42, West: 4.20}
	viewerAt = domain.Coordinate{Latitude: 52.0705, Longitude: 4.3007}
)

func newCandidateService(primary *mockGeo, secondary *mockSource, fallbackInSecondary bool) *usecases.CandidateService {
	cfg := usecases.CandidateServiceConfig{FallbackRegion: theHague, FallbackInSecondary: fallbackInSecondary}
	if primary == nil {
		return usecases.NewCandidateService(nil, secondary, nil, cfg, nil)
	}
	return usecases.NewCandidateService(primary, secondary, nil, cfg, nil)
}

func query(radius float64) usecases.NearbyQuery {
	return usecases.NearbyQuery{
		ViewerID: "viewer",
		Center:   viewerAt,
		RadiusKm: radius,
		Criteria: domain.FilterCriteria{RadiusKm: radius},
	}
}

func TestCandidateService_FindNearby_Primary(t *testing.T) {
	primary := &mockGeo{
		queryNearbyFn: func(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
			if lat != 52.0705 || lng != 4.3007 || radiusKm != 5 {
				t.Errorf("unexpected query %f,%f r=%f", lat, lng, radiusKm)
			}
			return []domain.RawCandidate{
				{ID: "viewer", Coordinate: &viewerAt},
				{ID: "near", Name: "Noor", Coordinate: &domain.Coordinate{Latitude: 52.0805, Longitude: 4.3107}, AvailableNow: true},
				{ID: "abc"},
			}, nil
		},
	}
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) {
			t.Error("secondary path should not run when primary succeeds")
			return nil, nil
		},
	}

	svc := newCandidateService(primary, secondary, true)
	got, err := svc.FindNearby(context.Background(), query(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates (viewer excluded), got %d", len(got))
	}

	near := got[0]
	if near.ID != "near" || near.CoordinateIsFallback {
		t.Errorf("expected real coordinate for near, got %+v", near)
	}
	if s := geospatial.FormatDistancePtr(near.DistanceKm); s != "1.3km" {
		t.Errorf("expected 1.3km, got %s", s)
	}

	abc := got[1]
	if !abc.CoordinateIsFallback {
		t.Error("expected fallback coordinate for abc")
	}
	if !theHague.Contains(abc.Coordinate) {
		t.Errorf("fallback coordinate %+v outside region", abc.Coordinate)
	}
	if abc.DistanceKm == nil {
		t.Error("expected distance for fallback-placed candidate")
	}
}

func TestCandidateService_FindNearby_DemotesToSecondary(t *testing.T) {
	primary := &mockGeo{
		queryNearbyFn: func(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
			return nil, errBoom
		},
	}
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) {
			return []domain.RawCandidate{
				{ID: "far", Coordinate: &domain.Coordinate{Latitude: 52.20, Longitude: 4.50}},
				{ID: "near", Coordinate: &domain.Coordinate{Latitude: 52.0805, Longitude: 4.3107}},
				{ID: "viewer", Coordinate: &viewerAt},
				{ID: "closest", Coordinate: &domain.Coordinate{Latitude: 52.0710, Longitude: 4.3010}},
			}, nil
		},
	}

	svc := newCandidateService(primary, secondary, true)
	got, err := svc.FindNearby(context.Background(), query(5))
	if err != nil {
		t.Fatalf("primary failure must not surface, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(got), got)
	}
	if got[0].ID != "closest" || got[1].ID != "near" {
		t.Errorf("expected ascending distance order, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestCandidateService_FindNearby_DoubleFailure(t *testing.T) {
	primary := &mockGeo{
		queryNearbyFn: func(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
			return nil, errBoom
		},
	}
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := newCandidateService(primary, secondary, true)
	_, err := svc.FindNearby(context.Background(), query(5))
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestCandidateService_FindNearby_NoPrimary(t *testing.T) {
	called := false
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) {
			called = true
			return nil, nil
		},
	}

	svc := newCandidateService(nil, secondary, true)
	got, err := svc.FindNearby(context.Background(), query(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("secondary source was not called")
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestCandidateService_Secondary_FallbackSeating(t *testing.T) {
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) {
			return []domain.RawCandidate{{ID: "abc"}}, nil
		},
	}

	seated := newCandidateService(nil, secondary, true)
	got, err := seated.FindNearby(context.Background(), query(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].CoordinateIsFallback {
		t.Fatalf("expected abc seated by its fallback coordinate, got %+v", got)
	}

	excluded := newCandidateService(nil, secondary, false)
	got, err = excluded.FindNearby(context.Background(), query(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected candidates without geodata excluded, got %+v", got)
	}
}

func TestCandidateService_Secondary_AvailableOnly(t *testing.T) {
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) {
			return []domain.RawCandidate{
				{ID: "a", Coordinate: &domain.Coordinate{Latitude: 52.071, Longitude: 4.301}, AvailableNow: true},
				{ID: "b", Coordinate: &domain.Coordinate{Latitude: 52.072, Longitude: 4.302}},
			}, nil
		},
	}

	svc := newCandidateService(nil, secondary, true)
	q := query(5)
	q.Criteria.AvailableNowOnly = true
	got, err := svc.FindNearby(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("expected only a, got %+v", got)
	}
}

func TestCandidateService_Secondary_RadiusBoundary(t *testing.T) {
	// candidates fanned out north of the viewer every ~0.5km
	var raws []domain.RawCandidate
	for i := 1; i <= 20; i++ {
		c := domain.Coordinate{Latitude: viewerAt.Latitude + float64(i)*0.0045, Longitude: viewerAt.Longitude}
		raws = append(raws, domain.RawCandidate{ID: fmt.Sprintf("c%02d", i), Coordinate: &c})
	}
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) { return raws, nil },
	}

	svc := newCandidateService(nil, secondary, false)
	got, err := svc.FindNearby(context.Background(), query(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	included := make(map[string]bool, len(got))
	for _, c := range got {
		included[c.ID] = true
	}
	for _, raw := range raws {
		d := geospatial.Haversine(viewerAt, *raw.Coordinate)
		if want := d <= 5; included[raw.ID] != want {
			t.Errorf("%s at %.3fkm: included=%v, want %v", raw.ID, d, included[raw.ID], want)
		}
	}
	if len(got) == 0 || len(got) == len(raws) {
		t.Errorf("expected a partial result, got %d of %d", len(got), len(raws))
	}
}

func TestCandidateService_FindNearby_InvalidInput(t *testing.T) {
	svc := newCandidateService(nil, &mockSource{}, true)

	q := query(5)
	q.Center = domain.Coordinate{Latitude: 95, Longitude: 0}
	if _, err := svc.FindNearby(context.Background(), q); !errors.Is(err, domain.ErrInvalidCoordinate) {
		t.Errorf("expected ErrInvalidCoordinate, got %v", err)
	}

	if _, err := svc.FindNearby(context.Background(), query(0)); err == nil {
		t.Error("expected error for zero radius")
	}
}

func TestCandidateService_FindNearby_NaNRadius(t *testing.T) {
	sydney := domain.Coordinate{Latitude: -33.8688, Longitude: 151.2093}
	secondary := &mockSource{
		listAllFn: func(ctx context.Context) ([]domain.RawCandidate, error) {
			return []domain.RawCandidate{{ID: "syd", Coordinate: &sydney}}, nil
		},
	}
	svc := newCandidateService(nil, secondary, false)

	for _, r := range []float64{math.NaN(), math.Inf(1)} {
		got, err := svc.FindNearby(context.Background(), query(r))
		if err == nil {
			t.Errorf("radius %v: expected error, got %+v", r, got)
		}
	}
}

func TestCandidateService_FindNearby_Cached(t *testing.T) {
	calls := 0
	primary := &mockGeo{
		queryNearbyFn: func(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
			calls++
			return []domain.RawCandidate{{ID: "near", Coordinate: &domain.Coordinate{Latitude: 52.0805, Longitude: 4.3107}}}, nil
		},
	}
	cfg := usecases.CandidateServiceConfig{FallbackRegion: theHague, CacheTTLSeconds: 15}
	svc := usecases.NewCandidateService(primary, &mockSource{}, newMockCache(), cfg, nil)

	for i := 0; i < 2; i++ {
		got, err := svc.FindNearby(context.Background(), query(5))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].ID != "near" {
			t.Fatalf("unexpected result %+v", got)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 primary query, got %d", calls)
	}
}

func TestCandidateService_FindNearby_FreshSkipsCache(t *testing.T) {
	available := false
	primary := &mockGeo{
		queryNearbyFn: func(ctx context.Context, lat, lng, radiusKm float64) ([]domain.RawCandidate, error) {
			return []domain.RawCandidate{{
				ID:           "near",
				Coordinate:   &domain.Coordinate{Latitude: 52.0805, Longitude: 4.3107},
				AvailableNow: available,
			}}, nil
		},
	}
	cfg := usecases.CandidateServiceConfig{FallbackRegion: theHague, CacheTTLSeconds: 15}
	svc := usecases.NewCandidateService(primary, &mockSource{}, newMockCache(), cfg, nil)

	if _, err := svc.FindNearby(context.Background(), query(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	available = true

	q := query(5)
	q.Fresh = true
	got, err := svc.FindNearby(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].AvailableNow {
		t.Fatalf("fresh query must see the availability change, got %+v", got)
	}

	// the fresh result replaces the cached one
	got, err = svc.FindNearby(context.Background(), query(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].AvailableNow {
		t.Errorf("expected the refreshed entry from cache, got %+v", got)
	}
}
