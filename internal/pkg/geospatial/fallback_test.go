package geospatial

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

var hague = domain.BoundingRegion{North: 52.12, South: 52.02, East: 4.40, West: 4.20}

func TestResolve_RealCoordinateVerbatim(t *testing.T) {
	real := domain.Coordinate{Latitude: 10.5, Longitude: -20.25}
	res := Resolve("u1", &real, hague)

	assert.False(t, res.IsFallback)
	assert.Equal(t, real, res.Coordinate)
}

func TestResolve_NonFiniteFallsBack(t *testing.T) {
	bad := domain.Coordinate{Latitude: math.NaN(), Longitude: 4.3}
	res := Resolve("u1", &bad, hague)

	assert.True(t, res.IsFallback)
	assert.True(t, hague.Contains(res.Coordinate))
}

func TestResolve_Deterministic(t *testing.T) {
	first := Resolve("abc", nil, hague)
	second := Resolve("abc", nil, hague)

	require.True(t, first.IsFallback)
	assert.Equal(t, math.Float64bits(first.Coordinate.Latitude), math.Float64bits(second.Coordinate.Latitude))
	assert.Equal(t, math.Float64bits(first.Coordinate.Longitude), math.Float64bits(second.Coordinate.Longitude))
}

func TestResolve_InsideRegion(t *testing.T) {
	regions := []domain.BoundingRegion{
		hague,
		{North: 1, South: -1, East: 1, West: -1},
		{North: -33.5, South: -34.2, East: 151.5, West: 150.8},
	}
	for _, region := range regions {
		for i := 0; i < 500; i++ {
			c := Resolve(fmt.Sprintf("user-%d", i), nil, region).Coordinate
			assert.GreaterOrEqual(t, c.Latitude, region.South)
			assert.LessOrEqual(t, c.Latitude, region.North)
			assert.GreaterOrEqual(t, c.Longitude, region.West)
			assert.LessOrEqual(t, c.Longitude, region.East)
		}
	}
}

func TestResolve_SpreadsCandidates(t *testing.T) {
	seen := make(map[domain.Coordinate]struct{})
	for i := 0; i < 100; i++ {
		seen[Resolve(fmt.Sprintf("id-%d", i), nil, hague).Coordinate] = struct{}{}
	}
	assert.Greater(t, len(seen), 95)
}
