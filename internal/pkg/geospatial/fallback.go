package geospatial

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// Per-axis salts keep latitude and longitude hashes uncorrelated.
const (
	latSalt = "lat-7919"
	lngSalt = "lng-104729"

	hashBuckets = 10000
)

// Resolution is a resolved candidate position.
type Resolution struct {
	Coordinate domain.Coordinate
	IsFallback bool
}

// Resolve returns real verbatim when it has finite components. Otherwise it
// synthesizes a stable position inside region derived only from id, so a
// candidate without geodata lands on the same spot across restarts.
func Resolve(id string, real *domain.Coordinate, region domain.BoundingRegion) Resolution {
	if real != nil && finite(real.Latitude) && finite(real.Longitude) {
		return Resolution{Coordinate: *real}
	}
	return Resolution{
		Coordinate: domain.Coordinate{
			Latitude:  lerp(region.South, region.North, unitHash(id, latSalt)),
			Longitude: lerp(region.West, region.East, unitHash(id, lngSalt)),
		},
		IsFallback: true,
	}
}

// unitHash maps "{id}-{salt}" to [0,1).
func unitHash(id, salt string) float64 {
	h := xxhash.Sum64String(id + "-" + salt)
	return float64(h%hashBuckets) / hashBuckets
}

func lerp(min, max, t float64) float64 {
	return min + (max-min)*t
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
