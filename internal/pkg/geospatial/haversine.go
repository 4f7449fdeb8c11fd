package geospatial

import (
	"math"
	"strconv"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

const earthRadiusKm = 6371.0

// DistancePlaceholder is rendered for a missing or non-finite distance.
const DistancePlaceholder = "—"

// Haversine calculates the great-circle distance in kilometers between two points.
func Haversine(a, b domain.Coordinate) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// FormatDistance renders km for display: "750m" below one kilometer,
// "4.2km" otherwise. Halves round away from zero.
func FormatDistance(km float64) string {
	if math.IsNaN(km) || math.IsInf(km, 0) || km < 0 {
		return DistancePlaceholder
	}
	if km < 1 {
		return strconv.FormatFloat(math.Round(km*1000), 'f', 0, 64) + "m"
	}
	return strconv.FormatFloat(math.Round(km*10)/10, 'f', 1, 64) + "km"
}

// FormatDistancePtr formats an optional distance.
func FormatDistancePtr(km *float64) string {
	if km == nil {
		return DistancePlaceholder
	}
	return FormatDistance(*km)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
