package domain

import (
	"fmt"
	"math"
)

// Coordinate is a WGS 84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both components are finite and inside the WGS 84 ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// BoundingRegion is the area used for fallback placement and as the
// default map center when no real location is known.
type BoundingRegion struct {
	North float64 `json:"north" mapstructure:"north"`
	South float64 `json:"south" mapstructure:"south"`
	East  float64 `json:"east" mapstructure:"east"`
	West  float64 `json:"west" mapstructure:"west"`
}

// Validate checks north > south and east > west.
func (r BoundingRegion) Validate() error {
	if !(r.North > r.South) {
		return fmt.Errorf("%w: north %.6f must be greater than south %.6f", ErrInvalidRegion, r.North, r.South)
	}
	if !(r.East > r.West) {
		return fmt.Errorf("%w: east %.6f must be greater than west %.6f", ErrInvalidRegion, r.East, r.West)
	}
	return nil
}

// Center returns the midpoint of the region.
func (r BoundingRegion) Center() Coordinate {
	return Coordinate{
		Latitude:  (r.North + r.South) / 2,
		Longitude: (r.East + r.West) / 2,
	}
}

// Contains reports whether c lies inside the region, edges included.
func (r BoundingRegion) Contains(c Coordinate) bool {
	return c.Latitude >= r.South && c.Latitude <= r.North &&
		c.Longitude >= r.West && c.Longitude <= r.East
}
