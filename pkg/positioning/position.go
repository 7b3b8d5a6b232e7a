package positioning

import (
	"math"
	"time"

	"github.com/paulmach/orb"
)

// Position is an estimated device location. Accuracy is in meters.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	ComputedAt time.Time `json:"computed_at"`
}

// Point returns the position in coordinate space as an orb.Point (x=lon, y=lat).
func (p Position) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// IsValidCoordinate reports whether lat/lon is finite, in range and not the
// (0,0) sentinel.
func IsValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return lat != 0 || lon != 0
}
