package geo

import (
	"github.com/golang/geo/s2"

	"github.com/roman-kulish/signal-logger/internal/measurement"
)

const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters

	// DefaultLevel is the s2 cell level used for coverage, roughly 150 m cells
	DefaultLevel = 16
)

// Distance returns the great-circle distance between two points in meters
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// PathLength returns the distance travelled along records in order, in
// meters.
func PathLength(records []measurement.Record) float64 {
	var total float64
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		total += Distance(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	}
	return total
}

// CellID returns the s2 cell containing the point at the given level
func CellID(lat, lon float64, level int) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(level)
}

// Bounds is a latitude/longitude rectangle in degrees
type Bounds struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Extend grows b to include the point
func (b Bounds) Extend(lat, lon float64) Bounds {
	return Bounds{
		MinLat: min(b.MinLat, lat),
		MinLon: min(b.MinLon, lon),
		MaxLat: max(b.MaxLat, lat),
		MaxLon: max(b.MaxLon, lon),
	}
}

// CellBounds returns the bounding rectangle of an s2 cell
func CellBounds(id s2.CellID) Bounds {
	rect := s2.CellFromCellID(id).RectBound()
	return Bounds{
		MinLat: rect.Lo().Lat.Degrees(),
		MinLon: rect.Lo().Lng.Degrees(),
		MaxLat: rect.Hi().Lat.Degrees(),
		MaxLon: rect.Hi().Lng.Degrees(),
	}
}
