package tracking

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// Coordinate is a latitude-first geographic position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate returns an InvalidCoordinate error if the coordinate is outside the WGS84 range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return NewError(KindInvalidCoordinate, fmt.Sprintf("latitude %v out of range [-90, 90]", c.Latitude), nil)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return NewError(KindInvalidCoordinate, fmt.Sprintf("longitude %v out of range [-180, 180]", c.Longitude), nil)
	}
	return nil
}

// String formats the coordinate as "lat,lng".
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Path is an ordered list of coordinates in travel order.
type Path []Coordinate

// Clone returns a copy that shares no backing array with p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// LengthMeters sums the great-circle distance between consecutive points.
func (p Path) LengthMeters() float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += DistanceMeters(p[i-1], p[i])
	}
	return total
}

// DistanceMeters calculates the haversine distance between two coordinates.
func DistanceMeters(a, b Coordinate) float64 {
	dLat := degreesToRadians(b.Latitude - a.Latitude)
	dLng := degreesToRadians(b.Longitude - a.Longitude)

	lat1Rad := degreesToRadians(a.Latitude)
	lat2Rad := degreesToRadians(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
