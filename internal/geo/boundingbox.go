package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the spherical-earth approximation radius.
const EarthRadiusMeters = 6371000.0

var (
	// ErrInvalidLatitude indicates a latitude outside [-90, 90] degrees.
	ErrInvalidLatitude = errors.New("geo: latitude out of range")
	// ErrInvalidLongitude indicates a longitude outside [-180, 180] degrees.
	ErrInvalidLongitude = errors.New("geo: longitude out of range")
	// ErrInvalidDistance indicates a non-positive search radius.
	ErrInvalidDistance = errors.New("geo: distance must be positive")
)

// BoundingBox is an inclusive latitude/longitude rectangle, in degrees.
// When Wraps reports true the longitude band crosses the antimeridian and
// matching points satisfy lon >= MinLon OR lon <= MaxLon.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Wraps reports whether the longitude band crosses the 180th meridian.
func (b BoundingBox) Wraps() bool {
	return b.MinLon > b.MaxLon
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(latDeg, lonDeg float64) bool {
	if latDeg < b.MinLat || latDeg > b.MaxLat {
		return false
	}
	if b.Wraps() {
		return lonDeg >= b.MinLon || lonDeg <= b.MaxLon
	}
	return lonDeg >= b.MinLon && lonDeg <= b.MaxLon
}

// RadiusBox computes a rectangle that over-approximates the set of points
// within distanceMeters great-circle meters of the center. Every point inside
// the radius lies inside the box; points near the corners may be farther.
// When the latitude band reaches a pole the longitude bounds widen to the
// full (-180, 180) range and the filter degenerates to latitude only.
func RadiusBox(latDeg, lonDeg, distanceMeters float64) (BoundingBox, error) {
	if latDeg < -90 || latDeg > 90 || math.IsNaN(latDeg) {
		return BoundingBox{}, fmt.Errorf("%w: %v", ErrInvalidLatitude, latDeg)
	}
	if lonDeg < -180 || lonDeg > 180 || math.IsNaN(lonDeg) {
		return BoundingBox{}, fmt.Errorf("%w: %v", ErrInvalidLongitude, lonDeg)
	}
	if distanceMeters <= 0 || math.IsNaN(distanceMeters) {
		return BoundingBox{}, fmt.Errorf("%w: %v", ErrInvalidDistance, distanceMeters)
	}

	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	angular := distanceMeters / EarthRadiusMeters

	minLat := lat - angular
	maxLat := lat + angular

	var minLon, maxLon float64
	if minLat > -math.Pi/2 && maxLat < math.Pi/2 {
		// The longitude half-width narrows toward the poles.
		deltaLon := math.Asin(math.Sin(angular) / math.Cos(lat))
		minLon = lon - deltaLon
		if minLon < -math.Pi {
			minLon += 2 * math.Pi
		}
		maxLon = lon + deltaLon
		if maxLon > math.Pi {
			maxLon -= 2 * math.Pi
		}
	} else {
		// The band touches a pole; longitude cannot be bounded.
		minLat = math.Max(minLat, -math.Pi/2)
		maxLat = math.Min(maxLat, math.Pi/2)
		minLon = -math.Pi
		maxLon = math.Pi
	}

	return BoundingBox{
		MinLat: minLat * 180 / math.Pi,
		MaxLat: maxLat * 180 / math.Pi,
		MinLon: minLon * 180 / math.Pi,
		MaxLon: maxLon * 180 / math.Pi,
	}, nil
}
