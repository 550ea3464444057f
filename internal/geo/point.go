// internal/geo/point.go
package geo

import (
	"math"

	apperrors "bloodlink/internal/common/errors"
)

// EarthRadiusMeters is the mean Earth radius used by every distance
// computation in the service.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Validate rejects coordinates outside [-90,90] x [-180,180] and NaNs.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) ||
		p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return apperrors.NewInvalidCoordinateError(p.Lat, p.Lng)
	}
	return nil
}

// Haversine returns the great-circle distance between a and b in meters.
// Inputs are assumed valid; use Distance at trust boundaries.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Distance validates both points and returns their haversine distance.
func Distance(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return Haversine(a, b), nil
}

// Midpoint returns the great-circle midpoint between a and b.
func Midpoint(a, b Point) Point {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	lng1 := toRadians(a.Lng)
	dLng := toRadians(b.Lng - a.Lng)

	bx := math.Cos(lat2) * math.Cos(dLng)
	by := math.Cos(lat2) * math.Sin(dLng)

	lat := math.Atan2(math.Sin(lat1)+math.Sin(lat2), math.Sqrt((math.Cos(lat1)+bx)*(math.Cos(lat1)+bx)+by*by))
	lng := lng1 + math.Atan2(by, math.Cos(lat1)+bx)

	return Point{Lat: toDegrees(lat), Lng: normalizeLng(toDegrees(lng))}
}

// Box is a lat/lng rectangle used as a coarse pre-filter before haversine.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoundingBox returns a box that contains every point within radiusMeters of
// center. Near the poles the longitude span widens to the full range.
func BoundingBox(center Point, radiusMeters float64) Box {
	dLat := toDegrees(radiusMeters / EarthRadiusMeters)
	box := Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}

	cosLat := math.Cos(toRadians(center.Lat))
	if box.MinLat > -90 && box.MaxLat < 90 && cosLat > 1e-9 {
		dLng := toDegrees(radiusMeters / (EarthRadiusMeters * cosLat))
		if dLng < 180 {
			box.MinLng = center.Lng - dLng
			box.MaxLng = center.Lng + dLng
		}
	}
	return box
}

// Contains reports whether p lies inside the box. Boxes that cross the
// antimeridian carry longitudes outside [-180,180]; p is checked shifted by
// one turn in either direction.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	for _, lng := range []float64{p.Lng, p.Lng - 360, p.Lng + 360} {
		if lng >= b.MinLng && lng <= b.MaxLng {
			return true
		}
	}
	return false
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

func normalizeLng(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}
