// Package geo holds the distance and travel-time estimates used for courier matching.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// EstimateMinutes is ceil(distance / speed * 60). A non-positive speed yields 0.
func EstimateMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 || distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}

// PointOf builds a point from optional coordinates.
func PointOf(lat, lon *float64) (Point, bool) {
	if lat == nil || lon == nil {
		return Point{}, false
	}
	return Point{Lat: *lat, Lon: *lon}, true
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
