package attendance

import "math"

// earthRadius is the mean Earth radius in metres.
const earthRadius = 6371000.0

// Distance returns the great-circle distance in metres between two
// coordinates using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	Δφ := (lat2 - lat1) * math.Pi / 180
	Δλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

// WithinRadius reports whether (lat, lon) lies inside or on the circle of
// radius metres around (centerLat, centerLon).
func WithinRadius(lat, lon, centerLat, centerLon, radius float64) bool {
	return Distance(lat, lon, centerLat, centerLon) <= radius
}
