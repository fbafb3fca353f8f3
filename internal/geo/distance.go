// Package geo holds the distance arithmetic every proximity decision uses.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters
const EarthRadiusMeters = 6371 * 1000.0

// DistanceMeters returns the haversine great-circle distance between two
// points given in decimal degrees. Coordinate ranges are not checked.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a past 1 for antipodal points
	if a > 1 {
		a = 1
	}
	c := 2 * math.Asin(math.Sqrt(a))
	return EarthRadiusMeters * c
}
