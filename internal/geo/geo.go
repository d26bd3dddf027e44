// Package geo holds the pure position math: great-circle distance and the
// qualitative ETA estimate shown to passengers.
package geo

import (
	"fmt"
	"math"

	"nimbus.transitwatch.org/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for the spherical
// approximation. Consistent with GPS accuracy at urban scale.
const EarthRadiusKm = 6371.0

// DefaultSpeedKmph is the assumed average bus speed for ETA estimation.
const DefaultSpeedKmph = 25.0

// DistanceKm returns the great-circle distance between two points using the
// haversine formula. The asin argument is clamped so antipodal or identical
// inputs cannot stray outside the domain through float rounding.
func DistanceKm(a, b models.LatLng) float64 {
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180

	h := 0.5 - math.Cos(dLat)/2 + math.Cos(lat1)*math.Cos(lat2)*(1-math.Cos(dLng))/2
	return EarthRadiusKm * 2 * math.Asin(math.Sqrt(clamp01(h)))
}

// EstimateETA renders a distance into the passenger-facing arrival estimate.
// Under 100 meters the bus is arriving; beyond 50 km no reliable estimate is
// given.
func EstimateETA(distanceKm, avgSpeedKmph float64) string {
	if distanceKm < 0.1 {
		return "Arriving Now"
	}
	if distanceKm > 50 {
		return "> 2 hours"
	}
	if avgSpeedKmph <= 0 {
		avgSpeedKmph = DefaultSpeedKmph
	}

	minutes := int(math.Round(distanceKm / avgSpeedKmph * 60))
	switch {
	case minutes < 1:
		return "<1 min"
	case minutes > 60:
		return fmt.Sprintf("%d hr %d min", minutes/60, minutes%60)
	default:
		return fmt.Sprintf("%d min", minutes)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
