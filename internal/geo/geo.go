// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geo provides great-circle distance calculations on a spherical earth.
package geo

import (
	"math"
)

// EarthRadiusKm is the mean earth radius used for all distance calculations.
const EarthRadiusKm = 6371.0

// Point represents a geographic coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// DistanceKm returns the great-circle distance between a and b in kilometers. We are using
// the Haversine formula, with the intermediate term clamped to [0, 1] so that identical and
// antipodal points never produce NaN due to floating-point rounding.
func DistanceKm(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Valid checks if the point is valid according to the EPSG logic
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
