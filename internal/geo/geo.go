// Package geo provides the WGS84 geometry primitives used by the trip
// detector and the geofence engine: great-circle distance, ring containment
// and approximate ring area.
package geo

import "math"

// EarthRadiusM is the mean earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// Ring is a closed polygon ring in WGS84. The first and last vertex may but
// need not repeat; containment and area treat the ring as implicitly closed.
type Ring []Point

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// Contains reports whether the point (lat, lon) lies inside the ring, using
// the even-odd ray casting rule. Points exactly on an edge are not guaranteed
// a stable answer; geofence boundaries are treated as zero-width.
func (r Ring) Contains(lat, lon float64) bool {
	n := len(r)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		yi, xi := r[i].Lat, r[i].Lon
		yj, xj := r[j].Lat, r[j].Lon
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Bounds returns the bounding box of the ring as (minLat, minLon, maxLat, maxLon).
func (r Ring) Bounds() (minLat, minLon, maxLat, maxLon float64) {
	if len(r) == 0 {
		return 0, 0, 0, 0
	}
	minLat, maxLat = r[0].Lat, r[0].Lat
	minLon, maxLon = r[0].Lon, r[0].Lon
	for _, p := range r[1:] {
		minLat = math.Min(minLat, p.Lat)
		maxLat = math.Max(maxLat, p.Lat)
		minLon = math.Min(minLon, p.Lon)
		maxLon = math.Max(maxLon, p.Lon)
	}
	return minLat, minLon, maxLat, maxLon
}

// AreaM2 returns the approximate area of the ring in square meters. The ring
// is projected onto a local tangent plane at its mean latitude before applying
// the shoelace formula, which is accurate enough for the smallest-polygon
// tie-break on geofence-sized shapes.
func (r Ring) AreaM2() float64 {
	n := len(r)
	if n < 3 {
		return 0
	}

	var meanLat float64
	for _, p := range r {
		meanLat += p.Lat
	}
	meanLat /= float64(n)

	// meters per degree at the mean latitude
	mPerDegLat := 2 * math.Pi * EarthRadiusM / 360
	mPerDegLon := mPerDegLat * math.Cos(meanLat*math.Pi/180)

	var sum float64
	j := n - 1
	for i := 0; i < n; i++ {
		xi := r[i].Lon * mPerDegLon
		yi := r[i].Lat * mPerDegLat
		xj := r[j].Lon * mPerDegLon
		yj := r[j].Lat * mPerDegLat
		sum += xj*yi - xi*yj
		j = i
	}
	return math.Abs(sum) / 2
}
