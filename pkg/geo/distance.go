package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate pair. GeoJSON ordering (lon first) is used on
// the wire; fields are named to avoid swapping mistakes.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// HaversineMeters calculates the great-circle distance in meters between two
// coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// DistanceToPolylineMeters returns the shortest distance in meters from p to
// the polyline given as ordered waypoints. A single-point route degenerates to
// plain point distance.
func DistanceToPolylineMeters(p Point, route []Point) float64 {
	if len(route) == 0 {
		return math.Inf(1)
	}
	if len(route) == 1 {
		return HaversineMeters(p.Lat, p.Lon, route[0].Lat, route[0].Lon)
	}

	min := math.Inf(1)
	for i := 0; i < len(route)-1; i++ {
		d := distanceToSegmentMeters(p, route[i], route[i+1])
		if d < min {
			min = d
		}
	}
	return min
}

// distanceToSegmentMeters projects p onto the segment a-b using a local
// equirectangular approximation, accurate enough at city scale where the
// segments are short.
func distanceToSegmentMeters(p, a, b Point) float64 {
	latRef := (a.Lat + b.Lat) / 2 * math.Pi / 180.0
	mPerDegLat := earthRadiusM * math.Pi / 180.0
	mPerDegLon := mPerDegLat * math.Cos(latRef)

	ax := a.Lon * mPerDegLon
	ay := a.Lat * mPerDegLat
	bx := b.Lon * mPerDegLon
	by := b.Lat * mPerDegLat
	px := p.Lon * mPerDegLon
	py := p.Lat * mPerDegLat

	dx := bx - ax
	dy := by - ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}

	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	cx := ax + t*dx
	cy := ay + t*dy
	return math.Hypot(px-cx, py-cy)
}

// RouteLengthMeters sums segment lengths of a polyline.
func RouteLengthMeters(route []Point) float64 {
	total := 0.0
	for i := 0; i < len(route)-1; i++ {
		total += HaversineMeters(route[i].Lat, route[i].Lon, route[i+1].Lat, route[i+1].Lon)
	}
	return total
}
