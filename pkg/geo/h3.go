package geo

import (
	"math"

	"github.com/uber/h3-go/v4"
)

// H3 resolution levels.
// See: https://h3geo.org/docs/core-library/restable
const (
	// H3ResolutionSearch is used for ride/request proximity search
	// (~1.2 km edge, ~5.16 km²). Coarse enough that a route is covered by a
	// handful of cells, fine enough that a k-ring bounds an 8 km radius.
	H3ResolutionSearch = 7

	// maxCoverCells caps the covering set for pathological routes.
	maxCoverCells = 256
)

// CellForPoint converts a coordinate to its search-resolution H3 cell.
func CellForPoint(lat, lon float64) int64 {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), H3ResolutionSearch)
	if err != nil {
		return 0
	}
	return int64(cell)
}

// CoverRoute returns the set of search-resolution cells covering a route
// polyline, including one ring of neighbours so that near-route pickup points
// on a cell boundary still match. Cells are deduplicated and order is not
// significant; the result backs a GIN-indexed array column.
func CoverRoute(route []Point) []int64 {
	seen := make(map[int64]struct{})

	add := func(lat, lon float64) {
		cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), H3ResolutionSearch)
		if err != nil {
			return
		}
		ring, err := cell.GridDisk(1)
		if err != nil {
			ring = []h3.Cell{cell}
		}
		for _, c := range ring {
			seen[int64(c)] = struct{}{}
		}
	}

	for i, p := range route {
		add(p.Lat, p.Lon)
		if i == 0 {
			continue
		}
		// Sample long segments so the covering has no gaps between waypoints.
		prev := route[i-1]
		segLen := HaversineMeters(prev.Lat, prev.Lon, p.Lat, p.Lon)
		steps := int(segLen / 1000.0)
		for s := 1; s < steps && len(seen) < maxCoverCells; s++ {
			f := float64(s) / float64(steps)
			add(prev.Lat+(p.Lat-prev.Lat)*f, prev.Lon+(p.Lon-prev.Lon)*f)
		}
		if len(seen) >= maxCoverCells {
			break
		}
	}

	cells := make([]int64, 0, len(seen))
	for c := range seen {
		cells = append(cells, c)
	}
	return cells
}

// CellsWithinRadius returns the k-ring of cells around a point sized to cover
// radiusMeters. Used as the coarse prefilter before exact distance ordering.
func CellsWithinRadius(lat, lon float64, radiusMeters float64) []int64 {
	origin, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), H3ResolutionSearch)
	if err != nil {
		return nil
	}

	// Edge length at resolution 7 is roughly 1.2 km; a ring per edge length
	// plus one covers the radius.
	const edgeMeters = 1220.0
	k := int(math.Ceil(radiusMeters/edgeMeters)) + 1

	ring, err := origin.GridDisk(k)
	if err != nil {
		return []int64{int64(origin)}
	}

	cells := make([]int64, 0, len(ring))
	for _, c := range ring {
		cells = append(cells, int64(c))
	}
	return cells
}
