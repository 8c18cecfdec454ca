// Package geo provides great-circle geometry on the planet surface for
// travel-distance checks, region membership, and audio-trigger traversal.
package geo

import "math"

// PlanetRadiusMeters is the radius used for great-circle-equivalent
// distances. Travel limits are tuned against this value.
const PlanetRadiusMeters = 6371000.0

// MetersBetween returns the great-circle distance between two lat/lng points
// in degrees (haversine).
func MetersBetween(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180.0
	phi1, phi2 := lat1*rad, lat2*rad
	dPhi := (lat2 - lat1) * rad
	dLambda := (lng2 - lng1) * rad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * PlanetRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Point is a lat/lng pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Circle is a circular region: center plus radius in meters.
type Circle struct {
	Center Point
	Radius float64
}

// Contains reports whether p lies inside the circle.
func (c Circle) Contains(p Point) bool {
	return MetersBetween(c.Center.Lat, c.Center.Lng, p.Lat, p.Lng) <= c.Radius
}

// ContainsCircle reports whether inner lies entirely inside c with at least
// margin meters to spare.
func (c Circle) ContainsCircle(inner Circle, margin float64) bool {
	d := MetersBetween(c.Center.Lat, c.Center.Lng, inner.Center.Lat, inner.Center.Lng)
	return d+inner.Radius+margin <= c.Radius
}

// SegmentIntersectsCircle reports whether the segment a→b passes through the
// circle. Segments are short relative to the planet, so the test projects
// onto a local flat approximation around the circle center.
func SegmentIntersectsCircle(a, b Point, c Circle) bool {
	if c.Contains(a) || c.Contains(b) {
		return true
	}
	// local equirectangular projection centered on the circle
	rad := math.Pi / 180.0
	cosLat := math.Cos(c.Center.Lat * rad)
	ax := (a.Lng - c.Center.Lng) * rad * cosLat * PlanetRadiusMeters
	ay := (a.Lat - c.Center.Lat) * rad * PlanetRadiusMeters
	bx := (b.Lng - c.Center.Lng) * rad * cosLat * PlanetRadiusMeters
	by := (b.Lat - c.Center.Lat) * rad * PlanetRadiusMeters

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return false
	}
	// closest point on the segment to the origin (the circle center)
	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	px, py := ax+t*dx, ay+t*dy
	return math.Hypot(px, py) <= c.Radius
}

// PointInPolygon reports whether p lies inside the polygon verts via the
// ray-casting rule. Polygons are small enough that lat/lng behave as planar
// coordinates.
func PointInPolygon(p Point, verts []Point) bool {
	inside := false
	n := len(verts)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := verts[i], verts[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			x := (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}
