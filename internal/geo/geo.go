// Package geo derives the single canonical point and uncertainty radius
// that the location table updater stores for each AFC location description
// (spec §4.4 "Location digest semantics"). Plain trigonometry - no pack
// repo imports a geometry/geodesy library, so this stays on the standard
// library (see DESIGN.md).
package geo

import "math"

// metersPerDegree is the flat-earth meter-per-degree approximation used
// for uncertainty-radius conversions: 6_371_000 * pi / 180.
const metersPerDegree = 6_371_000.0 * math.Pi / 180.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// Ellipse describes an elliptical uncertainty region.
type Ellipse struct {
	Center     Point
	MajorAxisM float64
	MinorAxisM float64
	OrientationDeg float64
}

// Centroid for an ellipse is simply its declared center; the uncertainty
// radius is its major axis.
func (e Ellipse) Centroid() (Point, float64) {
	return e.Center, e.MajorAxisM
}

// RadialPolygon describes an uncertainty region as a center plus a list of
// per-bearing radii (length in meters at evenly spaced or explicit
// bearings), as AFC's "radial polygon" location type encodes it.
type RadialPolygon struct {
	Center Point
	Radii  []float64 // meters, one per bearing step
}

// Centroid for a radial polygon is its declared center; the uncertainty
// radius is the maximum radial length.
func (p RadialPolygon) Centroid() (Point, float64) {
	maxR := 0.0
	for _, r := range p.Radii {
		if r > maxR {
			maxR = r
		}
	}
	return p.Center, maxR
}

// LinearPolygon describes an uncertainty region as an explicit list of
// WGS84 vertices, in order.
type LinearPolygon struct {
	Vertices []Point
}

// Centroid computes the arithmetic-mean centroid of a linear polygon's
// vertices and the maximum vertex-to-centroid distance as the uncertainty
// radius, handling antimeridian crossing by shifting every vertex into the
// same 360-degree slice anchored at vertex 0 before averaging (spec §4.4).
func (p LinearPolygon) Centroid() (Point, float64) {
	if len(p.Vertices) == 0 {
		return Point{}, 0
	}

	anchor := p.Vertices[0].Lon
	shifted := make([]Point, len(p.Vertices))
	for i, v := range p.Vertices {
		lon := v.Lon
		for lon-anchor > 180 {
			lon -= 360
		}
		for lon-anchor < -180 {
			lon += 360
		}
		shifted[i] = Point{Lat: v.Lat, Lon: lon}
	}

	var sumLat, sumLon float64
	for _, v := range shifted {
		sumLat += v.Lat
		sumLon += v.Lon
	}
	n := float64(len(shifted))
	centroid := Point{Lat: sumLat / n, Lon: normalizeLon(sumLon / n)}

	maxDist := 0.0
	for _, v := range shifted {
		d := flatEarthDistanceM(centroid, v)
		if d > maxDist {
			maxDist = d
		}
	}
	return centroid, maxDist
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// flatEarthDistanceM approximates the distance in meters between two WGS84
// points using a fixed flat-earth meters-per-degree constant, scaling the
// longitude delta by cos(latitude) to account for meridian convergence.
func flatEarthDistanceM(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * metersPerDegree
	dLon := (b.Lon - a.Lon) * metersPerDegree * math.Cos(a.Lat*math.Pi/180.0)
	return math.Hypot(dLat, dLon)
}
