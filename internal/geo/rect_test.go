package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect_AntimeridianCrossing(t *testing.T) {
	tile := Rect{MinLat: -1, MaxLat: 1, MinLon: 179, MaxLon: -179}

	assert.True(t, tile.CrossesAntimeridian())
	assert.True(t, tile.Contains(Point{Lat: 0, Lon: 179.5}))
	assert.True(t, tile.Contains(Point{Lat: 0, Lon: -179.5}))
	assert.False(t, tile.Contains(Point{Lat: 0, Lon: 0}))
}

func TestLinearPolygon_Centroid_AcrossAntimeridian(t *testing.T) {
	poly := LinearPolygon{Vertices: []Point{
		{Lat: 0, Lon: 179},
		{Lat: 0, Lon: -179},
		{Lat: 1, Lon: -179},
		{Lat: 1, Lon: 179},
	}}

	centroid, radius := poly.Centroid()
	assert.InDelta(t, 180.0, absLonWrapped(centroid.Lon), 0.01)
	assert.Greater(t, radius, 0.0)
}

func absLonWrapped(lon float64) float64 {
	if lon < 0 {
		return lon + 360
	}
	return lon
}
