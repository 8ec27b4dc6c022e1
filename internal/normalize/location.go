package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/openafc/afc-telemetry-core/internal/canon"
	"github.com/openafc/afc-telemetry-core/internal/digest"
	"github.com/openafc/afc-telemetry-core/internal/geo"
)

// wireLocation is the union of the three location shapes AFC requests may
// carry (spec §4.4 "Location digest semantics"): ellipse, radial polygon,
// linear polygon. Only one of Ellipse/LinearPolygon/RadialPolygon is
// populated per message.
type wireLocation struct {
	Ellipse *struct {
		Center struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"center"`
		MajorAxis      float64 `json:"majorAxis"`
		MinorAxis      float64 `json:"minorAxis"`
		OrientationDeg float64 `json:"orientation"`
	} `json:"ellipse,omitempty"`
	LinearPolygon *struct {
		Outer []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"outerBoundary"`
	} `json:"linearPolygon,omitempty"`
	RadialPolygon *struct {
		Center struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"center"`
		Radii []float64 `json:"length"`
	} `json:"radialPolygon,omitempty"`

	DeploymentType int `json:"deploymentType"`
	Height         struct {
		Height             float64 `json:"height"`
		HeightType         string  `json:"heightType"`
		VerticalUncertainty float64 `json:"verticalUncertainty"`
	} `json:"elevation"`
}

// LocationRow is the built row for the `location` table.
type LocationRow struct {
	Digest         string
	Point          geo.Point
	RadiusM        float64
	DeploymentType int
	HeightM        float64
	HeightType     string
	HeightUncertM  float64
}

// BuildLocation canonicalizes raw, derives its digest, and computes the
// single canonical point + uncertainty radius per spec §4.4.
func BuildLocation(raw json.RawMessage) (LocationRow, error) {
	canonical, err := canon.Marshal(raw)
	if err != nil {
		return LocationRow{}, fmt.Errorf("location: canonicalize: %w", err)
	}

	var w wireLocation
	if err := json.Unmarshal(raw, &w); err != nil {
		return LocationRow{}, fmt.Errorf("location: %w", err)
	}

	var point geo.Point
	var radius float64
	switch {
	case w.Ellipse != nil:
		e := geo.Ellipse{
			Center:         geo.Point{Lat: w.Ellipse.Center.Latitude, Lon: w.Ellipse.Center.Longitude},
			MajorAxisM:     w.Ellipse.MajorAxis,
			MinorAxisM:     w.Ellipse.MinorAxis,
			OrientationDeg: w.Ellipse.OrientationDeg,
		}
		point, radius = e.Centroid()
	case w.RadialPolygon != nil:
		rp := geo.RadialPolygon{
			Center: geo.Point{Lat: w.RadialPolygon.Center.Latitude, Lon: w.RadialPolygon.Center.Longitude},
			Radii:  w.RadialPolygon.Radii,
		}
		point, radius = rp.Centroid()
	case w.LinearPolygon != nil:
		verts := make([]geo.Point, len(w.LinearPolygon.Outer))
		for i, v := range w.LinearPolygon.Outer {
			verts[i] = geo.Point{Lat: v.Latitude, Lon: v.Longitude}
		}
		lp := geo.LinearPolygon{Vertices: verts}
		point, radius = lp.Centroid()
	default:
		return LocationRow{}, fmt.Errorf("location: no recognized geometry")
	}

	return LocationRow{
		Digest:         digest.Hex(canonical),
		Point:          point,
		RadiusM:        radius,
		DeploymentType: w.DeploymentType,
		HeightM:        w.Height.Height,
		HeightType:     w.Height.HeightType,
		HeightUncertM:  w.Height.VerticalUncertainty,
	}, nil
}
