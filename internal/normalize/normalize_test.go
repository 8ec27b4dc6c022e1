package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonthIndex(t *testing.T) {
	require.Equal(t, 0, MonthIndex(time.Date(2022, time.January, 15, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 1, MonthIndex(time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 12, MonthIndex(time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)))
}

func TestBuildLocationEllipse(t *testing.T) {
	raw := []byte(`{
		"ellipse": {"center": {"latitude": 40.0, "longitude": -74.0}, "majorAxis": 150, "minorAxis": 100, "orientation": 0},
		"deploymentType": 1,
		"elevation": {"height": 12.5, "heightType": "AGL", "verticalUncertainty": 3}
	}`)
	row, err := BuildLocation(raw)
	require.NoError(t, err)
	require.Equal(t, 40.0, row.Point.Lat)
	require.Equal(t, -74.0, row.Point.Lon)
	require.Equal(t, 150.0, row.RadiusM)
	require.NotEmpty(t, row.Digest)
}

func TestBuildLocationLinearPolygonAntimeridian(t *testing.T) {
	raw := []byte(`{
		"linearPolygon": {"outerBoundary": [
			{"latitude": 0, "longitude": 179},
			{"latitude": 0, "longitude": -179}
		]},
		"deploymentType": 0,
		"elevation": {"height": 0, "heightType": "AMSL", "verticalUncertainty": 0}
	}`)
	row, err := BuildLocation(raw)
	require.NoError(t, err)
	require.InDelta(t, 180.0, row.Point.Lon, 0.001)
}

func TestBuildDeviceDescriptorDigestDeterministic(t *testing.T) {
	raw := []byte(`{"serialNumber":"ABC123","certificationId":[{"rulesetId":"US_47_CFR_PART_15_SUBPART_E","id":"FCCID1"}]}`)
	a, err := BuildDeviceDescriptor(raw)
	require.NoError(t, err)
	b, err := BuildDeviceDescriptor(raw)
	require.NoError(t, err)
	require.Equal(t, a.Digest, b.Digest)
	require.Equal(t, a.CertificationListDigest, b.CertificationListDigest)
	require.Equal(t, "ABC123", a.SerialNumber)
}

func TestBuildCompressedJSONRoundTripsDigest(t *testing.T) {
	raw := []byte(`{"b": 2, "a": 1}`)
	reordered := []byte(`{"a": 1, "b": 2}`)
	first, err := BuildCompressedJSON(raw)
	require.NoError(t, err)
	second, err := BuildCompressedJSON(reordered)
	require.NoError(t, err)
	require.Equal(t, first.Digest, second.Digest, "canonicalization makes key order irrelevant to the digest")
}
