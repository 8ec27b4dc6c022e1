package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_StableUnderKeyPermutation(t *testing.T) {
	reqA := []byte(`{"requestId":"r1","deviceDescriptor":{"serialNumber":"ABC"},"a":1,"b":2}`)
	reqB := []byte(`{"b": 2, "requestId":"r1", "a": 1, "deviceDescriptor": {"serialNumber": "ABC"}}`)
	cfg := []byte(`{"regionStr":"US"}`)

	fpA, err := Compute(reqA, cfg)
	require.NoError(t, err)
	fpB, err := Compute(reqB, cfg)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
}

func TestCompute_InsensitiveToRequestID(t *testing.T) {
	reqX := []byte(`{"requestId":"x","a":1}`)
	reqY := []byte(`{"requestId":"y","a":1}`)
	cfg := []byte(`{"regionStr":"US"}`)

	fpX, err := Compute(reqX, cfg)
	require.NoError(t, err)
	fpY, err := Compute(reqY, cfg)
	require.NoError(t, err)

	assert.Equal(t, fpX, fpY)
}

func TestCompute_DifferentConfigDifferentFingerprint(t *testing.T) {
	req := []byte(`{"requestId":"x","a":1}`)
	cfg1 := []byte(`{"regionStr":"US"}`)
	cfg2 := []byte(`{"regionStr":"CA"}`)

	fp1, err := Compute(req, cfg1)
	require.NoError(t, err)
	fp2, err := Compute(req, cfg2)
	require.NoError(t, err)

	assert.NotEqual(t, fp1, fp2)
	assert.Len(t, fp1, 32) // hex-encoded 128-bit digest
}
