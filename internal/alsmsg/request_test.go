package alsmsg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropagateVendorExtensions_CopiesNamedKeys(t *testing.T) {
	requestEnvelope := []byte(`{"version":"1.4","availableSpectrumInquiryRequests":[{"requestId":"r1","vendorExtensions":"old"}]}`)
	staleResponse := []byte(`{"requestId":"r1","vendorExtensions":"fresh","responseCode":0}`)

	patched, err := PropagateVendorExtensions(requestEnvelope, staleResponse, []string{"vendorExtensions"})
	require.NoError(t, err)

	var env AfcRequestEnvelope
	require.NoError(t, json.Unmarshal(patched, &env))
	require.Len(t, env.Requests, 1)

	var first map[string]any
	require.NoError(t, json.Unmarshal(env.Requests[0], &first))
	assert.Equal(t, "fresh", first["vendorExtensions"])
	assert.Equal(t, "r1", first["requestId"])
}

func TestPropagateVendorExtensions_NoKeysIsNoop(t *testing.T) {
	requestEnvelope := []byte(`{"availableSpectrumInquiryRequests":[{"requestId":"r1"}]}`)
	patched, err := PropagateVendorExtensions(requestEnvelope, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, requestEnvelope, patched)
}

func TestPropagateVendorExtensions_MissingKeyLeavesRequestUnchanged(t *testing.T) {
	requestEnvelope := []byte(`{"availableSpectrumInquiryRequests":[{"requestId":"r1"}]}`)
	staleResponse := []byte(`{"requestId":"r1"}`)

	patched, err := PropagateVendorExtensions(requestEnvelope, staleResponse, []string{"vendorExtensions"})
	require.NoError(t, err)

	var env AfcRequestEnvelope
	require.NoError(t, json.Unmarshal(patched, &env))
	var first map[string]any
	require.NoError(t, json.Unmarshal(env.Requests[0], &first))
	_, present := first["vendorExtensions"]
	assert.False(t, present)
}
