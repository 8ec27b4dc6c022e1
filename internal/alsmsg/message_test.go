package alsmsg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openafc/afc-telemetry-core/internal/errs"
)

func TestParse_InvalidJSONClassifiesAsJSONFormat(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrJSONFormat))
}

func TestParse_UnsupportedVersionClassifiesAsProtocol(t *testing.T) {
	_, err := Parse([]byte(`{"version":"9.9","afcServer":"a","time":"2024-01-01T00:00:00Z","dataType":"AFC_REQUEST","jsonData":"{}"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrProtocol))
}

func TestParse_ValidRequest(t *testing.T) {
	raw := []byte(`{"version":"1.0","afcServer":"a","time":"2024-01-01T00:00:00Z","dataType":"AFC_REQUEST","jsonData":"{\"availableSpectrumInquiryRequests\":[]}"}`)
	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, DataTypeRequest, msg.DataType)
}
