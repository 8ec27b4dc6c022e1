package bundle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/errs"
)

func msg(dataType alsmsg.DataType, jsonData string, indexes ...int) alsmsg.Message {
	return alsmsg.Message{
		Version:        alsmsg.SupportedVersion,
		AfcServer:      "afc-1",
		Time:           time.Now(),
		DataType:       dataType,
		JSONData:       jsonData,
		RequestIndexes: indexes,
	}
}

func TestAssembler_CatchAllConfig(t *testing.T) {
	a := New()
	now := time.Now()

	req := msg(alsmsg.DataTypeRequest, `{"availableSpectrumInquiryRequests":[{"requestId":"r0"}]}`)
	cfg := msg(alsmsg.DataTypeConfig, `{"regionStr":"US"}`) // no indexes => catch-all
	resp := msg(alsmsg.DataTypeResponse, `{"availableSpectrumInquiryResponses":[{"requestId":"r0"}]}`)

	require.NoError(t, a.Ingest("K", req, Position{Offset: 1}, now))
	require.NoError(t, a.Ingest("K", cfg, Position{Offset: 2}, now))
	require.NoError(t, a.Ingest("K", resp, Position{Offset: 3}, now))

	complete := a.FetchComplete(10, 1000)
	require.Len(t, complete, 1)
	assert.True(t, complete[0].IsComplete())
}

func TestAssembler_PerRequestConfig(t *testing.T) {
	a := New()
	now := time.Now()

	req := msg(alsmsg.DataTypeRequest, `{"availableSpectrumInquiryRequests":[{"requestId":"r0"},{"requestId":"r1"}]}`)
	cfg0 := msg(alsmsg.DataTypeConfig, `{"regionStr":"US"}`, 0)
	cfg1 := msg(alsmsg.DataTypeConfig, `{"regionStr":"CA"}`, 1)
	resp := msg(alsmsg.DataTypeResponse, `{"availableSpectrumInquiryResponses":[{"requestId":"r0"},{"requestId":"r1"}]}`)

	require.NoError(t, a.Ingest("K", req, Position{Offset: 1}, now))
	require.NoError(t, a.Ingest("K", cfg0, Position{Offset: 2}, now))
	// Not complete yet: only one of two configs present.
	assert.Empty(t, a.FetchComplete(10, 1000))

	require.NoError(t, a.Ingest("K", cfg1, Position{Offset: 3}, now))
	require.NoError(t, a.Ingest("K", resp, Position{Offset: 4}, now))

	complete := a.FetchComplete(10, 1000)
	require.Len(t, complete, 1)
	assert.Len(t, complete[0].Configs, 2)
}

func TestAssembler_DuplicateRequestDiscarded(t *testing.T) {
	a := New()
	now := time.Now()

	req1 := msg(alsmsg.DataTypeRequest, `{"availableSpectrumInquiryRequests":[{"requestId":"r0"}]}`)
	req2 := msg(alsmsg.DataTypeRequest, `{"availableSpectrumInquiryRequests":[{"requestId":"r0"},{"requestId":"r1"}]}`)

	require.NoError(t, a.Ingest("K", req1, Position{Offset: 1}, now))
	require.NoError(t, a.Ingest("K", req2, Position{Offset: 2}, now))

	a.mu.Lock()
	b := a.bundles["K"]
	a.mu.Unlock()
	assert.Equal(t, 1, b.requestCount) // second request ignored
}

func TestAssembler_ExpireIncomplete(t *testing.T) {
	a := New()
	now := time.Now()

	req := msg(alsmsg.DataTypeRequest, `{"availableSpectrumInquiryRequests":[{"requestId":"r0"}]}`)
	require.NoError(t, a.Ingest("K", req, Position{Offset: 1}, now))

	expired := a.Expire(now.Add(2000*time.Second), 1000*time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, "K", expired[0].Key)
	assert.Equal(t, 0, a.Len())
}

func TestAssembler_OutOfRangeConfigIndex(t *testing.T) {
	a := New()
	now := time.Now()

	req := msg(alsmsg.DataTypeRequest, `{"availableSpectrumInquiryRequests":[{"requestId":"r0"}]}`)
	cfg := msg(alsmsg.DataTypeConfig, `{"regionStr":"US"}`, 5)

	require.NoError(t, a.Ingest("K", req, Position{Offset: 1}, now))
	err := a.Ingest("K", cfg, Position{Offset: 2}, now)
	require.Error(t, err)
	var oor *IndexOutOfRangeError
	assert.ErrorAs(t, err, &oor)
	assert.True(t, errors.Is(err, errs.ErrSchema))
}
