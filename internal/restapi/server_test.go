package restapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openafc/afc-telemetry-core/internal/rcache"
)

func newTestServer() *Server {
	store := rcache.New(nil, 0, 0)
	log := logrus.NewEntry(logrus.New())
	return New(store, nil, log)
}

func TestHandleBeamInvalidate_RequiresTemplate(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/beam_invalidate", bytes.NewBufferString(`{"rx_lat":1,"rx_lon":2,"tx_lat":3,"tx_lon":4}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthcheck(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUpdate_EnqueuesEachKey(t *testing.T) {
	s := newTestServer()
	body := `{"req_resp_keys":[
		{"afc_req":{"a":1},"afc_resp":{"b":2},"req_cfg_digest":"d1"},
		{"afc_req":{"a":3},"afc_resp":{"b":4},"req_cfg_digest":"d2"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/update", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, 2, decoded["submitted"])
	assert.Equal(t, 2, decoded["accepted"])
}

func TestHandleUpdateState_TogglesStore(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/update_state/false", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.store.UpdateEnabled())
}

func TestHandlePrecomputationState_TogglesStore(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/precomputation_state/false", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.store.PrecomputationEnabled())
}

func TestHandlePrecomputationQuota_SetsStore(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/precomputation_quota/7", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, s.store.PrecomputeQuota())
}

func TestHandleUpdateState_RejectsBadParam(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/update_state/maybe", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
