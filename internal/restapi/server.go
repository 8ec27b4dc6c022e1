// Package restapi implements the response-cache REST interface (spec
// §6.3): liveness, status, update enqueueing, invalidation (blanket,
// ruleset-scoped, spatial), and the operator toggles for invalidation,
// update-writing, and precomputation.
//
// Grounded on gollum's healthcheck package (healthcheck/healthcheck.go)
// for the liveness-endpoint shape, upgraded from a bare net/http.ServeMux
// to gorilla/mux (direct dependency of pack member grafana-tempo) for its
// path-parameter routing, which /invalidation_state/{state} and
// /precomputation_quota/{n} need.
package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/openafc/afc-telemetry-core/internal/geo"
	"github.com/openafc/afc-telemetry-core/internal/rcache"
)

// KeyholeTemplate is the minimal interface beam invalidation needs from
// internal/config.KeyholeTemplateWatcher — just enough to avoid restapi
// importing config directly for an unrelated settings surface.
type KeyholeTemplate interface {
	Template() string
}

// Server wires the response-cache Store to an HTTP mux.
type Server struct {
	store   *rcache.Store
	keyhole KeyholeTemplate
	log     *logrus.Entry
	mux     *mux.Router
}

// New builds a Server and registers every route named in spec §6.3, plus
// the EXPANSION /beam_invalidate route (spec §4.7 "Directional (beam)").
// keyhole may be nil if no keyhole template is configured, in which case
// /beam_invalidate returns 503.
func New(store *rcache.Store, keyhole KeyholeTemplate, log *logrus.Entry) *Server {
	s := &Server{store: store, keyhole: keyhole, log: log, mux: mux.NewRouter()}

	s.mux.HandleFunc("/healthcheck", s.handleHealthcheck).Methods(http.MethodGet)
	s.mux.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.mux.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	s.mux.HandleFunc("/invalidate", s.handleInvalidate).Methods(http.MethodPost)
	s.mux.HandleFunc("/spatial_invalidate", s.handleSpatialInvalidate).Methods(http.MethodPost)
	s.mux.HandleFunc("/beam_invalidate", s.handleBeamInvalidate).Methods(http.MethodPost)
	s.mux.HandleFunc("/invalidation_state/{state}", s.handleInvalidationState).Methods(http.MethodPost)
	s.mux.HandleFunc("/update_state/{state}", s.handleUpdateState).Methods(http.MethodPost)
	s.mux.HandleFunc("/precomputation_state/{state}", s.handlePrecomputationState).Methods(http.MethodPost)
	s.mux.HandleFunc("/precomputation_quota/{quota}", s.handlePrecomputationQuota).Methods(http.MethodPost)

	return s
}

// ServeHTTP lets Server itself be passed straight to http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.GetStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		UptimeSeconds:           status.UptimeSeconds,
		ValidCount:              status.ValidCount,
		InvalidCount:            status.InvalidCount,
		UpdateQueueLength:       status.UpdateQueueLength,
		UpdateRatePerSecond:     status.UpdateRatePerSecond,
		PrecomputeRatePerSecond: status.PrecomputeRatePerSecond,
		SchedulingLagSeconds:    status.SchedulingLagSeconds,
		InvalidationEnabled:     s.store.InvalidationEnabled(),
		UpdateEnabled:           s.store.UpdateEnabled(),
		PrecomputationEnabled:   s.store.PrecomputationEnabled(),
		PrecomputeQuota:         s.store.PrecomputeQuota(),
	})
}

type statusResponse struct {
	UptimeSeconds           float64 `json:"uptime_seconds"`
	ValidCount              int64   `json:"valid_count"`
	InvalidCount            int64   `json:"invalid_count"`
	UpdateQueueLength       int     `json:"update_queue_length"`
	UpdateRatePerSecond     float64 `json:"update_rate_per_second"`
	PrecomputeRatePerSecond float64 `json:"precompute_rate_per_second"`
	SchedulingLagSeconds    float64 `json:"scheduling_lag_seconds"`
	InvalidationEnabled     bool    `json:"invalidation_enabled"`
	UpdateEnabled           bool    `json:"update_enabled"`
	PrecomputationEnabled   bool    `json:"precomputation_enabled"`
	PrecomputeQuota         int     `json:"precompute_quota"`
}

type reqRespKey struct {
	AfcReq       json.RawMessage `json:"afc_req"`
	AfcResp      json.RawMessage `json:"afc_resp"`
	ReqCfgDigest string          `json:"req_cfg_digest"`
}

type updateRequest struct {
	ReqRespKeys []reqRespKey `json:"req_resp_keys"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body updateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	accepted := 0
	for _, k := range body.ReqRespKeys {
		if s.store.Enqueue(rcache.UpdateEntry{
			RequestJSON:  k.AfcReq,
			ResponseJSON: k.AfcResp,
			Digest:       k.ReqCfgDigest,
		}) {
			accepted++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted, "submitted": len(body.ReqRespKeys)})
}

type invalidateRequest struct {
	RulesetIDs []string `json:"ruleset_ids,omitempty"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var body invalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.store.Invalidate(r.Context(), body.RulesetIDs); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type spatialInvalidateRequest struct {
	Tiles []rcache.RectJSON `json:"tiles"`
}

func (s *Server) handleSpatialInvalidate(w http.ResponseWriter, r *http.Request) {
	var body spatialInvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	touched, err := s.store.SpatialInvalidate(r.Context(), rcache.ParseSpatialTiles(body.Tiles))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"invalidated": touched})
}

type beamInvalidateRequest struct {
	RxLat float64 `json:"rx_lat"`
	RxLon float64 `json:"rx_lon"`
	TxLat float64 `json:"tx_lat"`
	TxLon float64 `json:"tx_lon"`
}

// handleBeamInvalidate drives directional/beam invalidation (spec §4.7
// "Directional (beam)") against the operator-supplied keyhole template
// (spec §9 Open Question (a)). EXPANSION: not named in spec §6.3's
// endpoint list, but the Store method it exposes has no other caller.
func (s *Server) handleBeamInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.keyhole == nil || s.keyhole.Template() == "" {
		s.writeError(w, http.StatusServiceUnavailable, errNoKeyholeTemplate)
		return
	}
	var body beamInvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	touched, err := s.store.DirectionalInvalidate(r.Context(), s.keyhole.Template(),
		geo.Point{Lat: body.RxLat, Lon: body.RxLon}, geo.Point{Lat: body.TxLat, Lon: body.TxLon})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"invalidated": touched})
}

func (s *Server) handleInvalidationState(w http.ResponseWriter, r *http.Request) {
	enabled, ok := parseBoolParam(mux.Vars(r)["state"])
	if !ok {
		s.writeError(w, http.StatusBadRequest, errBadBoolParam)
		return
	}
	if err := s.store.SetInvalidationEnabled(r.Context(), enabled); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	enabled, ok := parseBoolParam(mux.Vars(r)["state"])
	if !ok {
		s.writeError(w, http.StatusBadRequest, errBadBoolParam)
		return
	}
	s.store.SetUpdateEnabled(enabled)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePrecomputationState(w http.ResponseWriter, r *http.Request) {
	enabled, ok := parseBoolParam(mux.Vars(r)["state"])
	if !ok {
		s.writeError(w, http.StatusBadRequest, errBadBoolParam)
		return
	}
	s.store.SetPrecomputationEnabled(enabled)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePrecomputationQuota(w http.ResponseWriter, r *http.Request) {
	quota, ok := rcache.ParsePrecomputeQuota(mux.Vars(r)["quota"])
	if !ok {
		s.writeError(w, http.StatusBadRequest, errBadQuotaParam)
		return
	}
	s.store.SetPrecomputeQuota(quota)
	w.WriteHeader(http.StatusOK)
}

func parseBoolParam(s string) (bool, bool) {
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		b, err := strconv.ParseBool(s)
		return b, err == nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("restapi: response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.WithError(err).Warn("restapi: request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
