package rcache

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/geo"
	"github.com/openafc/afc-telemetry-core/internal/normalize"
)

// requestEnvelope and responseEnvelope expose the inner request/response
// lists; only the first entry of each is read, since the response cache's
// primary key is derived from the request's *first* entry, grounded on original_source's ApDbPk.from_req (first_request =
// req_pydantic.availableSpectrumInquiryRequests[0]).
type requestEnvelope struct {
	Requests []json.RawMessage `json:"availableSpectrumInquiryRequests"`
}

type responseEnvelope struct {
	Responses []json.RawMessage `json:"availableSpectrumInquiryResponses"`
}

// DeriveRequestFields extracts the cache primary-key material and AP
// coordinates from a single-request AFC request envelope (spec §4.7
// "Keying": rulesets/cert_ids pipe-joined in certification-list order;
// coordinates from the request's location).
func DeriveRequestFields(requestJSON []byte) (RequestFields, bool) {
	var env requestEnvelope
	if err := json.Unmarshal(requestJSON, &env); err != nil || len(env.Requests) == 0 {
		return RequestFields{}, false
	}
	var ir alsmsg.InnerRequest
	if err := json.Unmarshal(env.Requests[0], &ir); err != nil {
		return RequestFields{}, false
	}

	var dd alsmsg.DeviceDescriptor
	if len(ir.DeviceDescriptor) > 0 {
		_ = json.Unmarshal(ir.DeviceDescriptor, &dd)
	}
	rulesets := make([]string, len(dd.CertificationID))
	certIDs := make([]string, len(dd.CertificationID))
	for i, c := range dd.CertificationID {
		rulesets[i] = c.Ruleset
		certIDs[i] = c.CertID
	}

	loc, err := normalize.BuildLocation(ir.Location)
	if err != nil {
		return RequestFields{}, false
	}

	return RequestFields{
		Serial:   dd.SerialNumber,
		Rulesets: rulesets,
		CertIDs:  certIDs,
		Point:    loc.Point,
	}, true
}

// DeriveResponseFields extracts the config_ruleset, success, and validity
// period from a single-response AFC response envelope (spec §4.7
// "Update"). now is the time the validity period is computed relative to.
func DeriveResponseFields(responseJSON []byte, now time.Time) (ResponseFields, bool) {
	var env responseEnvelope
	if err := json.Unmarshal(responseJSON, &env); err != nil || len(env.Responses) == 0 {
		return ResponseFields{}, false
	}
	var ir alsmsg.InnerResponse
	if err := json.Unmarshal(env.Responses[0], &ir); err != nil {
		return ResponseFields{}, false
	}

	rf := ResponseFields{ConfigRuleset: ir.RulesetID, Success: ir.IsSuccess()}
	if !rf.Success {
		return rf, true
	}
	if ir.AvailabilityExpireTime != "" {
		expire, err := time.Parse(time.RFC3339, ir.AvailabilityExpireTime)
		if err == nil {
			rf.ValiditySeconds = int64(expire.Sub(now).Seconds())
			rf.HasValidity = true
		}
	}
	return rf, true
}

// ParseSpatialTiles converts the REST API's {min_lat,max_lat,min_lon,
// max_lon} tile objects into geo.Rect values for SpatialInvalidate.
func ParseSpatialTiles(raw []RectJSON) []geo.Rect {
	out := make([]geo.Rect, len(raw))
	for i, t := range raw {
		out[i] = geo.Rect{MinLat: t.MinLat, MaxLat: t.MaxLat, MinLon: t.MinLon, MaxLon: t.MaxLon}
	}
	return out
}

// RectJSON is the wire shape of one spatial-invalidation tile (spec §6.3
// "POST /spatial_invalidate").
type RectJSON struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// ParsePrecomputeQuota validates the path parameter of POST
// /precomputation_quota/<int> (spec §6.3).
func ParsePrecomputeQuota(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
