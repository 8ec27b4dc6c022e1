package alsmsg

import (
	"encoding/json"
	"time"
)

// AfcResponseEnvelope is the typed view of the inspected fields of an AFC
// response envelope.
type AfcResponseEnvelope struct {
	VersionNumber string            `json:"version"`
	Responses     []json.RawMessage `json:"availableSpectrumInquiryResponses"`
}

// InnerResponse is the typed view of one entry of the response array; only
// the fields the core inspects (spec §9) are named, everything else
// passes through untouched for storage.
type InnerResponse struct {
	RequestID              string          `json:"requestId"`
	RulesetID              string          `json:"rulesetId"`
	ResponseCode            int             `json:"-"`
	RawResponse             json.RawMessage `json:"response"`
	AvailabilityExpireTime  string          `json:"availabilityExpireTime"`
	AvailableChannelInfo    json.RawMessage `json:"availableChannelInfo"`
	AvailableFrequencyInfo  json.RawMessage `json:"availableFrequencyInfo"`
}

type responseCodeHolder struct {
	ResponseCode int `json:"responseCode"`
}

// ParseInnerResponses splits the envelope's response array.
func ParseInnerResponses(envelopeJSON []byte) ([]InnerResponse, []json.RawMessage, error) {
	var env AfcResponseEnvelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return nil, nil, err
	}
	out := make([]InnerResponse, 0, len(env.Responses))
	for _, raw := range env.Responses {
		var ir InnerResponse
		if err := json.Unmarshal(raw, &ir); err != nil {
			return nil, nil, err
		}
		if len(ir.RawResponse) > 0 {
			var rc responseCodeHolder
			_ = json.Unmarshal(ir.RawResponse, &rc)
			ir.ResponseCode = rc.ResponseCode
		}
		out = append(out, ir)
	}
	return out, env.Responses, nil
}

// IsSuccess reports whether the AFC standard response code denotes success
// (0 is the AFC "SUCCESS" code).
func (r InnerResponse) IsSuccess() bool {
	return r.ResponseCode == 0
}

// ExpireTime parses AvailabilityExpireTime as UTC, returning the zero time
// and false if the response was unsuccessful or the field is absent - the
// expire_time column is then stored NULL (spec §4.4 state machine).
func (r InnerResponse) ExpireTime() (time.Time, bool) {
	if !r.IsSuccess() || r.AvailabilityExpireTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, r.AvailabilityExpireTime)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// WithoutExpiry returns a copy of a single inner response's raw JSON with
// availabilityExpireTime and requestId removed/emptied for storage into
// compressed_json, so that identical response content shares a row across
// transactions even though expiry differs per-transaction (spec §3.1,
// §4.4).
func WithoutExpiry(responseJSON []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(responseJSON, &m); err != nil {
		return nil, err
	}
	delete(m, "requestId")
	if _, ok := m["availabilityExpireTime"]; ok {
		empty, _ := json.Marshal("")
		m["availabilityExpireTime"] = empty
	}
	return json.Marshal(m)
}

// FormatExpireTime renders a time.Time in the canonical
// "YYYY-MM-DDTHH:MM:SSZ" format used when patching a cached response at
// read time (spec §4.7).
func FormatExpireTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// SetExpiry returns a copy of responseJSON with availabilityExpireTime set
// to formatted, used by the cache lookup's read-time patch step (spec
// §4.7 "Lookup", property P7).
func SetExpiry(responseJSON []byte, formatted string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(responseJSON, &m); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(formatted)
	if err != nil {
		return nil, err
	}
	m["availabilityExpireTime"] = encoded
	return json.Marshal(m)
}
