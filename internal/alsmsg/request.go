package alsmsg

import "encoding/json"

// AfcRequestEnvelope is the typed view of the small set of fields the core
// inspects in an AFC request envelope (spec §9 "dynamic typing of JSON
// payloads"): everything else is treated as opaque passthrough bytes.
type AfcRequestEnvelope struct {
	VersionNumber string            `json:"version"`
	Requests      []json.RawMessage `json:"availableSpectrumInquiryRequests"`
}

// InnerRequest is the typed view of one entry of the request array.
type InnerRequest struct {
	RequestID           string          `json:"requestId"`
	DeviceDescriptor     json.RawMessage `json:"deviceDescriptor"`
	Location             json.RawMessage `json:"location"`
	CertificationIDs     []CertEntry     `json:"-"`
}

// CertEntry is one (ruleset, cert_id) pair taken from a device descriptor's
// certificationId array.
type CertEntry struct {
	Ruleset string `json:"rulesetId"`
	CertID  string `json:"id"`
}

// DeviceDescriptor is the typed view of the inspected device-descriptor
// fields; SerialNumber and CertificationID feed the certification resolver
// (C8), everything else is stored as opaque JSON for digesting.
type DeviceDescriptor struct {
	SerialNumber    string      `json:"serialNumber"`
	CertificationID []CertEntry `json:"certificationId"`
}

// ParseInnerRequests splits the envelope's request array and returns the
// raw per-request JSON alongside its decoded requestId, for digest/index
// bookkeeping.
func ParseInnerRequests(envelopeJSON []byte) ([]InnerRequest, []json.RawMessage, error) {
	var env AfcRequestEnvelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return nil, nil, err
	}
	reqs := make([]InnerRequest, 0, len(env.Requests))
	for _, raw := range env.Requests {
		var ir InnerRequest
		if err := json.Unmarshal(raw, &ir); err != nil {
			return nil, nil, err
		}
		var dd DeviceDescriptor
		if len(ir.DeviceDescriptor) > 0 {
			if err := json.Unmarshal(ir.DeviceDescriptor, &dd); err == nil {
				ir.CertificationIDs = dd.CertificationID
			}
		}
		reqs = append(reqs, ir)
	}
	return reqs, env.Requests, nil
}

// WithoutRequestID returns a copy of a single inner request's raw JSON with
// the requestId field removed, used by the fingerprint computation (spec
// §4.9 step 1) and by request_response digesting (spec §3.1).
func WithoutRequestID(requestJSON []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(requestJSON, &m); err != nil {
		return nil, err
	}
	delete(m, "requestId")
	return json.Marshal(m)
}

// PropagateVendorExtensions copies the named top-level keys out of a
// stale single-response object and into the first inner request of a
// request envelope, so a precomputation retry carries forward whatever
// vendor-extension state the stale response last advertised (spec §6.4
// "afc_state_vendor_extensions"). Keys absent from the stale response are
// skipped; an envelope with no inner requests is returned unchanged.
func PropagateVendorExtensions(requestEnvelopeJSON, staleResponseJSON []byte, keys []string) ([]byte, error) {
	if len(keys) == 0 {
		return requestEnvelopeJSON, nil
	}

	var respFields map[string]json.RawMessage
	if err := json.Unmarshal(staleResponseJSON, &respFields); err != nil {
		return nil, err
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(requestEnvelopeJSON, &env); err != nil {
		return nil, err
	}
	var requests []json.RawMessage
	if err := json.Unmarshal(env["availableSpectrumInquiryRequests"], &requests); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return requestEnvelopeJSON, nil
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(requests[0], &first); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if v, ok := respFields[k]; ok {
			first[k] = v
		}
	}
	patched, err := json.Marshal(first)
	if err != nil {
		return nil, err
	}
	requests[0] = patched

	requestsJSON, err := json.Marshal(requests)
	if err != nil {
		return nil, err
	}
	env["availableSpectrumInquiryRequests"] = requestsJSON
	return json.Marshal(env)
}

// EnvelopeWithoutRequests returns the enclosing request message stripped of
// its per-request array, i.e. the "invariant transport envelope" that keys
// the rx_envelope table (spec §3.1).
func EnvelopeWithoutRequests(envelopeJSON []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(envelopeJSON, &m); err != nil {
		return nil, err
	}
	delete(m, "availableSpectrumInquiryRequests")
	return json.Marshal(m)
}
