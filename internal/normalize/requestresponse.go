package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/canon"
	"github.com/openafc/afc-telemetry-core/internal/digest"
)

// RequestResponseRow is the built row for the `request_response` table,
// keyed by a digest over the normalized tuple spec §3.1 names: {request-
// without-id, response-without-id-or-expiry, config-text, customer,
// uls_id, geo_id}.
type RequestResponseRow struct {
	Digest              string
	DeviceDescriptorDig string
	LocationDigest      string
	RequestJSONDigest   string
	ResponseJSONDigest  string
	ConfigDigest        string
	Customer            string
	UlsID               string
	GeoDataVersion      string
}

// requestResponseKeyMaterial is the tuple that gets canonicalized and
// digested to form the request_response primary key.
type requestResponseKeyMaterial struct {
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
	Config   string          `json:"config"`
	Customer string          `json:"customer"`
	UlsID    string          `json:"uls_id"`
	GeoID    string          `json:"geo_id"`
}

// BuildRequestResponseDigest computes the request_response primary key
// from the already-stripped request/response bytes and the surrounding
// bundle-level config/customer/uls/geo fields (spec §3.1, §4.4).
func BuildRequestResponseDigest(requestWithoutID, responseWithoutExpiry []byte, configText, customer, ulsID, geoID string) (string, error) {
	material := requestResponseKeyMaterial{
		Request:  requestWithoutID,
		Response: responseWithoutExpiry,
		Config:   configText,
		Customer: customer,
		UlsID:    ulsID,
		GeoID:    geoID,
	}
	raw, err := json.Marshal(material)
	if err != nil {
		return "", fmt.Errorf("request_response: %w", err)
	}
	canonical, err := canon.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("request_response: canonicalize: %w", err)
	}
	return digest.Hex(canonical), nil
}

// StripRequest returns requestJSON with requestId removed, used both for
// the fingerprint (§4.9) and the request_response digest (§3.1).
func StripRequest(requestJSON []byte) ([]byte, error) {
	return alsmsg.WithoutRequestID(requestJSON)
}

// StripResponse returns responseJSON with requestId removed and
// availabilityExpireTime emptied, matching the compressed_json storage
// form (§3.1, §4.4).
func StripResponse(responseJSON []byte) ([]byte, error) {
	return alsmsg.WithoutExpiry(responseJSON)
}
