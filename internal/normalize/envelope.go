package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/canon"
	"github.com/openafc/afc-telemetry-core/internal/digest"
)

func stripKey(raw []byte, key string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, key)
	return json.Marshal(m)
}

// EnvelopeRow is the built row for both `rx_envelope` and `tx_envelope`:
// the digest of the enclosing message stripped of its per-request array
// (spec §3.1 "the invariant transport envelope").
type EnvelopeRow struct {
	Digest string
}

// BuildRxEnvelope derives the rx_envelope row from a Request message.
func BuildRxEnvelope(requestEnvelopeJSON []byte) (EnvelopeRow, error) {
	stripped, err := alsmsg.EnvelopeWithoutRequests(requestEnvelopeJSON)
	if err != nil {
		return EnvelopeRow{}, fmt.Errorf("rx_envelope: %w", err)
	}
	canonical, err := canon.Marshal(stripped)
	if err != nil {
		return EnvelopeRow{}, fmt.Errorf("rx_envelope: canonicalize: %w", err)
	}
	return EnvelopeRow{Digest: digest.Hex(canonical)}, nil
}

// BuildTxEnvelope derives the tx_envelope row from a Response message,
// stripped of its per-response array the same way rx_envelope strips the
// request array.
func BuildTxEnvelope(responseEnvelopeJSON []byte) (EnvelopeRow, error) {
	stripped, err := stripKey(responseEnvelopeJSON, "availableSpectrumInquiryResponses")
	if err != nil {
		return EnvelopeRow{}, fmt.Errorf("tx_envelope: %w", err)
	}
	canonical, err := canon.Marshal(stripped)
	if err != nil {
		return EnvelopeRow{}, fmt.Errorf("tx_envelope: canonicalize: %w", err)
	}
	return EnvelopeRow{Digest: digest.Hex(canonical)}, nil
}
