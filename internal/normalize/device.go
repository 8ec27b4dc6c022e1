package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/canon"
	"github.com/openafc/afc-telemetry-core/internal/digest"
)

// DeviceDescriptorRow is the built row for the `device_descriptor` table;
// CertificationListDigest is the foreign key into the certification table
// (spec §3.1: "references certification list by its own digest").
type DeviceDescriptorRow struct {
	Digest                   string
	SerialNumber             string
	CertificationListDigest  string
	CertificationList        []alsmsg.CertEntry
	CanonicalJSON            []byte
}

// BuildDeviceDescriptor canonicalizes a device-descriptor payload and
// derives both its own digest and its certification list's digest.
func BuildDeviceDescriptor(raw json.RawMessage) (DeviceDescriptorRow, error) {
	canonical, err := canon.Marshal(raw)
	if err != nil {
		return DeviceDescriptorRow{}, fmt.Errorf("device_descriptor: canonicalize: %w", err)
	}
	var dd alsmsg.DeviceDescriptor
	if err := json.Unmarshal(raw, &dd); err != nil {
		return DeviceDescriptorRow{}, fmt.Errorf("device_descriptor: %w", err)
	}

	certBytes, err := canon.Marshal(mustMarshal(dd.CertificationID))
	if err != nil {
		return DeviceDescriptorRow{}, fmt.Errorf("device_descriptor: certification list: %w", err)
	}

	return DeviceDescriptorRow{
		Digest:                  digest.Hex(canonical),
		SerialNumber:            dd.SerialNumber,
		CertificationListDigest: digest.Hex(certBytes),
		CertificationList:       dd.CertificationID,
		CanonicalJSON:           canonical,
	}, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// CertificationRow is one row of the `certification` table, keyed by
// (list_digest, list_index); semantic key is the (ruleset, cert_id) pair
// (spec §3.1).
type CertificationRow struct {
	ListDigest string
	ListIndex  int
	Ruleset    string
	CertID     string
}

// BuildCertificationRows expands a device descriptor's certification list
// into its per-entry rows.
func BuildCertificationRows(listDigest string, entries []alsmsg.CertEntry) []CertificationRow {
	rows := make([]CertificationRow, len(entries))
	for i, e := range entries {
		rows[i] = CertificationRow{ListDigest: listDigest, ListIndex: i, Ruleset: e.Ruleset, CertID: e.CertID}
	}
	return rows
}
