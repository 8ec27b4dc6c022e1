// Package fingerprint computes the request/config digest ("req_cfg_digest")
// that keys the response cache (spec §4.9, invariant P4).
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/canon"
)

// Compute produces the stable fingerprint for a single inner AFC request
// and an AFC-config body. Per spec §4.9:
//  1. requestId is removed from the request before serialization.
//  2. The request is canonically serialized (sorted keys, no whitespace).
//  3. A running digest is updated with config bytes first, request bytes
//     second.
//  4. The digest is hex-encoded.
//
// The result is insensitive to requestId and to key order/whitespace
// permutations of the request JSON (P4).
func Compute(requestJSON, configText []byte) (string, error) {
	stripped, err := alsmsg.WithoutRequestID(requestJSON)
	if err != nil {
		return "", err
	}
	canonical, err := canon.Marshal(stripped)
	if err != nil {
		return "", err
	}

	h := md5.New()
	h.Write(configText)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
