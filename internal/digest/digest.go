// Package digest computes the 128-bit content digests used as surrogate
// keys throughout the normalized schema (spec §3.1, §4.3). MD5 is used
// deliberately for its 128-bit width; see DESIGN.md for why no pack
// library fits this concern better than the standard library.
package digest

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/google/uuid"
)

// digestNamespace roots all deterministic UUIDs derived from content
// digests in this repository. It is a single namespace, so identical bytes
// always map to the same UUID whichever table the UUID keys.
var digestNamespace = uuid.MustParse("6ba7b814-9dad-11d1-80b4-00c04fd430c8")

// Hex returns the lowercase hex-encoded MD5 digest of data.
func Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Bytes returns the raw 16-byte MD5 digest of data.
func Bytes(data []byte) [16]byte {
	return md5.Sum(data)
}

// UUID derives a deterministic, content-addressed UUID from arbitrary
// bytes, matching spec §4.3's "key may be a UUID derived from a content
// digest"; internal/normalize uses it for the afc_config key.
func UUID(data []byte) uuid.UUID {
	return uuid.NewMD5(digestNamespace, data)
}

// Concat is a small helper for building the byte sequences that get
// digested; it avoids repeated ad hoc []byte concatenation at call sites.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
