// Package canon produces a canonical byte encoding of arbitrary JSON:
// object keys sorted, no insignificant whitespace. Stable across
// semantically-equivalent input permutations, which is the property the
// fingerprint and content-digest computations (spec §3.1, §4.9) require.
//
// No pack example vendors a canonical-JSON library, and this is a small,
// tightly-scoped primitive, so it is implemented directly on
// encoding/json rather than imported (see DESIGN.md).
package canon

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Marshal decodes arbitrary JSON and re-encodes it with sorted object keys
// and the compact separators (',', ':'), matching spec §4.4's "object keys
// sorted, separators (',',':')" contract.
func Marshal(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
