package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/openafc/afc-telemetry-core/internal/canon"
	"github.com/openafc/afc-telemetry-core/internal/compressor"
	"github.com/openafc/afc-telemetry-core/internal/digest"
)

// CompressedJSONRow is the built row for the `compressed_json` table. The
// digest always keys the uncompressed canonical bytes (spec §4.4
// "Compression contract").
type CompressedJSONRow struct {
	Digest     string
	Compressed []byte
}

// BuildCompressedJSON canonicalizes raw, LZ4-compresses the canonical
// form, and derives the row's digest from the uncompressed canonical
// bytes.
func BuildCompressedJSON(raw json.RawMessage) (CompressedJSONRow, error) {
	canonical, err := canon.Marshal(raw)
	if err != nil {
		return CompressedJSONRow{}, fmt.Errorf("compressed_json: canonicalize: %w", err)
	}
	compressed, err := compressor.Compress(canonical)
	if err != nil {
		return CompressedJSONRow{}, fmt.Errorf("compressed_json: compress: %w", err)
	}
	return CompressedJSONRow{
		Digest:     digest.Hex(canonical),
		Compressed: compressed,
	}, nil
}
