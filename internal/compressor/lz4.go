// Package compressor implements the compressed_json block-compression
// contract (spec §4.4): payloads are stored LZ4-framed, and decompression
// at read time must yield byte-identical original bytes.
package compressor

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Compress returns an LZ4-framed copy of data. pierrec/lz4/v4 is a direct
// dependency of pack member grafana-tempo and the modern, actively
// maintained successor to gollum's own (indirect) pierrec/lz4 v2
// dependency, covering the same "streaming block codec" concern spec §4.4
// names explicitly ("LZ4-frame family is acceptable").
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. The result is guaranteed byte-identical to
// the original input (spec §4.4).
func Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
