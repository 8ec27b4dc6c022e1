// Package bundle implements the bundle assembler (spec §4.2, component
// C2): it groups Request/Response/Config messages sharing a Kafka key into
// complete transactions, and ages out incomplete ones.
//
// Grounded on gollum's core/messagebuffer.go (buffer keyed by arrival,
// flushed once a completeness-or-age condition is met), generalized from a
// single FIFO buffer to a map of bundles keyed by Kafka key plus an
// age-ordered list for O(1) expiry scanning.
package bundle

import (
	"container/list"
	"time"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
)

// Position is a Kafka coordinate attached to every message ingested into a
// bundle, so the assembler's caller can mark offsets processed once the
// owning bundle is fully persisted or expired.
type Position struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Bundle is the in-memory aggregation of ALS messages sharing one Kafka
// key (spec §3.1).
type Bundle struct {
	Key string

	Request     *alsmsg.Message
	RequestPos  Position
	Response    *alsmsg.Message
	ResponsePos Position

	// Configs maps a request index to the Config message that applies to
	// it. A single catch-all config (empty RequestIndexes) is stored under
	// key -1 and applies to every request index.
	Configs    map[int]*alsmsg.Message
	ConfigPos  map[int]Position

	requestCount int // known once Request arrives; -1 until then

	lastUpdate time.Time
	elem       *list.Element // position in the assembler's age-ordered list
}

func newBundle(key string) *Bundle {
	return &Bundle{
		Key:          key,
		Configs:      make(map[int]*alsmsg.Message),
		ConfigPos:    make(map[int]Position),
		requestCount: -1,
	}
}

// IsComplete reports whether this bundle satisfies spec §3.1's
// completeness invariant: exactly one Request, exactly one Response, and
// either a single catch-all Config or one Config per request index in
// [0, requestCount).
func (b *Bundle) IsComplete() bool {
	if b.Request == nil || b.Response == nil {
		return false
	}
	if _, catchAll := b.Configs[-1]; catchAll {
		return len(b.Configs) == 1
	}
	if b.requestCount <= 0 {
		return false
	}
	if len(b.Configs) != b.requestCount {
		return false
	}
	for i := 0; i < b.requestCount; i++ {
		if _, ok := b.Configs[i]; !ok {
			return false
		}
	}
	return true
}

// AllPositions returns every Kafka position contributing to this bundle,
// used to mark offsets processed once the bundle is persisted or expired.
func (b *Bundle) AllPositions() []Position {
	out := make([]Position, 0, 2+len(b.ConfigPos))
	if b.Request != nil {
		out = append(out, b.RequestPos)
	}
	if b.Response != nil {
		out = append(out, b.ResponsePos)
	}
	for _, p := range b.ConfigPos {
		out = append(out, p)
	}
	return out
}
