package bundle

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/errs"
)

// requestArray is used only to count inner requests so Config completeness
// (spec §3.1) can be checked without fully decoding the request.
type requestArray struct {
	Requests []json.RawMessage `json:"availableSpectrumInquiryRequests"`
}

// IndexOutOfRangeError is returned by Ingest when a Config's request index
// cannot apply to the bundle's Request (spec §4.2 "Failure": out-of-range
// config indices are rejected).
type IndexOutOfRangeError struct {
	Key   string
	Index int
	Count int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("bundle %q: config index %d out of range [0,%d)", e.Key, e.Index, e.Count)
}

// Unwrap classifies this failure as a schema violation (spec §7): the
// message parsed as JSON but its requestIndexes reference doesn't match
// the sibling Request's inner-request count.
func (e *IndexOutOfRangeError) Unwrap() error { return errs.ErrSchema }

// Assembler implements component C2.
type Assembler struct {
	mu      sync.Mutex
	bundles map[string]*Bundle
	order   *list.List // age-ordered, oldest at Front
}

// New creates an empty Assembler.
func New() *Assembler {
	return &Assembler{
		bundles: make(map[string]*Bundle),
		order:   list.New(),
	}
}

func (a *Assembler) touch(b *Bundle, now time.Time) {
	b.lastUpdate = now
	if b.elem != nil {
		a.order.MoveToBack(b.elem)
	} else {
		b.elem = a.order.PushBack(b)
	}
}

// Ingest routes one decoded message into its bundle, creating the bundle
// on first sight of its key. Per spec §4.2's duplicate-within-bundle
// policy: a second Request/Response for an already-populated slot is
// discarded; a second Config for an already-populated index overwrites the
// first.
func (a *Assembler) Ingest(key string, msg alsmsg.Message, pos Position, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.bundles[key]
	if !ok {
		b = newBundle(key)
		a.bundles[key] = b
	}
	a.touch(b, now)

	switch msg.DataType {
	case alsmsg.DataTypeRequest:
		if b.Request != nil {
			return nil // duplicate, discarded
		}
		var ra requestArray
		if err := json.Unmarshal([]byte(msg.JSONData), &ra); err != nil {
			return fmt.Errorf("bundle %q: request jsonData: %w", key, err)
		}
		b.requestCount = len(ra.Requests)
		b.Request = &msg
		b.RequestPos = pos

		for idx := range b.Configs {
			if idx != -1 && idx >= b.requestCount {
				return &IndexOutOfRangeError{Key: key, Index: idx, Count: b.requestCount}
			}
		}
		return nil

	case alsmsg.DataTypeResponse:
		if b.Response != nil {
			return nil // duplicate, discarded
		}
		b.Response = &msg
		b.ResponsePos = pos
		return nil

	case alsmsg.DataTypeConfig:
		if len(msg.RequestIndexes) == 0 {
			b.Configs[-1] = &msg
			b.ConfigPos[-1] = pos
			return nil
		}
		for _, idx := range msg.RequestIndexes {
			if b.requestCount >= 0 && idx >= b.requestCount {
				return &IndexOutOfRangeError{Key: key, Index: idx, Count: b.requestCount}
			}
			b.Configs[idx] = &msg
			b.ConfigPos[idx] = pos
		}
		return nil

	default:
		return fmt.Errorf("bundle %q: unknown dataType %q", key, msg.DataType)
	}
}

// remove detaches a bundle from both the map and the age-ordered list.
// Caller must hold a.mu.
func (a *Assembler) remove(b *Bundle) {
	delete(a.bundles, b.Key)
	if b.elem != nil {
		a.order.Remove(b.elem)
		b.elem = nil
	}
}

// FetchComplete removes and returns up to maxBundles complete bundles,
// capped additionally at maxRequests cumulative inner requests across the
// returned set (spec §4.2). The first complete bundle found is always
// taken, even if its own request count exceeds maxRequests, so a single
// oversized bundle is still returned. Order is not a global FIFO guarantee - the
// downstream write is commutative under content-digest dedup, so only a
// best-effort insertion order is preserved.
func (a *Assembler) FetchComplete(maxBundles, maxRequests int) []*Bundle {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Bundle, 0, maxBundles)
	requestBudget := maxRequests

	for e := a.order.Front(); e != nil && len(out) < maxBundles; {
		next := e.Next()
		b := e.Value.(*Bundle)
		if b.IsComplete() {
			count := b.requestCount
			if count <= 0 {
				count = 1
			}
			if len(out) > 0 && count > requestBudget {
				e = next
				continue
			}
			requestBudget -= count
			a.remove(b)
			out = append(out, b)
		}
		e = next
	}
	return out
}

// Expire removes and returns every incomplete bundle whose last update is
// older than now.Add(-maxAge) (spec §3.2, default ALS_MAX_AGE_SEC=1000s).
func (a *Assembler) Expire(now time.Time, maxAge time.Duration) []*Bundle {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.Add(-maxAge)
	out := []*Bundle{}

	for e := a.order.Front(); e != nil; {
		next := e.Next()
		b := e.Value.(*Bundle)
		if b.lastUpdate.After(cutoff) {
			break // list is age-ordered: nothing older remains past this point
		}
		if !b.IsComplete() {
			a.remove(b)
			out = append(out, b)
		}
		e = next
	}
	return out
}

// Len reports the number of in-flight bundles, for telemetry.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bundles)
}
