// Package kafkaoffset implements the Kafka position tracker (spec §4.1,
// component C1): per-partition bookkeeping of in-flight offsets that
// yields monotonically non-decreasing commit watermarks even though
// messages may be marked processed out of order.
//
// Grounded on gollum's own per-partition offset map in
// consumer/kafka.go (cons.offsets map[int32]int64), generalized from
// "highest offset seen" to "every in-flight offset plus a processed bit",
// which is what out-of-order bundle completion requires.
package kafkaoffset

import (
	"container/heap"
	"sync"
)

// TopicPartition identifies one partition of one topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// offsetHeap is a min-heap of in-flight offsets for a single partition.
type offsetHeap []int64

func (h offsetHeap) Len() int            { return len(h) }
func (h offsetHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h offsetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *offsetHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *offsetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type partitionState struct {
	heap      offsetHeap
	processed map[int64]bool
}

// Tracker records in-flight offsets per topic/partition and computes
// commit watermarks. All operations are safe for concurrent use; the
// siphon loop is single-threaded but tests exercise concurrent add/mark.
type Tracker struct {
	mu    sync.Mutex
	parts map[TopicPartition]*partitionState
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{parts: make(map[TopicPartition]*partitionState)}
}

func (t *Tracker) state(tp TopicPartition) *partitionState {
	ps, ok := t.parts[tp]
	if !ok {
		ps = &partitionState{processed: make(map[int64]bool)}
		t.parts[tp] = ps
	}
	return ps
}

// Add records a newly-seen offset as not yet processed. Idempotent: adding
// the same offset twice is a no-op.
func (t *Tracker) Add(tp TopicPartition, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps := t.state(tp)
	if _, exists := ps.processed[offset]; exists {
		return
	}
	ps.processed[offset] = false
	heap.Push(&ps.heap, offset)
}

// MarkProcessed marks a single offset of a single partition as processed.
func (t *Tracker) MarkProcessed(tp TopicPartition, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.parts[tp]
	if !ok {
		return
	}
	if _, tracked := ps.processed[offset]; tracked {
		ps.processed[offset] = true
	}
}

// MarkTopicProcessed marks every currently tracked offset of every
// partition of topic as processed (spec §4.1, used for the JSON-log
// side-channel's "mark whole topic processed" step).
func (t *Tracker) MarkTopicProcessed(topic string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tp, ps := range t.parts {
		if tp.Topic != topic {
			continue
		}
		for off := range ps.processed {
			ps.processed[off] = true
		}
	}
}

// DrainCommits returns, for every partition with at least one
// contiguously-processed prefix, the highest such offset, and removes all
// offsets up to and including it from the tracker. Commit watermarks
// returned across successive calls are monotonically non-decreasing per
// partition (spec invariant P1), because offsets below the watermark are
// deleted and never re-added with a lower value by Add's idempotent
// semantics.
func (t *Tracker) DrainCommits() map[TopicPartition]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[TopicPartition]int64)
	for tp, ps := range t.parts {
		var watermark int64
		found := false
		for ps.heap.Len() > 0 && ps.processed[ps.heap[0]] {
			off := heap.Pop(&ps.heap).(int64)
			delete(ps.processed, off)
			watermark = off
			found = true
		}
		if found {
			out[tp] = watermark
		}
	}
	return out
}
