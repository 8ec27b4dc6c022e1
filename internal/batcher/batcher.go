// Package batcher implements the request-coalescing batcher (C6): callers
// submitting the same key before the worker drains the queue share a
// single downstream DB call (spec §4.6, property P5).
//
// Promises are plain buffered channels — spec §9 calls this out explicitly
// ("in a runtime without [futures], a per-call response channel plus a
// completion map suffices"), and it is gollum's own concurrency idiom
// throughout core/consumer.go (channels + sync.WaitGroup), so this is the
// one place stdlib channels are used by design, not as a fallback (see
// DESIGN.md).
package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/openafc/afc-telemetry-core/internal/errs"
)

// Fetch is supplied by the caller constructing a Batcher: given the
// distinct set of keys drained in one round, it performs the single
// batched DB call and returns a result per key (missing keys are treated
// as "not found", not an error).
type Fetch[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Batcher coalesces concurrent lookups for the same key into one Fetch
// call per drain round (spec §4.6).
type Batcher[K comparable, V any] struct {
	fetch     Fetch[K, V]
	maxBatch  int
	queue     chan K
	done      chan struct{}

	mu      sync.Mutex
	waiters map[K][]chan result[V]
}

type result[V any] struct {
	value V
	found bool
	err   error
}

// New starts a Batcher with a single background worker. maxBatch bounds
// how many keys are drained non-blockingly per round after the first
// blocking receive (spec §4.6 step 3, default 1000).
func New[K comparable, V any](fetch Fetch[K, V], maxBatch int) *Batcher[K, V] {
	b := &Batcher[K, V]{
		fetch:    fetch,
		maxBatch: maxBatch,
		queue:    make(chan K, maxBatch*4),
		done:     make(chan struct{}),
		waiters:  make(map[K][]chan result[V]),
	}
	go b.run()
	return b
}

// Get submits key for lookup and blocks until either a result arrives or
// deadline passes. A caller observing deadline already past returns a
// timeout error immediately without enqueuing (spec §4.6 "Deadline
// semantics").
func (b *Batcher[K, V]) Get(ctx context.Context, key K, deadline time.Time) (V, bool, error) {
	var zero V
	if !deadline.After(time.Now()) {
		return zero, false, errs.ErrDeadlineExpired
	}

	ch := make(chan result[V], 1)
	b.mu.Lock()
	_, inFlight := b.waiters[key]
	b.waiters[key] = append(b.waiters[key], ch)
	b.mu.Unlock()

	if !inFlight {
		select {
		case b.queue <- key:
		case <-b.done:
			return zero, false, errs.ErrDeadlineExpired
		}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return zero, false, r.err
		}
		return r.value, r.found, nil
	case <-timer.C:
		// The batcher tolerates a dead promise still sitting in waiters:
		// the worker still fetches the key and sends the result into this
		// buffered channel, which nobody reads. Keys whose callers have
		// all timed out are not filtered out of the batched call.
		return zero, false, errs.ErrDeadlineExpired
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case <-b.done:
		return zero, false, errs.ErrDeadlineExpired
	}
}

// Close shuts the batcher down: the worker cancels every pending promise
// and returns (spec §4.6 "Cancellation").
func (b *Batcher[K, V]) Close() {
	close(b.done)
}

func (b *Batcher[K, V]) run() {
	for {
		var first K
		select {
		case first = <-b.queue:
		case <-b.done:
			b.cancelAll()
			return
		}

		keys := []K{first}
		draining := true
		for draining && len(keys) < b.maxBatch {
			select {
			case k := <-b.queue:
				keys = append(keys, k)
			default:
				draining = false
			}
		}

		b.serve(keys)
	}
}

// serve issues one batched Fetch call for keys and resolves every waiting
// promise. A failed Fetch call resolves nothing: per spec §4.6 "Failure",
// every awaiting caller instead observes its own deadline timeout — the
// batcher never retries and never synthesizes an error result.
func (b *Batcher[K, V]) serve(keys []K) {
	ctx := context.Background()
	values, err := b.fetch(ctx, keys)

	b.mu.Lock()
	for _, k := range keys {
		chans := b.waiters[k]
		delete(b.waiters, k)
		b.mu.Unlock()
		if err == nil {
			for _, ch := range chans {
				v, found := values[k]
				ch <- result[V]{value: v, found: found}
			}
		}
		b.mu.Lock()
	}
	b.mu.Unlock()
}

func (b *Batcher[K, V]) cancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, chans := range b.waiters {
		for _, ch := range chans {
			ch <- result[V]{err: errs.ErrDeadlineExpired}
		}
		delete(b.waiters, k)
	}
}
