// Package normalize implements the table updaters (C4): given a complete
// bundle, derive content digests, upsert the eight-table normalized core
// with conflict-safe inserts, and cascade to dependent rows only for
// newly-inserted parents (spec §4.4).
//
// Grounded on gollum's core.BufferedProducer / core.ProducerBase split
// between "buffer state" and "flush to backend" (core/producer.go,
// core/bufferedproducer.go), generalized from message flushing to row
// upserting with a pre-cascade/build/bulk-upsert/post-cascade shape.
package normalize

import "time"

// MonthIndex computes the coarse partition key spec §3.1 defines:
// (year-2022)*12 + (month-1).
func MonthIndex(t time.Time) int {
	return (t.Year()-2022)*12 + int(t.Month()) - 1
}
