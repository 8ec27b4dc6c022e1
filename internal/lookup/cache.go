// Package lookup implements the content-digest lookup caches (C3): an
// in-memory `(value, month) -> surrogate_key` map, write-through to
// Postgres with a conflict-safe upsert.
//
// Grounded on gollum's `producer/elasticsearch.go` bulk-indexer
// pattern (buffer keys, bulk-write, cache the resulting identifiers),
// generalized from "index documents" to "upsert lookup rows".
package lookup

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// key pairs a lookup value with its month partition, matching spec §4.3's
// "(value, month) -> surrogate_key" contract.
type key struct {
	value string
	month int
}

// shardCount bounds lock contention on the hot lookup path: every bundle
// persisted by the siphon loop resolves several of these caches, so a
// single mutex per table becomes a serialization point under concurrent
// batch processing. 32 shards keeps per-shard maps small without making
// Invalidate (which must visit all of them) expensive.
const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	cache map[key]string
}

// Cache is one content-digest lookup table (one of afc_server, customer,
// uls_data_version, geo_data_version, certification-list digest,
// afc_config text). Surrogate is either an auto-incrementing integer
// (encoded as its decimal string) or a UUID string, depending on table.
//
// The in-memory map is sharded by xxhash.Sum64String(value) (grafana-tempo
// is a direct dependent of cespare/xxhash/v2, used there for the same
// "hash a string to a bucket index" purpose); this is distinct from the
// 128-bit content digest used as the actual surrogate key value, which
// internal/digest and internal/fingerprint compute with crypto/md5.
type Cache struct {
	shards [shardCount]*shard

	pool      *pgxpool.Pool
	upsertSQL string // must return the surrogate key column, ON CONFLICT DO NOTHING
	selectSQL string // fallback read when insert hit the conflict branch
}

// New constructs a Cache backed by pool, using upsertSQL (expects
// positional args $1=value $2=month and a RETURNING clause) and selectSQL
// (expects the single arg $1=value, returns the existing surrogate key) for
// the conflict path.
func New(pool *pgxpool.Pool, upsertSQL, selectSQL string) *Cache {
	c := &Cache{
		pool:      pool,
		upsertSQL: upsertSQL,
		selectSQL: selectSQL,
	}
	for i := range c.shards {
		c.shards[i] = &shard{cache: make(map[key]string)}
	}
	return c
}

func (c *Cache) shardFor(value string) *shard {
	return c.shards[xxhash.Sum64String(value)%shardCount]
}

// UpdateDB ensures every value in values is present in both the cache and
// the backing table, inserting with ON CONFLICT DO NOTHING and falling
// back to a SELECT for values that already existed (spec §4.3).
func (c *Cache) UpdateDB(ctx context.Context, values []string, month int) error {
	var missing []string
	for _, v := range values {
		sh := c.shardFor(v)
		sh.mu.RLock()
		_, ok := sh.cache[key{v, month}]
		sh.mu.RUnlock()
		if !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	resolved := make(map[string]string, len(missing))
	for _, v := range missing {
		var surrogate string
		err := c.pool.QueryRow(ctx, c.upsertSQL, v, month).Scan(&surrogate)
		if err == pgx.ErrNoRows {
			err = c.pool.QueryRow(ctx, c.selectSQL, v).Scan(&surrogate)
		}
		if err != nil {
			return err
		}
		resolved[v] = surrogate
	}

	for v, surrogate := range resolved {
		sh := c.shardFor(v)
		sh.mu.Lock()
		sh.cache[key{v, month}] = surrogate
		sh.mu.Unlock()
	}
	return nil
}

// KeyFor returns the surrogate key for value/month, previously populated
// by UpdateDB. ok is false if the value was never requested.
func (c *Cache) KeyFor(value string, month int) (string, bool) {
	sh := c.shardFor(value)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	k, ok := sh.cache[key{value, month}]
	return k, ok
}

// Invalidate drops the in-memory cache; the next UpdateDB re-reads from
// Postgres. Callers must invoke this after a transaction rollback (spec
// §4.3 invariant).
func (c *Cache) Invalidate() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.cache = make(map[key]string)
		sh.mu.Unlock()
	}
}
