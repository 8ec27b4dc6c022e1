// Package gateway fronts the three DB-lookup kinds spec §4.6 names with
// request-coalescing batchers (C6): cache lookup by fingerprint,
// certification lookup by (serial, cert list), and config lookup by
// ruleset id. It is the concrete wiring point between the generic
// internal/batcher and the C7/C8 stores it coalesces calls to.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openafc/afc-telemetry-core/internal/batcher"
	"github.com/openafc/afc-telemetry-core/internal/certresolver"
	"github.com/openafc/afc-telemetry-core/internal/rcache"
)

// Gateway bundles the three named batchers, each backed by exactly one
// batched DB call per coalesced round (spec §4.6, property P5).
type Gateway struct {
	Cache         *batcher.Batcher[string, []byte]
	Certification *batcher.Batcher[string, certresolver.Result]
	Config        *batcher.Batcher[string, json.RawMessage]
}

// New builds a Gateway. maxBatch bounds how many keys each batcher drains
// per round (spec §4.6 step 3, shared with the update-queue writer's own
// batch size: config.Settings.BatcherMaxBatch).
func New(store *rcache.Store, certPool *pgxpool.Pool, special certresolver.SpecialCertifications, maxBatch int) *Gateway {
	return &Gateway{
		Cache: batcher.New(func(ctx context.Context, digests []string) (map[string][]byte, error) {
			return store.LookupMany(ctx, digests, time.Now())
		}, maxBatch),

		Certification: batcher.New(func(ctx context.Context, keys []string) (map[string]certresolver.Result, error) {
			return resolveCertBatch(ctx, certPool, special, keys)
		}, maxBatch),

		Config: batcher.New(func(ctx context.Context, rulesetIDs []string) (map[string]json.RawMessage, error) {
			return certresolver.ResolveConfigs(ctx, certPool, rulesetIDs)
		}, maxBatch),
	}
}

// Close shuts down every batcher's worker goroutine (spec §4.6
// "Cancellation").
func (g *Gateway) Close() {
	g.Cache.Close()
	g.Certification.Close()
	g.Config.Close()
}

// resolveCertBatch decodes each coalescing key back into a Query,
// deduplicating by serial before calling certresolver.Resolve (which
// itself answers one Result per serial), then republishes that Result
// under every original key sharing the serial. Two concurrent callers for
// the same serial with different cert lists in the same round is not a
// shape the original certification lookup is built to distinguish; the
// last query seen for a given serial wins, matching Resolve's own
// per-serial output keying.
func resolveCertBatch(ctx context.Context, pool *pgxpool.Pool, special certresolver.SpecialCertifications, keys []string) (map[string]certresolver.Result, error) {
	bySerial := make(map[string]certresolver.Query, len(keys))
	for _, k := range keys {
		q := decodeCertKey(k)
		bySerial[q.Serial] = q
	}
	queries := make([]certresolver.Query, 0, len(bySerial))
	for _, q := range bySerial {
		queries = append(queries, q)
	}

	resultsBySerial, err := certresolver.Resolve(ctx, pool, queries, special)
	if err != nil {
		return nil, err
	}

	out := make(map[string]certresolver.Result, len(keys))
	for _, k := range keys {
		serial, _, _ := strings.Cut(k, "|")
		if r, ok := resultsBySerial[serial]; ok {
			out[k] = r
		}
	}
	return out, nil
}

// EncodeCertKey builds the coalescing key for one certification-lookup
// query: the AP serial, then its ruleset:cert_id pairs, comma-joined.
// Callers submitting the identical (serial, cert list) pair share a
// single round-trip (spec §4.6, property P5).
func EncodeCertKey(q certresolver.Query) string {
	parts := make([]string, len(q.Certs))
	for i, c := range q.Certs {
		parts[i] = c.Ruleset + ":" + c.CertID
	}
	return q.Serial + "|" + strings.Join(parts, ",")
}

func decodeCertKey(key string) certresolver.Query {
	serial, rest, _ := strings.Cut(key, "|")
	q := certresolver.Query{Serial: serial}
	if rest == "" {
		return q
	}
	for _, p := range strings.Split(rest, ",") {
		ruleset, certID, _ := strings.Cut(p, ":")
		q.Certs = append(q.Certs, certresolver.CertPair{Ruleset: ruleset, CertID: certID})
	}
	return q
}
