// Package rcache implements the response cache store (C7) and spatial
// invalidation (C10): a Postgres/PostGIS-backed cache keyed by
// (serial_number, rulesets, cert_ids) with a secondary unique index on
// req_cfg_digest, supporting lookup, update, and blanket/spatial/
// directional invalidation (spec §4.7, §4.10).
//
// Grounded on gollum's EMA-rate metric idiom referenced in
// core/metrics.go (tgo.Metric.NewRate), reused here via internal/metrics.
package rcache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/errs"
	"github.com/openafc/afc-telemetry-core/internal/geo"
	"github.com/openafc/afc-telemetry-core/internal/metrics"
)

// State is the cache entry lifecycle state (spec §3.2).
type State string

const (
	StateValid   State = "valid"
	StateInvalid State = "invalid"
	StatePrecomp State = "precomp"
)

// UpdateEntry is one (request, response, digest) triple submitted to
// Update (spec §4.7 "Update").
type UpdateEntry struct {
	RequestJSON  []byte
	ResponseJSON []byte
	Digest       string
}

// Status is the snapshot spec §4.7 "Status" names: up-time, valid/invalid
// counts, update queue length, EMA update/precomputation rates, and
// scheduling lag.
type Status struct {
	UptimeSeconds        float64
	ValidCount           int64
	InvalidCount         int64
	UpdateQueueLength    int
	UpdateRatePerSecond  float64
	PrecomputeRatePerSecond float64
	SchedulingLagSeconds float64
}

// Store is the response-cache store, backed by the Cache DB pool.
type Store struct {
	pool *pgxpool.Pool

	invalidationMu      sync.Mutex
	invalidationEnabled bool
	queuedInvalidations []func(context.Context) error

	updateRate     *metrics.Rate
	precomputeRate *metrics.Rate
	startedAt      time.Time

	updateQueue      chan UpdateEntry
	updateQueueCap   int
	precomputeSem    chan struct{}

	lastSchedule time.Time
	lagMu        sync.Mutex

	updateEnabled        atomic.Bool
	precomputationEnabled atomic.Bool
	precomputeQuota       atomic.Int64
}

// New constructs a Store. Invalidation starts enabled. updateQueueCap
// bounds the producer-consumer update queue (spec §5 "update queue has a
// hard upper bound"); precomputeQuota bounds concurrent AFC recomputation
// requests in flight (spec §5 "counting semaphore with quota N").
func New(pool *pgxpool.Pool, updateQueueCap, precomputeQuota int) *Store {
	if updateQueueCap <= 0 {
		updateQueueCap = 10000
	}
	if precomputeQuota <= 0 {
		precomputeQuota = 10
	}
	s := &Store{
		pool:                pool,
		invalidationEnabled: true,
		updateRate:          metrics.NewRate("rcache_update_rate"),
		precomputeRate:      metrics.NewRate("rcache_precompute_rate"),
		startedAt:           time.Now(),
		updateQueue:         make(chan UpdateEntry, updateQueueCap),
		updateQueueCap:      updateQueueCap,
		precomputeSem:       make(chan struct{}, precomputeQuota),
		lastSchedule:        time.Now(),
	}
	s.updateEnabled.Store(true)
	s.precomputationEnabled.Store(true)
	s.precomputeQuota.Store(int64(precomputeQuota))
	return s
}

// RunRateTicker advances the update/precompute EWMA rate trackers once per
// second, as the rcrowley/go-metrics EWMA contract requires (it only decays
// on an explicit Tick call), until ctx is cancelled.
func (s *Store) RunRateTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateRate.Tick()
			s.precomputeRate.Tick()
		}
	}
}

// SetUpdateEnabled toggles whether RunUpdateWriter applies queued updates
// (spec §6.3 "POST /update_state/true|false"). Updates keep queuing while
// disabled; they simply aren't drained until re-enabled.
func (s *Store) SetUpdateEnabled(enabled bool) { s.updateEnabled.Store(enabled) }

// UpdateEnabled reports the current update-writer toggle state.
func (s *Store) UpdateEnabled() bool { return s.updateEnabled.Load() }

// SetPrecomputationEnabled toggles whether AcquirePrecompute admits new
// recomputation requests (spec §6.3 "POST /precomputation_state/...").
func (s *Store) SetPrecomputationEnabled(enabled bool) { s.precomputationEnabled.Store(enabled) }

// PrecomputationEnabled reports the current precomputation toggle state.
func (s *Store) PrecomputationEnabled() bool { return s.precomputationEnabled.Load() }

// SetPrecomputeQuota changes the advertised precomputation quota (spec
// §6.3 "POST /precomputation_quota/<int>"). The semaphore itself is sized
// at construction time and is not resized; this setter only changes the
// value PrecomputeQuota returns, which the REST status endpoint reports.
func (s *Store) SetPrecomputeQuota(n int) { s.precomputeQuota.Store(int64(n)) }

// PrecomputeQuota returns the current advertised quota.
func (s *Store) PrecomputeQuota() int { return int(s.precomputeQuota.Load()) }

// Lookup returns the cached response for digest if a Valid entry exists,
// with availabilityExpireTime patched to now + validity_period_seconds
// (spec §4.7 "Lookup", property P7).
func (s *Store) Lookup(ctx context.Context, digest string, now time.Time) ([]byte, bool, error) {
	var response []byte
	var validitySeconds *int64
	err := s.pool.QueryRow(ctx, `
		SELECT response, validity_period_seconds FROM cache
		WHERE req_cfg_digest = $1 AND state = $2`,
		digest, StateValid,
	).Scan(&response, &validitySeconds)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	patched, err := patchExpiry(response, validitySeconds, now)
	if err != nil {
		return nil, false, err
	}
	return patched, true, nil
}

// LookupMany answers a batch of digests with a single round-trip (spec
// §4.6's "cache lookup by fingerprint" batcher kind): only Valid entries
// are returned, each with availabilityExpireTime patched the same way
// Lookup's does. A digest with no Valid row is simply absent from the
// result map.
func (s *Store) LookupMany(ctx context.Context, digests []string, now time.Time) (map[string][]byte, error) {
	out := make(map[string][]byte, len(digests))
	if len(digests) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT req_cfg_digest, response, validity_period_seconds FROM cache
		WHERE req_cfg_digest = ANY($1) AND state = $2`,
		digests, StateValid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var digest string
		var response []byte
		var validitySeconds *int64
		if err := rows.Scan(&digest, &response, &validitySeconds); err != nil {
			return nil, err
		}
		patched, err := patchExpiry(response, validitySeconds, now)
		if err != nil {
			return nil, err
		}
		out[digest] = patched
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// patchExpiry recomputes availabilityExpireTime as now+validitySeconds,
// or omits the field entirely if validitySeconds is nil (spec §4.7).
func patchExpiry(responseJSON []byte, validitySeconds *int64, now time.Time) ([]byte, error) {
	if validitySeconds == nil {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(responseJSON, &m); err != nil {
			return nil, err
		}
		delete(m, "availabilityExpireTime")
		return json.Marshal(m)
	}
	expire := now.Add(time.Duration(*validitySeconds) * time.Second)
	return alsmsg.SetExpiry(responseJSON, alsmsg.FormatExpireTime(expire))
}

// RequestFields is the subset of a cache entry's identity derived from its
// stored request (spec §4.7 "Keying"): primary key material plus the WGS84
// point used by spatial invalidation.
type RequestFields struct {
	Serial        string
	Rulesets      []string
	CertIDs       []string
	Point         geo.Point
}

// ResponseFields is the subset of a cache entry's identity derived from its
// stored response: the ruleset actually used for computation
// (config_ruleset), whether the AFC response code was successful, and the
// validity period to derive from availabilityExpireTime when it was.
type ResponseFields struct {
	ConfigRuleset   string
	Success         bool
	ValiditySeconds int64
	HasValidity     bool
}

// Update upserts each entry on primary-key conflict, last-write-wins (spec
// §4.7 "Update", §9 Open Question 2: not enforced by timestamp). Entries
// whose response carries an unsuccessful response code are dropped.
func (s *Store) Update(ctx context.Context, entries []UpdateEntry, requestOf func([]byte) (RequestFields, bool), responseOf func([]byte) (ResponseFields, bool)) (int, error) {
	var n int
	for _, e := range entries {
		resp, ok := responseOf(e.ResponseJSON)
		if !ok || !resp.Success {
			continue
		}
		req, ok := requestOf(e.RequestJSON)
		if !ok {
			continue
		}

		var validityArg *int64
		if resp.HasValidity {
			v := resp.ValiditySeconds
			validityArg = &v
		}

		_, err := s.pool.Exec(ctx, `
			INSERT INTO cache (serial_number, rulesets, cert_ids, state, config_ruleset, coordinates,
				last_update, validity_period_seconds, req_cfg_digest, request, response)
			VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326), now(), $8, $9, $10, $11)
			ON CONFLICT (serial_number, rulesets, cert_ids) DO UPDATE SET
				state = EXCLUDED.state,
				config_ruleset = EXCLUDED.config_ruleset,
				coordinates = EXCLUDED.coordinates,
				last_update = EXCLUDED.last_update,
				validity_period_seconds = EXCLUDED.validity_period_seconds,
				req_cfg_digest = EXCLUDED.req_cfg_digest,
				request = EXCLUDED.request,
				response = EXCLUDED.response`,
			req.Serial, strings.Join(req.Rulesets, "|"), strings.Join(req.CertIDs, "|"), StateValid, resp.ConfigRuleset,
			req.Point.Lon, req.Point.Lat, validityArg, e.Digest, e.RequestJSON, e.ResponseJSON,
		)
		if err != nil {
			return n, err
		}
		n++
	}
	s.updateRate.Mark(int64(n))
	return n, nil
}

// Enqueue pushes an update onto the bounded producer-consumer queue a
// dedicated writer drains (spec §5 "response-cache update path"). Per
// spec, overflow drops the newest entry rather than blocking the caller;
// the drop is reported by the false return, and UpdateQueueLength stays
// at the queue's capacity while it is full.
func (s *Store) Enqueue(e UpdateEntry) (accepted bool) {
	select {
	case s.updateQueue <- e:
		return true
	default:
		return false
	}
}

// RunUpdateWriter drains the update queue until ctx is cancelled, applying
// batches of up to batchSize via Update. This is the "dedicated writer"
// spec §5 describes.
func (s *Store) RunUpdateWriter(ctx context.Context, batchSize int, requestOf func([]byte) (RequestFields, bool), responseOf func([]byte) (ResponseFields, bool)) {
	if batchSize <= 0 {
		batchSize = 100
	}
	for {
		if !s.UpdateEnabled() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		var first UpdateEntry
		select {
		case first = <-s.updateQueue:
		case <-ctx.Done():
			return
		}
		batch := []UpdateEntry{first}
		draining := true
		for draining && len(batch) < batchSize {
			select {
			case e := <-s.updateQueue:
				batch = append(batch, e)
			default:
				draining = false
			}
		}
		s.markScheduled()
		if _, err := s.Update(ctx, batch, requestOf, responseOf); err != nil {
			// spec §4.6/§4.7 "Failure": drop the batch and move on, never
			// retry internally - the caller observes staleness via Status.
			continue
		}
	}
}

// markScheduled records how long a batch waited since the writer was last
// scheduled, feeding the "scheduling lag" status field (spec §4.7
// "Status").
func (s *Store) markScheduled() {
	s.lagMu.Lock()
	s.lastSchedule = time.Now()
	s.lagMu.Unlock()
}

// UpdateQueueLength reports how many updates are currently queued,
// awaiting the dedicated writer.
func (s *Store) UpdateQueueLength() int {
	return len(s.updateQueue)
}

// Invalidate performs a blanket invalidation, optionally scoped to a
// ruleset-id list (spec §4.7 "Invalidation"). If invalidation is disabled,
// the request is queued and runs once re-enabled - no error is returned in
// either case (spec §7 "Invalidation disabled... no error").
func (s *Store) Invalidate(ctx context.Context, rulesetIDs []string) error {
	op := func(ctx context.Context) error {
		if len(rulesetIDs) == 0 {
			_, err := s.pool.Exec(ctx, `UPDATE cache SET state = $1 WHERE state = $2`, StateInvalid, StateValid)
			return err
		}
		_, err := s.pool.Exec(ctx, `UPDATE cache SET state = $1 WHERE state = $2 AND config_ruleset = ANY($3)`,
			StateInvalid, StateValid, rulesetIDs)
		return err
	}
	return s.runOrQueue(ctx, op)
}

// SpatialInvalidate invalidates every Valid entry whose coordinates fall
// within the union of rects (spec §4.7 "Spatial", §4.10, property P6).
// Antimeridian-crossing rectangles are split into two halves, and each
// half of each rectangle is invalidated by its own UPDATE statement; the
// statements do not share a transaction. The returned count sums their
// affected rows (a row is counted once, since only Valid rows change).
func (s *Store) SpatialInvalidate(ctx context.Context, rects []geo.Rect) (int64, error) {
	var touched int64
	op := func(ctx context.Context) error {
		for _, r := range rects {
			for _, half := range r.Split() {
				tag, err := s.pool.Exec(ctx, `
					UPDATE cache SET state = $1
					WHERE state = $2 AND ST_Intersects(
						coordinates,
						ST_SetSRID(ST_MakeEnvelope($3, $4, $5, $6), 4326)::geography
					)`,
					StateInvalid, StateValid, half.MinLon, half.MinLat, half.MaxLon, half.MaxLat)
				if err != nil {
					return err
				}
				touched += tag.RowsAffected()
			}
		}
		return nil
	}
	err := s.runOrQueue(ctx, op)
	return touched, err
}

// DirectionalInvalidate invalidates entries lying within template, an
// operator-supplied PostGIS SQL fragment parameterized on a beam's
// receive/transmit points (spec §4.7 "Directional (beam)", §9 Open
// Question (a): the exact keyhole geometry is deployment-specific and
// supplied via configuration, not hardcoded here).
func (s *Store) DirectionalInvalidate(ctx context.Context, template string, rx, tx geo.Point) (int64, error) {
	var touched int64
	op := func(ctx context.Context) error {
		sql := `UPDATE cache SET state = $1 WHERE state = $2 AND (` + template + `)`
		tag, err := s.pool.Exec(ctx, sql, StateInvalid, StateValid, rx.Lon, rx.Lat, tx.Lon, tx.Lat)
		if err != nil {
			return err
		}
		touched = tag.RowsAffected()
		return nil
	}
	err := s.runOrQueue(ctx, op)
	return touched, err
}

func (s *Store) runOrQueue(ctx context.Context, op func(context.Context) error) error {
	s.invalidationMu.Lock()
	if !s.invalidationEnabled {
		s.queuedInvalidations = append(s.queuedInvalidations, op)
		s.invalidationMu.Unlock()
		return nil
	}
	s.invalidationMu.Unlock()
	return op(ctx)
}

// SetInvalidationEnabled toggles the operator switch named in spec §4.7.
// Re-enabling drains any invalidations queued while disabled.
func (s *Store) SetInvalidationEnabled(ctx context.Context, enabled bool) error {
	s.invalidationMu.Lock()
	s.invalidationEnabled = enabled
	var queued []func(context.Context) error
	if enabled {
		queued = s.queuedInvalidations
		s.queuedInvalidations = nil
	}
	s.invalidationMu.Unlock()

	for _, op := range queued {
		if err := op(ctx); err != nil {
			return err
		}
	}
	return nil
}

// InvalidationEnabled reports the current operator toggle state.
func (s *Store) InvalidationEnabled() bool {
	s.invalidationMu.Lock()
	defer s.invalidationMu.Unlock()
	return s.invalidationEnabled
}

// AcquirePrecompute blocks until the precomputation quota (spec §5,
// default 10) admits one more in-flight AFC recomputation request, marks
// the entry Precomp, and returns a release function the caller must defer.
// ctx cancellation unblocks the wait without acquiring.
func (s *Store) AcquirePrecompute(ctx context.Context, digest string) (release func(), err error) {
	if !s.PrecomputationEnabled() {
		return nil, errs.ErrPrecomputationDisabled
	}
	select {
	case s.precomputeSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if _, err := s.pool.Exec(ctx, `UPDATE cache SET state = $1 WHERE req_cfg_digest = $2`, StatePrecomp, digest); err != nil {
		<-s.precomputeSem
		return nil, err
	}
	s.precomputeRate.Mark(1)
	return func() { <-s.precomputeSem }, nil
}

// InvalidEntry is one row awaiting precomputation: its coalescing key,
// the request body a fresh AFC call needs, and the stale response the
// new request's vendor extensions are seeded from (spec §6.4
// "afc_state_vendor_extensions").
type InvalidEntry struct {
	Digest       string
	RequestJSON  []byte
	ResponseJSON []byte
}

// ListInvalid returns up to limit Invalid-state entries for the
// precomputation dispatcher to recompute (spec §4.7 "Precomputation").
// Rows already claimed (moved to Precomp by a concurrent AcquirePrecompute)
// are naturally excluded by the state filter.
func (s *Store) ListInvalid(ctx context.Context, limit int) ([]InvalidEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT req_cfg_digest, request, response FROM cache
		WHERE state = $1 LIMIT $2`,
		StateInvalid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvalidEntry
	for rows.Next() {
		var e InvalidEntry
		if err := rows.Scan(&e.Digest, &e.RequestJSON, &e.ResponseJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetStatus returns the snapshot spec §4.7 "Status" describes.
func (s *Store) GetStatus(ctx context.Context) (Status, error) {
	var valid, invalid int64
	err := s.pool.QueryRow(ctx, `SELECT
		count(*) FILTER (WHERE state = $1),
		count(*) FILTER (WHERE state = $2)
		FROM cache`, StateValid, StateInvalid).Scan(&valid, &invalid)
	if err != nil {
		return Status{}, err
	}

	s.lagMu.Lock()
	lag := time.Since(s.lastSchedule).Seconds()
	s.lagMu.Unlock()

	return Status{
		UptimeSeconds:           time.Since(s.startedAt).Seconds(),
		ValidCount:              valid,
		InvalidCount:            invalid,
		UpdateQueueLength:       s.UpdateQueueLength(),
		UpdateRatePerSecond:     s.updateRate.PerSecond(),
		PrecomputeRatePerSecond: s.precomputeRate.PerSecond(),
		SchedulingLagSeconds:    lag,
	}, nil
}
