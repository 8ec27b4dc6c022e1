package siphon

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/openafc/afc-telemetry-core/internal/alsmsg"
	"github.com/openafc/afc-telemetry-core/internal/bundle"
	"github.com/openafc/afc-telemetry-core/internal/config"
	"github.com/openafc/afc-telemetry-core/internal/errs"
	"github.com/openafc/afc-telemetry-core/internal/kafkaoffset"
	"github.com/openafc/afc-telemetry-core/internal/lookup"
	"github.com/openafc/afc-telemetry-core/internal/normalize"
	"github.com/openafc/afc-telemetry-core/internal/pgpool"
)

// logTopicNamePattern restricts auto-created log-table names (spec §6.1
// "written to a table named after the topic (auto-created...)") to a safe
// identifier subset; anything else is replaced with an underscore before
// quoting, so a hostile topic name can't be used to inject SQL via the
// table name itself.
var logTopicNamePattern = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// logTableName derives and safely quotes the per-topic log table name.
func logTableName(topic string) string {
	sanitized := logTopicNamePattern.ReplaceAllString(strings.ToLower(topic), "_")
	return pgx.Identifier{sanitized}.Sanitize()
}

// idlePollTimeout is the "LONG" poll duration spec §4.5 calls for when
// nothing is ready: poll_result is empty and the assembler has nothing
// complete or expired.
const idlePollTimeout = time.Second

// Loop is the siphon main loop (C5), the direct structural descendant of
// gollum's consumer.Kafka.readFromPartition plus
// core.ConsumerBase.TickerControlLoop (spec §4.5).
type Loop struct {
	log  *logrus.Entry
	pool *pgpool.Pool
	kafka *kafkaSource

	alsTopic       string
	excludePattern *regexp.Regexp
	maxBundles     int
	maxRequests    int
	maxAge         time.Duration
	subRefresh     time.Duration
	progressEvery  time.Duration

	tracker   *kafkaoffset.Tracker
	assembler *bundle.Assembler
	lookups   *lookup.Registry
	updater   *normalize.AfcMessageUpdater

	lastSubRefresh time.Time
	lastProgress   time.Time
}

// New builds a Loop from the resolved process settings. It does not start
// consuming until Run is called.
func New(settings config.Settings, pool *pgpool.Pool, log *logrus.Entry) (*Loop, error) {
	pattern, err := regexp.Compile(settings.LogTopicExcludePattern)
	if err != nil {
		return nil, err
	}
	kafka, err := newKafkaSource(settings.KafkaBrokers, settings.KafkaGroupID)
	if err != nil {
		return nil, err
	}

	lookups := lookup.NewRegistry(pool.ALS)
	return &Loop{
		log:            log,
		pool:           pool,
		kafka:          kafka,
		alsTopic:       settings.AlsTopic,
		excludePattern: pattern,
		maxBundles:     settings.MaxBundlesPerFetch,
		maxRequests:    settings.MaxRequestsPerFetch,
		maxAge:         time.Duration(settings.AlsMaxAgeSec) * time.Second,
		subRefresh:     settings.SubscriptionRefreshInterval,
		progressEvery:  settings.ProgressReportInterval,
		tracker:        kafkaoffset.New(),
		assembler:      bundle.New(),
		lookups:        lookups,
		updater:        normalize.NewAfcMessageUpdater(lookups),
	}, nil
}

// Close releases the underlying Kafka resources.
func (l *Loop) Close() {
	l.kafka.close()
}

// Run executes the loop body in spec §4.5's pseudocode until ctx is
// cancelled. Shutdown is cooperative: the current iteration finishes its
// commit before Run returns (spec §8 "siphon stops after a clean Kafka
// commit").
func (l *Loop) Run(ctx context.Context) error {
	now := time.Now()
	if err := l.refreshSubscriptions(); err != nil {
		return err
	}
	l.lastSubRefresh = now
	l.lastProgress = now

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(l.lastSubRefresh) >= l.subRefresh {
			if err := l.refreshSubscriptions(); err != nil {
				l.log.WithError(err).Warn("subscription refresh failed")
			}
			l.lastSubRefresh = time.Now()
		}

		l.runOnce(ctx)
	}
}

// refreshSubscriptions discovers currently-visible topics and subscribes
// to the ALS topic plus every topic not matching excludePattern (spec
// §6.1 "any topic name matching the ALS-exclusion pattern" identifies the
// ALS topic itself so it isn't double-treated as a log topic).
func (l *Loop) refreshSubscriptions() error {
	if err := l.kafka.ensureSubscribed(l.alsTopic); err != nil {
		return err
	}
	topics, err := l.kafka.topics()
	if err != nil {
		return err
	}
	for _, t := range topics {
		if t == l.alsTopic || l.excludePattern.MatchString(t) {
			continue
		}
		if err := l.kafka.ensureSubscribed(t); err != nil {
			l.log.WithError(err).WithField("topic", t).Warn("log-topic subscribe failed")
		}
	}
	return nil
}

// runOnce executes one pass of spec §4.5's pseudocode: poll, dispatch,
// flush log records, persist complete bundles, expire stale ones, commit,
// report progress.
func (l *Loop) runOnce(ctx context.Context) {
	recs := l.poll(ctx, l.maxRequests)

	logBatch := make(map[string][]alsmsg.LogRecord)
	for _, r := range recs {
		tp := kafkaoffset.TopicPartition{Topic: r.Topic, Partition: r.Partition}
		l.tracker.Add(tp, r.Offset)

		if r.Topic == l.alsTopic {
			l.dispatchALS(ctx, r, tp)
			continue
		}

		lr, err := alsmsg.ParseLogRecord(r.Value)
		if err != nil {
			l.writeDecodeError(ctx, r.Topic, r.Partition, r.Offset, err.Error(), r.Value)
			l.tracker.MarkProcessed(tp, r.Offset)
			continue
		}
		logBatch[r.Topic] = append(logBatch[r.Topic], lr)
	}

	if len(logBatch) > 0 {
		l.flushLogRecords(ctx, logBatch)
	}

	complete := l.assembler.FetchComplete(l.maxBundles, l.maxRequests)
	if len(complete) > 0 {
		l.persistBundles(ctx, complete)
	}

	expired := l.assembler.Expire(time.Now(), l.maxAge)
	for _, b := range expired {
		for _, pos := range b.AllPositions() {
			tp := kafkaoffset.TopicPartition{Topic: pos.Topic, Partition: pos.Partition}
			l.writeDecodeError(ctx, pos.Topic, pos.Partition, pos.Offset, "bundle aged out incomplete: "+b.Key, nil)
			l.tracker.MarkProcessed(tp, pos.Offset)
		}
	}

	for tp, watermark := range l.tracker.DrainCommits() {
		l.kafka.commit(tp.Topic, tp.Partition, watermark)
	}

	if time.Since(l.lastProgress) >= l.progressEvery {
		l.log.WithField("in_flight_bundles", l.assembler.Len()).Info("siphon progress")
		l.lastProgress = time.Now()
	}
}

// dispatchALS parses and ingests a single ALS-topic record, marking its
// offset processed immediately on any parse failure (spec §4.5 "on parse
// error: write decode_error; tracker.mark_processed(pos)").
func (l *Loop) dispatchALS(ctx context.Context, r record, tp kafkaoffset.TopicPartition) {
	msg, err := alsmsg.Parse(r.Value)
	if err != nil {
		reason := err.Error()
		var payload []byte
		if pe, ok := err.(*alsmsg.ParseError); ok {
			reason = pe.Reason
			payload = pe.Payload
		}
		l.writeDecodeError(ctx, r.Topic, r.Partition, r.Offset, reason, payload)
		l.tracker.MarkProcessed(tp, r.Offset)
		return
	}

	pos := bundle.Position{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}
	if err := l.assembler.Ingest(string(r.Key), msg, pos, time.Now()); err != nil {
		l.writeDecodeError(ctx, r.Topic, r.Partition, r.Offset, err.Error(), r.Value)
		l.tracker.MarkProcessed(tp, r.Offset)
	}
}

// poll drains up to maxRecords already-buffered records without blocking;
// if none are ready it performs one long wait (spec §4.5 "Idle
// behavior"), matching gollum's non-blocking-select-then-spin loop
// generalized to a bounded wait instead of runtime.Gosched().
func (l *Loop) poll(ctx context.Context, maxRecords int) []record {
	out := make([]record, 0, maxRecords)
	for len(out) < maxRecords {
		select {
		case r := <-l.kafka.records:
			out = append(out, r)
			continue
		default:
		}
		if len(out) > 0 {
			return out
		}
		select {
		case r := <-l.kafka.records:
			out = append(out, r)
		case <-time.After(idlePollTimeout):
			return out
		case <-ctx.Done():
			return out
		}
	}
	return out
}

// persistBundles runs the table updater over one transaction per
// complete-bundle batch, marking every contributing offset processed only
// on success; on failure it rolls back, invalidates every lookup cache,
// and records one decode_error per bundle without marking its offsets
// (spec §4.4/§4.5 "Failure").
func (l *Loop) persistBundles(ctx context.Context, bundles []*bundle.Bundle) {
	byKey := make(map[string]*bundle.Bundle, len(bundles))
	for _, b := range bundles {
		byKey[b.Key] = b
	}

	tx, err := l.pool.ALS.Begin(ctx)
	if err != nil {
		l.log.WithError(err).Error("begin als tx failed")
		return
	}

	month := normalize.MonthIndex(time.Now())
	if err := l.updater.UpdateDB(ctx, tx, byKey, month); err != nil {
		_ = tx.Rollback(ctx)
		l.lookups.InvalidateAll()
		l.logPersistFailure(err, "update_db", len(bundles))
		for _, b := range bundles {
			l.writeDecodeError(ctx, "", 0, 0, "update_db failed for bundle "+b.Key+": "+err.Error(), nil)
		}
		return
	}
	if err := tx.Commit(ctx); err != nil {
		l.lookups.InvalidateAll()
		l.logPersistFailure(err, "commit", len(bundles))
		for _, b := range bundles {
			l.writeDecodeError(ctx, "", 0, 0, "commit failed for bundle "+b.Key+": "+err.Error(), nil)
		}
		return
	}

	for _, b := range bundles {
		for _, pos := range b.AllPositions() {
			tp := kafkaoffset.TopicPartition{Topic: pos.Topic, Partition: pos.Partition}
			l.tracker.MarkProcessed(tp, pos.Offset)
		}
	}
}

// logPersistFailure logs a persistBundles failure at a severity matching
// spec §7's distinction between a transient DB error (expected to clear on
// retry - the bundle's offsets stay unmarked, so the partition's commit
// watermark stops below them and Kafka redelivers them once the consumer
// restarts from the committed offset; the bundle itself has already left
// the assembler and is not reoffered by this process) and a
// permanent one (recorded as a decode_error regardless, since the offset
// still can't be marked processed mid-batch).
func (l *Loop) logPersistFailure(err error, stage string, bundleCount int) {
	entry := l.log.WithError(err).WithField("stage", stage).WithField("bundles", bundleCount)
	if errs.IsTransientDB(err) {
		entry.Warn("persist bundles: transient db error, will retry")
		return
	}
	entry.Error("persist bundles: failed")
}

// flushLogRecords writes every accumulated JSON-log record to its
// per-topic table within a single transaction, then marks every tracked
// offset of each flushed topic processed (spec §4.5 "flush log records
// per topic (single transaction); mark whole topic processed").
func (l *Loop) flushLogRecords(ctx context.Context, batch map[string][]alsmsg.LogRecord) {
	tx, err := l.pool.ALS.Begin(ctx)
	if err != nil {
		l.log.WithError(err).Error("begin log-flush tx failed")
		return
	}

	for topic, records := range batch {
		table := logTableName(topic)
		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS `+table+` (
				source text, time timestamptz, log jsonb)`); err != nil {
			_ = tx.Rollback(ctx)
			l.log.WithError(err).WithField("topic", topic).Error("create log table failed")
			return
		}
		for _, r := range records {
			if _, err := tx.Exec(ctx, `INSERT INTO `+table+` (source, time, log) VALUES ($1, $2, $3)`,
				r.AfcServer, r.Time, r.JSONData); err != nil {
				_ = tx.Rollback(ctx)
				l.log.WithError(err).WithField("topic", topic).Error("insert log record failed")
				return
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		l.log.WithError(err).Error("commit log-flush tx failed")
		return
	}
	for topic := range batch {
		l.tracker.MarkTopicProcessed(topic)
	}
}

// writeDecodeError records a rejected message/bundle in its own short
// transaction - independent of whichever transaction the triggering
// operation was part of, since that one may already be rolled back.
func (l *Loop) writeDecodeError(ctx context.Context, topic string, partition int32, offset int64, reason string, payload []byte) {
	tx, err := l.pool.ALS.Begin(ctx)
	if err != nil {
		l.log.WithError(err).Error("begin decode_error tx failed")
		return
	}
	if err := normalize.WriteDecodeError(ctx, tx, topic, partition, offset, reason, payload); err != nil {
		_ = tx.Rollback(ctx)
		l.log.WithError(err).Error("write decode_error failed")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		l.log.WithError(err).Error("commit decode_error tx failed")
	}
}
