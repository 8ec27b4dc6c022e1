package pgpool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// expectedColumn is one hand-maintained (table, column) pair checked
// against information_schema.columns at startup (spec §6.2 "runtime
// reflection of database metadata... retained as a startup integrity
// check against a hand-maintained DDL constant").
type expectedColumn struct {
	table  string
	column string
}

// expectedALSColumns enumerates the eight-table normalized core plus the
// decode_error side table (spec §3.1). Not exhaustive of every column —
// enough to catch a missing table or a renamed/dropped key column.
var expectedALSColumns = []expectedColumn{
	{"device_descriptor", "digest"},
	{"device_descriptor", "certification_digest"},
	{"certification", "list_digest"},
	{"certification", "list_index"},
	{"certification", "ruleset"},
	{"certification", "cert_id"},
	{"location", "digest"},
	{"location", "coordinates"},
	{"location", "uncertainty_radius_m"},
	{"compressed_json", "digest"},
	{"compressed_json", "compressed_data"},
	{"max_psd", "request_response_digest"},
	{"max_eirp", "request_response_digest"},
	{"request_response", "digest"},
	{"request_response", "device_descriptor_digest"},
	{"request_response", "location_digest"},
	{"request_response_in_message", "message_id"},
	{"request_response_in_message", "request_id"},
	{"request_response_in_message", "request_response_digest"},
	{"request_response_in_message", "expire_time"},
	{"afc_message", "afc_message_id"},
	{"afc_message", "rx_envelope_digest"},
	{"afc_message", "tx_envelope_digest"},
	{"rx_envelope", "digest"},
	{"tx_envelope", "digest"},
	{"decode_error", "topic"},
	{"decode_error", "partition"},
	{"decode_error", "offset"},
	{"decode_error", "reason"},
}

// expectedCacheColumns enumerates the response-cache table (spec §4.7).
var expectedCacheColumns = []expectedColumn{
	{"cache", "serial_number"},
	{"cache", "rulesets"},
	{"cache", "cert_ids"},
	{"cache", "state"},
	{"cache", "config_ruleset"},
	{"cache", "coordinates"},
	{"cache", "last_update"},
	{"cache", "validity_period_seconds"},
	{"cache", "req_cfg_digest"},
	{"cache", "request"},
	{"cache", "response"},
}

// CheckSchema queries information_schema.columns for every expected
// (table, column) pair and returns an error naming the first mismatch. A
// schema mismatch is fatal at startup per spec §7.
func (p *Pool) CheckSchema(ctx context.Context) error {
	if err := checkColumns(ctx, p.ALS, expectedALSColumns); err != nil {
		return fmt.Errorf("als db schema: %w", err)
	}
	if err := checkColumns(ctx, p.Cache, expectedCacheColumns); err != nil {
		return fmt.Errorf("cache db schema: %w", err)
	}
	return nil
}

func checkColumns(ctx context.Context, pool *pgxpool.Pool, cols []expectedColumn) error {
	const q = `SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`
	for _, c := range cols {
		var present int
		err := pool.QueryRow(ctx, q, c.table, c.column).Scan(&present)
		if err != nil {
			return fmt.Errorf("missing column %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}
