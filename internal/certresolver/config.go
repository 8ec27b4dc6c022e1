package certresolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RulesetToRegion is the hardcoded ruleset->region mapping spec §4.8 "AFC-
// config resolver" names. The original source (hardcoded_relations module)
// was not part of the retrieved pack; the regulatory-domain identifiers
// below are the ones the rest of the AFC ecosystem uses and are kept as a
// package-level var so a deployment can override it without touching the
// query logic.
var RulesetToRegion = map[string]string{
	"US_47_CFR_PART_15_SUBPART_E": "US",
	"CA_RES_DBS-06":               "CA",
	"BRAZIL_RULESET":              "BRAZIL",
}

// ResolveConfigs resolves an AFC-config JSON body per requested ruleset ID,
// via a single batched SELECT over the union of regions the requested
// rulesets map to (spec §4.8 "AFC-config resolver"). A ruleset with no
// mapping, or a region with no stored config, resolves to a nil body.
func ResolveConfigs(ctx context.Context, pool *pgxpool.Pool, rulesetIDs []string) (map[string]json.RawMessage, error) {
	rulesetToRegion := make(map[string]string, len(rulesetIDs))
	regionSet := map[string]bool{}
	for _, id := range rulesetIDs {
		if region, ok := RulesetToRegion[id]; ok {
			rulesetToRegion[id] = region
			regionSet[region] = true
		}
	}

	out := make(map[string]json.RawMessage, len(rulesetIDs))
	if len(regionSet) == 0 {
		for _, id := range rulesetIDs {
			out[id] = nil
		}
		return out, nil
	}

	regions := make([]string, 0, len(regionSet))
	for r := range regionSet {
		regions = append(regions, r)
	}

	regionToConfig := map[string]json.RawMessage{}
	rows, err := pool.Query(ctx, `
		SELECT config FROM afc_config_ratdb
		WHERE config->>'regionStr' = ANY($1)`, regions)
	if err != nil {
		return nil, fmt.Errorf("certresolver: config query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw json.RawMessage
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("certresolver: config scan: %w", err)
		}
		var tagged struct {
			RegionStr string `json:"regionStr"`
		}
		if err := json.Unmarshal(raw, &tagged); err != nil {
			continue
		}
		regionToConfig[tagged.RegionStr] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("certresolver: config rows: %w", err)
	}

	for _, id := range rulesetIDs {
		region, ok := rulesetToRegion[id]
		if !ok {
			out[id] = nil
			continue
		}
		out[id] = regionToConfig[region] // nil if region has no stored config
	}
	return out, nil
}

// ConfigText extracts the AFC-config text for a single ruleset, returning
// pgx.ErrNoRows-shaped "not found" as a plain ok=false - fingerprint
// computation (spec §4.9) needs the raw text, not the parsed object.
func ConfigText(ctx context.Context, pool *pgxpool.Pool, rulesetID string) (string, bool, error) {
	region, ok := RulesetToRegion[rulesetID]
	if !ok {
		return "", false, nil
	}
	var text string
	err := pool.QueryRow(ctx, `
		SELECT config::text FROM afc_config_ratdb WHERE config->>'regionStr' = $1`, region,
	).Scan(&text)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}
