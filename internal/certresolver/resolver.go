// Package certresolver implements the certification & config resolver
// (C8, spec §4.8): given a request's AP serial and certification list, it
// produces an allow/deny decision per certification and resolves the
// applicable AFC-config body for a ruleset.
//
// Grounded on original_source/afc_server/afc_server_db.py's AfcCertReq /
// AfcCertResp / AfcServerDb._get_cert_infos: the same ruleset ⋈ cert ⋈
// deny (LEFT OUTER) join, filtered on the union of requested (ruleset,
// cert_id) pairs and serials, is reused here, translated from SQLAlchemy
// core to a literal SQL string against jackc/pgx/v5.
package certresolver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CertPair identifies a single (ruleset, cert_id) pair, the "certification"
// unit spec §3.1/§4.8 reasons about.
type CertPair struct {
	Ruleset string
	CertID  string
}

// Query is one AP's allow/deny request: its serial number and the set of
// certifications its device descriptor carries.
type Query struct {
	Serial string
	Certs  []CertPair
}

// CertResult is the per-certification outcome spec §4.8 "Output" names.
type CertResult struct {
	Ruleset        string
	CertID         string
	LocationFlags  *int
	CertUndefined  bool
	CertDenied     bool
	SerialDenied   bool
}

// outdoorFlag is the bit hardcoded_relations.CERT_ID_LOCATION_OUTDOOR names
// in the original source: a device descriptor certified only for indoor
// deployment fails "outdoor not allowed" (spec §4.8).
const outdoorFlag = 1 << 1

// Denied reports whether this certification fails any of spec §4.8's four
// deny criteria.
func (r CertResult) Denied() bool {
	if r.CertUndefined || r.CertDenied || r.SerialDenied {
		return true
	}
	if r.LocationFlags == nil {
		return true
	}
	return *r.LocationFlags&outdoorFlag == 0
}

// Result is the full allow/deny response for one Query.
type Result struct {
	Serial string
	Certs  []CertResult
}

// Allowed returns the subset of Certs that fail none of the deny criteria.
func (r Result) Allowed() []CertResult {
	out := make([]CertResult, 0, len(r.Certs))
	for _, c := range r.Certs {
		if !c.Denied() {
			out = append(out, c)
		}
	}
	return out
}

type certInfo struct {
	locationFlags  int
	deniedSerials  map[string]bool // "" key means "serial_number IS NULL", i.e. unrestricted deny
}

// Resolve answers a batch of Queries with a single round-trip: one SELECT
// across ruleset ⋈ cert ⋈ deny filtered on the union of every requested
// (ruleset, cert_id) pair and every requested serial (spec §4.8 "Query
// shape"). The resulting table is over-complete - for a denied pair it
// carries every denied serial from the requested-serial universe - so the
// per-Query filtering happens here, in Go, after the round trip.
func Resolve(ctx context.Context, pool *pgxpool.Pool, queries []Query, special SpecialCertifications) (map[string]Result, error) {
	pairSet := map[CertPair]bool{}
	serialSet := map[string]bool{}
	for _, q := range queries {
		serialSet[q.Serial] = true
		for _, c := range q.Certs {
			pairSet[c] = true
		}
	}
	if len(pairSet) == 0 {
		out := make(map[string]Result, len(queries))
		for _, q := range queries {
			out[q.Serial] = Result{Serial: q.Serial}
		}
		return out, nil
	}

	rulesets := make([]string, 0, len(pairSet))
	certIDs := make([]string, 0, len(pairSet))
	seen := map[string]bool{}
	for p := range pairSet {
		if !seen[p.Ruleset+"\x00"+p.CertID] {
			seen[p.Ruleset+"\x00"+p.CertID] = true
			rulesets = append(rulesets, p.Ruleset)
			certIDs = append(certIDs, p.CertID)
		}
	}
	serials := make([]string, 0, len(serialSet))
	for s := range serialSet {
		serials = append(serials, s)
	}

	rows, err := pool.Query(ctx, `
		SELECT r.name AS ruleset, c.certification_id, c.location, d.id, d.serial_number
		FROM aaa_ruleset r
		JOIN cert_id c ON r.id = c.ruleset_id
		LEFT OUTER JOIN access_point_deny d ON d.certification_id = c.certification_id
		WHERE (r.name, c.certification_id) IN (
			SELECT * FROM unnest($1::text[], $2::text[])
		)
		AND (d.serial_number IS NULL OR d.serial_number = ANY($3))`,
		rulesets, certIDs, serials)
	if err != nil {
		return nil, fmt.Errorf("certresolver: query: %w", err)
	}
	defer rows.Close()

	infos := map[CertPair]*certInfo{}
	for rows.Next() {
		var ruleset, certID string
		var location int
		var denyID *int64
		var deniedSerial *string
		if err := rows.Scan(&ruleset, &certID, &location, &denyID, &deniedSerial); err != nil {
			return nil, fmt.Errorf("certresolver: scan: %w", err)
		}
		pair := CertPair{Ruleset: ruleset, CertID: certID}
		ci, ok := infos[pair]
		if !ok {
			ci = &certInfo{locationFlags: location, deniedSerials: map[string]bool{}}
			infos[pair] = ci
		}
		// denyID is non-nil only when the left join actually matched a deny
		// row; a cert with no deny row at all must not be treated as denied.
		if denyID == nil {
			continue
		}
		if deniedSerial != nil {
			ci.deniedSerials[*deniedSerial] = true
		} else {
			ci.deniedSerials[""] = true // unrestricted deny row was present
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("certresolver: rows: %w", err)
	}

	out := make(map[string]Result, len(queries))
	for _, q := range queries {
		res := Result{Serial: q.Serial}
		for _, pair := range q.Certs {
			ci, known := infos[pair]
			cr := CertResult{Ruleset: pair.Ruleset, CertID: pair.CertID, CertUndefined: !known}
			if known {
				flags := ci.locationFlags
				cr.LocationFlags = &flags
				cr.CertDenied = ci.deniedSerials[""]
				cr.SerialDenied = ci.deniedSerials[q.Serial]
			}
			if cr.CertUndefined {
				if props, ok := special.Lookup(pair.CertID, q.Serial); ok {
					cr.CertUndefined = false
					flags := props.LocationFlags
					cr.LocationFlags = &flags
				}
			}
			res.Certs = append(res.Certs, cr)
		}
		out[q.Serial] = res
	}
	return out, nil
}
