package lookup

import "github.com/jackc/pgx/v5/pgxpool"

// Registry holds the four free-form-string lookup caches named in spec
// §4.3 whose surrogate key is an auto-assigned integer: afc_server,
// customer, uls_data_version, geo_data_version.
//
// The other two lookups spec §4.3 names — certification-list and
// afc_config — use a key *deterministically derived* from the value's own
// content: afc_config is keyed by a UUID (internal/digest.UUID), the
// certification list by its hex MD5 digest (internal/digest.Hex).
// Because that mapping requires no database round trip to compute, they
// are not modeled as Cache instances here: internal/normalize computes
// their key locally and performs the table updater's own
// ON-CONFLICT-DO-NOTHING upsert directly.
type Registry struct {
	AfcServer      *Cache
	Customer       *Cache
	UlsDataVersion *Cache
	GeoDataVersion *Cache
}

// NewRegistry builds all four caches against the given ALS-DB pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{
		AfcServer: New(pool,
			`INSERT INTO afc_server (name, month_idx) VALUES ($1, $2)
			 ON CONFLICT (name) DO NOTHING RETURNING afc_server_id`,
			`SELECT afc_server_id FROM afc_server WHERE name = $1`),
		Customer: New(pool,
			`INSERT INTO customer (name, month_idx) VALUES ($1, $2)
			 ON CONFLICT (name) DO NOTHING RETURNING customer_id`,
			`SELECT customer_id FROM customer WHERE name = $1`),
		UlsDataVersion: New(pool,
			`INSERT INTO uls_data_version (value, month_idx) VALUES ($1, $2)
			 ON CONFLICT (value) DO NOTHING RETURNING uls_data_version_id`,
			`SELECT uls_data_version_id FROM uls_data_version WHERE value = $1`),
		GeoDataVersion: New(pool,
			`INSERT INTO geo_data_version (value, month_idx) VALUES ($1, $2)
			 ON CONFLICT (value) DO NOTHING RETURNING geo_data_version_id`,
			`SELECT geo_data_version_id FROM geo_data_version WHERE value = $1`),
	}
}

// InvalidateAll drops every cache's in-memory state (spec §4.3, invoked
// after a transaction rollback per §4.4's failure policy).
func (r *Registry) InvalidateAll() {
	r.AfcServer.Invalidate()
	r.Customer.Invalidate()
	r.UlsDataVersion.Invalidate()
	r.GeoDataVersion.Invalidate()
}
