// Package errs enumerates the sentinel error kinds named in spec §7, so
// callers can classify failures with errors.Is instead of string matching.
package errs

import (
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrProtocol indicates a Kafka message failed to parse as the
	// documented wire envelope (spec §6.1).
	ErrProtocol = errors.New("als: protocol violation")

	// ErrJSONFormat indicates a request/response/config payload was not
	// valid JSON where JSON was required.
	ErrJSONFormat = errors.New("als: malformed json")

	// ErrSchema indicates a payload parsed as JSON but failed the
	// documented structural contract (missing field, wrong type, index
	// out of range).
	ErrSchema = errors.New("als: schema violation")

	// ErrTransientDB indicates a Postgres operation failed in a way that
	// is expected to succeed on retry (connection reset, deadlock).
	ErrTransientDB = errors.New("db: transient failure")

	// ErrDeadlineExpired indicates a batcher promise was not resolved
	// before its configured deadline.
	ErrDeadlineExpired = errors.New("batcher: deadline expired")

	// ErrInvalidationDisabled is part of the documented taxonomy (spec §7)
	// but never returned: per spec, a disabled invalidation toggle queues
	// the request instead of failing it (see rcache.Store.runOrQueue).
	ErrInvalidationDisabled = errors.New("rcache: invalidation disabled")

	// ErrPrecomputationDisabled indicates an AFC recomputation request was
	// rejected because precomputation has been administratively paused
	// (spec §6.3 "POST /precomputation_state/false").
	ErrPrecomputationDisabled = errors.New("rcache: precomputation disabled")
)

// IsTransientDB reports whether err looks like a connection-level failure
// (reset, timeout, refused) rather than a query/constraint failure, per
// spec §7's "transient DB error... left for retry" versus a permanent
// schema/data problem. Callers use this to choose log severity; it never
// changes commit/retry behavior, which already leaves the Kafka offset
// uncommitted on any persistBundles failure.
func IsTransientDB(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception (PostgreSQL error code prefix).
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return errors.Is(err, ErrTransientDB)
}
