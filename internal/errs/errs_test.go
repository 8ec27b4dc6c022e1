package errs

import (
	"errors"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "fake net error" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}

func TestIsTransientDB_NetError(t *testing.T) {
	assert.True(t, IsTransientDB(fakeNetError{}))
}

func TestIsTransientDB_ConnectionExceptionPgError(t *testing.T) {
	err := &pgconn.PgError{Code: "08006"}
	assert.True(t, IsTransientDB(err))
}

func TestIsTransientDB_ConstraintViolationIsNotTransient(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"}
	assert.False(t, IsTransientDB(err))
}

func TestIsTransientDB_WrappedSentinel(t *testing.T) {
	err := errors.New("db: connection reset")
	wrapped := errors.Join(ErrTransientDB, err)
	assert.True(t, IsTransientDB(wrapped))
}

func TestIsTransientDB_NilIsFalse(t *testing.T) {
	assert.False(t, IsTransientDB(nil))
}
