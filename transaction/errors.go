package transaction

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrRollback asks for the current transaction (or savepoint) to be rolled
	// back. Returned from a transaction block it causes a rollback and is then
	// swallowed, unless Options.Rollback is RollbackReraise.
	ErrRollback = errors.New("transaction rollback requested")

	// ErrSavepointsUnsupported is returned when a savepoint is required but the
	// dialect has none.
	ErrSavepointsUnsupported = errors.New("savepoints are not supported by this dialect")

	// ErrPreparedUnsupported is returned for two-phase commit on a dialect
	// without prepared transactions.
	ErrPreparedUnsupported = errors.New("prepared transactions are not supported by this dialect")

	// ErrRetryInNested is returned when retries are requested for a block that
	// would run inside an already open transaction.
	ErrRetryInNested = errors.New("cannot retry a transaction nested in another transaction")

	// ErrRetriesExhausted wraps the last error once every attempt has failed.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")

	// ErrRollbackAlwaysNested is returned when RollbackAlways is requested
	// inside a transaction on a dialect without savepoints.
	ErrRollbackAlwaysNested = errors.New("cannot always roll back inside a transaction without savepoints")

	// ErrNotInTransaction is returned by operations that need an open transaction.
	ErrNotInTransaction = errors.New("not in a transaction")
)

// RollbackError reports a rollback that failed. Err is the rollback failure
// and Cause the error that triggered the rollback; both match errors.Is.
type RollbackError struct {
	Err   error
	Cause error
}

func (e *RollbackError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("rollback failed: %v", e.Err)
	}
	return fmt.Sprintf("rollback failed: %v (rolling back after: %v)", e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

// IsSerializationFailure reports whether err is a serialization failure or
// deadlock that the database resolved by aborting the transaction. Such
// transactions can usually be retried, so it is a good Options.RetryIf.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}
