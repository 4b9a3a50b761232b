package pool

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Errors returned by the pools. Configuration errors all wrap ErrConfiguration
// and are returned before any pool state is touched.
var (
	// ErrPoolTimeout is matched by every *PoolTimeoutError.
	ErrPoolTimeout = errors.New("pool timeout")

	// ErrDisconnect marks a connection as unusable. Callbacks may return it
	// (or wrap it) to have the pool discard the connection they were given.
	ErrDisconnect = errors.New("connection is no longer usable")

	// ErrConfiguration is the parent of every configuration error.
	ErrConfiguration = errors.New("invalid pool configuration")

	// ErrInvalidMaxConnections is returned for a negative connection bound.
	ErrInvalidMaxConnections = fmt.Errorf("%w: max connections must be at least 1", ErrConfiguration)

	// ErrInvalidPoolTimeout is returned for a negative acquisition timeout.
	ErrInvalidPoolTimeout = fmt.Errorf("%w: pool timeout must not be negative", ErrConfiguration)

	// ErrRemoveDefaultShard is returned when RemoveServers includes DefaultShard.
	ErrRemoveDefaultShard = fmt.Errorf("%w: cannot remove the default shard", ErrConfiguration)

	// ErrUnknownKind is returned for an unrecognised pool kind name.
	ErrUnknownKind = fmt.Errorf("%w: unknown pool kind", ErrConfiguration)

	// ErrInvalidConnectionHandling is returned for an unrecognised connection handling policy.
	ErrInvalidConnectionHandling = fmt.Errorf("%w: unknown connection handling", ErrConfiguration)

	// ErrNotSharded is returned when shards are added to or removed from an unsharded pool.
	ErrNotSharded = fmt.Errorf("%w: pool is not sharded", ErrConfiguration)

	// ErrMissingConnectFunc is returned when a pool is built without a connection factory.
	ErrMissingConnectFunc = fmt.Errorf("%w: connect function is required", ErrConfiguration)

	// ErrPoolClosed is returned by every acquisition after Close.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrUnknownShard is returned for unknown aliases when Config.StrictServers is set.
	ErrUnknownShard = errors.New("unknown shard")
)

// PoolTimeoutError reports an acquisition that did not complete within the configured timeout.
type PoolTimeoutError struct {
	// Timeout is the configured pool timeout.
	Timeout time.Duration
	// Elapsed is how long the caller actually waited.
	Elapsed time.Duration
	// Shard is the canonical shard that was exhausted.
	Shard string
	// Database is the logical database name, if configured.
	Database string
}

func (e *PoolTimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timeout: %s, elapsed: %s", e.Timeout, e.Elapsed.Round(time.Millisecond))
	if e.Shard != "" && e.Shard != DefaultShard {
		fmt.Fprintf(&b, ", shard: %s", e.Shard)
	}
	if e.Database != "" {
		fmt.Fprintf(&b, ", database: %s", e.Database)
	}
	return "pool timeout (" + b.String() + ")"
}

// Is makes errors.Is(err, ErrPoolTimeout) succeed.
func (e *PoolTimeoutError) Is(target error) bool {
	return target == ErrPoolTimeout
}

// DisconnectError wraps an error that left a connection unusable.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	if e.Err == nil {
		return ErrDisconnect.Error()
	}
	return "disconnect: " + e.Err.Error()
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDisconnect) succeed.
func (e *DisconnectError) Is(target error) bool {
	return target == ErrDisconnect
}

// NewDisconnectError marks err as disconnect-class.
func NewDisconnectError(err error) error {
	return &DisconnectError{Err: err}
}

// MySQL client and server error numbers that mean the session is gone.
var mysqlDisconnectCodes = map[uint16]struct{}{
	1053: {}, // ER_SERVER_SHUTDOWN
	2006: {}, // CR_SERVER_GONE_ERROR
	2013: {}, // CR_SERVER_LOST
}

// IsDisconnectError reports whether err means the connection it came from
// must be discarded instead of being returned to the pool.
func IsDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnect) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return true
		}
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := mysqlDisconnectCodes[myErr.Number]
		return ok
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ErrorCategory groups pool errors for callers that branch on the kind of failure.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryTimeout
	CategoryConnection
	CategoryConfiguration
	CategoryClosed
	CategoryRouting
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTimeout:
		return "timeout"
	case CategoryConnection:
		return "connection"
	case CategoryConfiguration:
		return "configuration"
	case CategoryClosed:
		return "closed"
	case CategoryRouting:
		return "routing"
	default:
		return "unknown"
	}
}

// GetErrorCategory returns the category of the given error
func GetErrorCategory(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrPoolTimeout):
		return CategoryTimeout
	case errors.Is(err, ErrConfiguration):
		return CategoryConfiguration
	case errors.Is(err, ErrPoolClosed):
		return CategoryClosed
	case errors.Is(err, ErrUnknownShard):
		return CategoryRouting
	case IsDisconnectError(err):
		return CategoryConnection
	default:
		return CategoryUnknown
	}
}

// IsRetryable returns true if the error might be resolved by retrying the operation
func IsRetryable(err error) bool {
	switch GetErrorCategory(err) {
	case CategoryTimeout, CategoryConnection:
		return true
	default:
		return false
	}
}
