package transaction

import "errors"

// DefaultNumRetries is the number of retries used when Options.NumRetries is zero.
const DefaultNumRetries = 5

// UnlimitedRetries retries for as long as the error matches.
const UnlimitedRetries = -1

// SavepointMode controls whether a block runs in a savepoint.
type SavepointMode int

const (
	// SavepointDefault reuses an enclosing transaction as is, unless it was
	// opened with AutoSavepoint.
	SavepointDefault SavepointMode = iota
	// SavepointAlways opens a savepoint when nested, and a transaction otherwise.
	SavepointAlways
	// SavepointOnly opens a savepoint when nested and otherwise runs the block
	// without any transaction.
	SavepointOnly
	// SavepointNever never opens a savepoint, even under AutoSavepoint.
	SavepointNever
)

// RollbackMode controls how a block's outcome maps to commit or rollback.
type RollbackMode int

const (
	// RollbackDefault commits on success, rolls back on error and swallows ErrRollback.
	RollbackDefault RollbackMode = iota
	// RollbackAlways rolls back even when the block succeeds.
	RollbackAlways
	// RollbackReraise returns ErrRollback to the caller after rolling back.
	RollbackReraise
)

// Options configure one Transaction call. The zero value opens (or joins) a
// transaction on the default shard.
type Options struct {
	// Server is the shard alias to run on.
	Server string

	Savepoint SavepointMode

	// AutoSavepoint makes blocks nested in this one use savepoints unless they
	// ask for SavepointNever.
	AutoSavepoint bool

	// Isolation applies to new top-level transactions only.
	Isolation Isolation

	// RetryOn retries the whole transaction when it fails with an error
	// matching one of these (errors.Is). RetryIf is consulted as well.
	// Retried blocks must be idempotent.
	RetryOn []error
	RetryIf func(error) bool

	// NumRetries bounds the retries after the first attempt: 0 means
	// DefaultNumRetries and UnlimitedRetries never gives up.
	NumRetries int

	// BeforeRetry runs before every new attempt with the attempt number about
	// to start (2 for the first retry) and the error that caused it.
	BeforeRetry func(attempt int, err error)

	Rollback RollbackMode

	// Prepare commits with PREPARE TRANSACTION under this identifier instead
	// of COMMIT. Finish with Manager.CommitPrepared or RollbackPrepared.
	Prepare string
}

func (o Options) retries() bool {
	return len(o.RetryOn) > 0 || o.RetryIf != nil
}

func (o Options) shouldRetry(err error) bool {
	for _, target := range o.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return o.RetryIf != nil && o.RetryIf(err)
}

func (o Options) maxRetries() int {
	if o.NumRetries == 0 {
		return DefaultNumRetries
	}
	return o.NumRetries
}
