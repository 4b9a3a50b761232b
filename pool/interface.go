package pool

import (
	"context"
)

// ConnectFunc creates a new raw connection for the given canonical shard.
type ConnectFunc[C comparable] func(ctx context.Context, shard string) (C, error)

// DisconnectFunc tears down a raw connection. It may be called on a connection
// that is already broken and must not block indefinitely.
type DisconnectFunc[C comparable] func(conn C) error

// HoldFunc runs with a checked-out connection. ctx carries the session that owns
// the connection, so nested Hold calls made with it reuse the same connection.
type HoldFunc[C comparable] func(ctx context.Context, conn C) error

// Pool is the contract shared by every pool strategy.
//
// Shard arguments are aliases: they are resolved through Config.ServersHash and
// unknown names fall back to DefaultShard. An empty shard means DefaultShard.
type Pool[C comparable] interface {
	// Hold checks out a connection for shard, runs fn with it and checks it back
	// in on every exit path. A disconnect-class error from fn discards the
	// connection; the error is returned either way. A panic in fn releases the
	// connection and is re-raised.
	Hold(ctx context.Context, shard string, fn HoldFunc[C]) error

	// Synchronize is an alias of Hold.
	Synchronize(ctx context.Context, shard string, fn HoldFunc[C]) error

	// Acquire checks out a connection without a callback scope. The caller must
	// call Release (or Discard) on the returned lease exactly once.
	Acquire(ctx context.Context, shard string) (*Lease[C], error)

	// Disconnect destroys the idle connections of the given shards, or of all
	// shards when none are given. Checked-out connections are not affected.
	Disconnect(shards ...string) error

	// AddServers registers new shards. Registering a known shard is a no-op.
	AddServers(shards ...string) error

	// RemoveServers forgets the given shards. It fails without changing anything
	// if DefaultShard is among them.
	RemoveServers(shards ...string) error

	// Servers lists the canonical shard names, sorted.
	Servers() []string

	// Size is the number of live connections (idle plus checked out) of shard.
	Size(shard string) int

	// MaxSize is the configured per-shard connection bound.
	MaxSize() int

	// AllConnections runs fn on the connection the session of ctx holds (if any)
	// and on every idle connection, while no other goroutine can use the pool.
	// Never use it on a hot path.
	AllConnections(ctx context.Context, fn func(conn C) error) error

	// Preconnect creates connections until every shard is at MaxSize.
	Preconnect(ctx context.Context, concurrent bool) error

	// Kind reports the pool strategy.
	Kind() Kind

	// Stats returns a point-in-time snapshot of the pool.
	Stats() Stats

	// Close disconnects every idle connection and makes further acquisitions
	// fail with ErrPoolClosed. Connections still checked out are destroyed on
	// checkin.
	Close() error
}

// ShardStats is the state of one shard at a point in time.
type ShardStats struct {
	Size      int
	Available int
	Allocated int
	Waiting   int
	MaxSize   int
}

// Stats is a snapshot of a pool.
type Stats struct {
	Kind     Kind
	Database string
	Shards   map[string]ShardStats

	// Cumulative counters since the pool was created.
	Created   uint64
	Destroyed uint64
	Timeouts  uint64
	Reclaimed uint64
}
