// Package pool shares a bounded set of physical database connections between
// concurrent callers.
//
// # Overview
//
// The package knows nothing about database drivers. A pool is built from two
// callbacks: a ConnectFunc that opens a raw connection for a shard, and a
// DisconnectFunc that tears one down. Everything else (bounding, waiting,
// shard routing, replacing broken connections) happens here.
//
// Six strategies implement the same Pool interface:
//
//   - KindSingle and KindShardedSingle keep one connection (per shard) and do
//     no locking. They are for single-goroutine programs.
//   - KindThreaded and KindShardedThreaded bound the number of connections per
//     shard and park callers on a waiter list when the bound is reached.
//   - KindTimedQueue and KindShardedTimedQueue have the same contract but keep
//     idle connections in a buffered channel and wait with a timed receive.
//
// New picks a strategy from Config:
//
//	p, err := pool.New(pool.Config{MaxConnections: 8}, connect, disconnect,
//	    pool.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	err = p.Hold(ctx, "default", func(ctx context.Context, conn *sql.Conn) error {
//	    _, err := conn.ExecContext(ctx, "UPDATE jobs SET state = 'done'")
//	    return err
//	})
//
// # Sessions
//
// Allocations are owned by a session carried in the context, which plays the
// part a thread plays in thread-keyed pools. Hold starts a session when the
// context has none, hands the session-carrying context to the callback and
// ends the session when it returns; nested Hold calls made with that context
// get the same connection back instead of blocking on a second one.
//
// A goroutine started from inside a callback must not reuse the parent's
// session. Derive its context with NewSession and call the returned end func
// when the goroutine is done.
//
// Cancelling a context does not end its session: a lease acquired under a
// request deadline stays with its owner until it is released. A session is
// dead once it has ended while none of its Hold calls is running. A lease
// from Acquire ends the session Acquire started when it is released, or when
// the lease is garbage collected without being released. When a shard is at
// capacity the pool reclaims connections held by dead sessions, so a worker
// that dropped its lease cannot starve the pool.
//
// # Shards
//
// Sharded pools route by shard name. Config.ServersHash adds aliases, and an
// unknown alias resolves to DefaultShard unless Config.StrictServers is set.
// The default shard always exists and cannot be removed.
//
// # Errors
//
// A callback error that IsDisconnectError accepts makes the pool destroy the
// connection rather than return it to service. Acquisitions that do not
// complete within Config.PoolTimeout fail with a *PoolTimeoutError.
package pool
