package pool

import (
	"context"
	"time"
)

// SinglePool keeps at most one connection and does no locking. It must only be
// used from one goroutine at a time.
type SinglePool[C comparable] struct {
	*base[C]
	conn   C
	has    bool
	closed bool
}

// NewSinglePool builds a KindSingle pool.
func NewSinglePool[C comparable](cfg Config, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts ...Option) (*SinglePool[C], error) {
	b, err := newBase(cfg, KindSingle, connect, disconnect, opts)
	if err != nil {
		return nil, err
	}
	return &SinglePool[C]{base: b}, nil
}

// Hold runs fn with the pool's connection, creating it on first use.
func (p *SinglePool[C]) Hold(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.hold(ctx, shard, p.Acquire, fn)
}

// Synchronize is Hold.
func (p *SinglePool[C]) Synchronize(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.Hold(ctx, shard, fn)
}

// Acquire returns the pool's connection, creating it if needed. Releasing the
// lease keeps the connection in place.
func (p *SinglePool[C]) Acquire(ctx context.Context, _ string) (*Lease[C], error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	ctx, sess, owned := ensureSession(ctx)
	if !p.has {
		start := time.Now()
		conn, err := p.create(ctx, DefaultShard)
		p.observe("acquire", DefaultShard, time.Since(start), err, nil)
		if err != nil {
			if owned {
				sess.end()
			}
			return nil, err
		}
		p.conn, p.has = conn, true
	}
	conn := p.conn
	lease := newLease(ctx, DefaultShard, conn, func(discard bool) {
		if discard && p.has && p.conn == conn {
			var zero C
			p.conn, p.has = zero, false
			_ = p.destroy(ctx, DefaultShard, conn)
		}
	})
	if owned {
		lease.own(sess)
	}
	return lease, nil
}

// Disconnect destroys the connection if there is one.
func (p *SinglePool[C]) Disconnect(...string) error {
	if !p.has {
		return nil
	}
	conn := p.conn
	var zero C
	p.conn, p.has = zero, false
	return p.destroy(context.Background(), DefaultShard, conn)
}

// AddServers fails with ErrNotSharded.
func (p *SinglePool[C]) AddServers(...string) error {
	return ErrNotSharded
}

// RemoveServers rejects DefaultShard and fails with ErrNotSharded for any other shard.
func (p *SinglePool[C]) RemoveServers(shards ...string) error {
	if err := checkRemovable(shards); err != nil {
		return err
	}
	return ErrNotSharded
}

// Servers returns DefaultShard only.
func (p *SinglePool[C]) Servers() []string { return []string{DefaultShard} }

// Size is 1 while the connection exists and 0 otherwise.
func (p *SinglePool[C]) Size(string) int {
	if p.has {
		return 1
	}
	return 0
}

// MaxSize is always 1.
func (p *SinglePool[C]) MaxSize() int { return 1 }

// AllConnections calls fn with the connection if there is one.
func (p *SinglePool[C]) AllConnections(_ context.Context, fn func(conn C) error) error {
	if !p.has {
		return nil
	}
	return fn(p.conn)
}

// Preconnect opens the connection if it is missing.
func (p *SinglePool[C]) Preconnect(ctx context.Context, _ bool) error {
	if p.closed {
		return ErrPoolClosed
	}
	if p.has {
		return nil
	}
	conn, err := p.create(ctx, DefaultShard)
	if err != nil {
		return err
	}
	p.conn, p.has = conn, true
	return nil
}

// Stats reports the single slot as the default shard.
func (p *SinglePool[C]) Stats() Stats {
	size := p.Size(DefaultShard)
	return p.stats(map[string]ShardStats{
		DefaultShard: {Size: size, Available: size, MaxSize: 1},
	})
}

// Close disconnects the connection. Later acquisitions fail with ErrPoolClosed.
func (p *SinglePool[C]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.Disconnect()
}
