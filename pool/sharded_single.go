package pool

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShardedSinglePool keeps at most one connection per shard and does no
// locking. It must only be used from one goroutine at a time.
type ShardedSinglePool[C comparable] struct {
	*base[C]
	conns  map[string]C
	closed bool
}

// NewShardedSinglePool builds a KindShardedSingle pool.
func NewShardedSinglePool[C comparable](cfg Config, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts ...Option) (*ShardedSinglePool[C], error) {
	b, err := newBase(cfg, KindShardedSingle, connect, disconnect, opts)
	if err != nil {
		return nil, err
	}
	return &ShardedSinglePool[C]{base: b, conns: make(map[string]C)}, nil
}

func (p *ShardedSinglePool[C]) isShard(name string) bool {
	canonical, ok := p.servers[name]
	return ok && canonical == name
}

// Hold runs fn with the connection of shard, creating it on first use.
func (p *ShardedSinglePool[C]) Hold(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.hold(ctx, shard, p.Acquire, fn)
}

// Synchronize is Hold.
func (p *ShardedSinglePool[C]) Synchronize(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.Hold(ctx, shard, fn)
}

// Acquire returns the connection of shard, creating it if needed. Releasing
// the lease keeps the connection in place.
func (p *ShardedSinglePool[C]) Acquire(ctx context.Context, alias string) (*Lease[C], error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	shard, err := p.resolve(alias, p.isShard)
	if err != nil {
		return nil, err
	}
	ctx, sess, owned := ensureSession(ctx)
	conn, ok := p.conns[shard]
	if !ok {
		start := time.Now()
		conn, err = p.create(ctx, shard)
		p.observe("acquire", shard, time.Since(start), err, nil)
		if err != nil {
			if owned {
				sess.end()
			}
			return nil, err
		}
		p.conns[shard] = conn
	}
	lease := newLease(ctx, shard, conn, func(discard bool) {
		if cur, ok := p.conns[shard]; discard && ok && cur == conn {
			delete(p.conns, shard)
			_ = p.destroy(ctx, shard, conn)
		}
	})
	if owned {
		lease.own(sess)
	}
	return lease, nil
}

// Disconnect destroys the connections of the given shards, or of every shard.
func (p *ShardedSinglePool[C]) Disconnect(shards ...string) error {
	if len(shards) == 0 {
		shards = p.canonicalServers()
	}
	var errs []error
	for _, alias := range shards {
		shard, err := p.resolve(alias, p.isShard)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conn, ok := p.conns[shard]
		if !ok {
			continue
		}
		delete(p.conns, shard)
		if err := p.destroy(context.Background(), shard, conn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddServers adds shards. Existing shards are left alone.
func (p *ShardedSinglePool[C]) AddServers(shards ...string) error {
	for _, s := range shards {
		if p.isShard(s) {
			continue
		}
		p.addServer(s)
		p.logInfo(context.Background(), "shard added", map[string]interface{}{"shard": s})
	}
	return nil
}

// RemoveServers disconnects and forgets shards. It fails before changing
// anything if DefaultShard is among them.
func (p *ShardedSinglePool[C]) RemoveServers(shards ...string) error {
	if err := checkRemovable(shards); err != nil {
		return err
	}
	var errs []error
	for _, s := range shards {
		if !p.isShard(s) {
			continue
		}
		if conn, ok := p.conns[s]; ok {
			delete(p.conns, s)
			if err := p.destroy(context.Background(), s, conn); err != nil {
				errs = append(errs, err)
			}
		}
		p.forgetServer(s)
		p.logInfo(context.Background(), "shard removed", map[string]interface{}{"shard": s})
	}
	return errors.Join(errs...)
}

// Servers lists the canonical shard names.
func (p *ShardedSinglePool[C]) Servers() []string { return p.canonicalServers() }

// Size is 1 when the shard has a connection.
func (p *ShardedSinglePool[C]) Size(alias string) int {
	shard, err := p.resolve(alias, p.isShard)
	if err != nil {
		return 0
	}
	if _, ok := p.conns[shard]; ok {
		return 1
	}
	return 0
}

// MaxSize is always 1.
func (p *ShardedSinglePool[C]) MaxSize() int { return 1 }

// AllConnections calls fn with the connection of every shard that has one.
func (p *ShardedSinglePool[C]) AllConnections(_ context.Context, fn func(conn C) error) error {
	for _, shard := range p.canonicalServers() {
		if conn, ok := p.conns[shard]; ok {
			if err := fn(conn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Preconnect opens the missing connection of every shard. With concurrent set
// the connections are opened in parallel and stored once all have returned.
func (p *ShardedSinglePool[C]) Preconnect(ctx context.Context, concurrent bool) error {
	if p.closed {
		return ErrPoolClosed
	}
	var missing []string
	for _, shard := range p.canonicalServers() {
		if _, ok := p.conns[shard]; !ok {
			missing = append(missing, shard)
		}
	}

	if !concurrent {
		for _, shard := range missing {
			conn, err := p.create(ctx, shard)
			if err != nil {
				return err
			}
			p.conns[shard] = conn
		}
		return nil
	}

	conns := make([]C, len(missing))
	ok := make([]bool, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range missing {
		g.Go(func() error {
			conn, err := p.create(gctx, shard)
			if err != nil {
				return err
			}
			conns[i], ok[i] = conn, true
			return nil
		})
	}
	err := g.Wait()
	for i, shard := range missing {
		if ok[i] {
			p.conns[shard] = conns[i]
		}
	}
	return err
}

// Stats reports every shard with a bound of one.
func (p *ShardedSinglePool[C]) Stats() Stats {
	shards := make(map[string]ShardStats)
	for _, shard := range p.canonicalServers() {
		size := p.Size(shard)
		shards[shard] = ShardStats{Size: size, Available: size, MaxSize: 1}
	}
	return p.stats(shards)
}

// Close disconnects every shard.
func (p *ShardedSinglePool[C]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.Disconnect()
}
