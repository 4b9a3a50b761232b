package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// allocation is a connection checked out by a session. holds counts nested
// checkouts by the same session; the connection goes back on the last one.
type allocation[C comparable] struct {
	conn   C
	holds  int
	broken bool
	stop   func() bool
}

// shardState is the bookkeeping of one shard of a ThreadedPool.
type shardState[C comparable] struct {
	name      string
	maxSize   int
	available idleList[C]
	allocated map[*session]*allocation[C]
	// pending counts slots reserved for connections being created.
	pending int
	waiters waitlist
	// removed is set once the shard is dropped; its checked-out connections
	// are destroyed on checkin.
	removed bool
}

func (s *shardState[C]) size() int {
	return s.available.len() + len(s.allocated) + s.pending
}

// ThreadedPool is a bounded pool safe for concurrent use. Callers that find
// the pool at capacity park on a per-shard waiter list until a connection is
// checked in, the shard changes, or PoolTimeout passes. With
// Config.PoolSleepTime set they poll instead.
//
// The same type serves KindThreaded and KindShardedThreaded; the unsharded
// form routes every alias to DefaultShard.
type ThreadedPool[C comparable] struct {
	*base[C]

	mu       sync.Mutex
	shards   map[string]*shardState[C]
	closed   bool
	closedCh chan struct{}
}

// NewThreadedPool builds a KindThreaded pool.
func NewThreadedPool[C comparable](cfg Config, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts ...Option) (*ThreadedPool[C], error) {
	return newThreadedPool(cfg, KindThreaded, connect, disconnect, opts)
}

// NewShardedThreadedPool builds a KindShardedThreaded pool with one sub-pool
// per configured shard plus DefaultShard.
func NewShardedThreadedPool[C comparable](cfg Config, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts ...Option) (*ThreadedPool[C], error) {
	return newThreadedPool(cfg, KindShardedThreaded, connect, disconnect, opts)
}

func newThreadedPool[C comparable](cfg Config, kind Kind, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts []Option) (*ThreadedPool[C], error) {
	b, err := newBase(cfg, kind, connect, disconnect, opts)
	if err != nil {
		return nil, err
	}
	p := &ThreadedPool[C]{
		base:     b,
		shards:   make(map[string]*shardState[C]),
		closedCh: make(chan struct{}),
	}
	for _, name := range b.canonicalServers() {
		p.shards[name] = p.newShard(name)
	}
	return p, nil
}

func (p *ThreadedPool[C]) newShard(name string) *shardState[C] {
	return &shardState[C]{
		name:      name,
		maxSize:   p.cfg.shardMaxSize(name),
		available: newIdleList[C](p.cfg.ConnectionHandling),
		allocated: make(map[*session]*allocation[C]),
	}
}

func (p *ThreadedPool[C]) isShard(name string) bool {
	_, ok := p.shards[name]
	return ok
}

// state resolves alias to its shard. Callers hold p.mu.
func (p *ThreadedPool[C]) state(alias string) (*shardState[C], error) {
	name, err := p.resolve(alias, p.isShard)
	if err != nil {
		return nil, err
	}
	return p.shards[name], nil
}

// Hold checks out a connection of shard for the duration of fn. Nested
// calls made with the context passed to fn reuse the same connection.
func (p *ThreadedPool[C]) Hold(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.hold(ctx, shard, p.Acquire, fn)
}

// Synchronize is Hold.
func (p *ThreadedPool[C]) Synchronize(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.Hold(ctx, shard, fn)
}

// Acquire checks out a connection for the session of ctx (a new session when
// ctx has none). If the session already holds a connection on the shard the
// same connection is returned and must be released once more.
func (p *ThreadedPool[C]) Acquire(ctx context.Context, alias string) (lease *Lease[C], err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pool: acquire: %w", err)
	}
	ctx, sess, owned := ensureSession(ctx)
	ctx, end := p.traceAcquire(ctx, alias)
	defer func() { end(err) }()

	start := time.Now()
	lease, err = p.acquire(ctx, sess, alias, start)
	shard := alias
	switch {
	case lease != nil && owned:
		shard = lease.own(sess).Shard()
	case lease != nil:
		shard = lease.Shard()
	case owned:
		sess.end()
	}
	p.observe("acquire", shard, time.Since(start), err, nil)
	return lease, err
}

func (p *ThreadedPool[C]) acquire(ctx context.Context, sess *session, alias string, start time.Time) (*Lease[C], error) {
	deadline := start.Add(p.cfg.PoolTimeout)

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		st, err := p.state(alias)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}

		if a, ok := st.allocated[sess]; ok {
			a.holds++
			p.mu.Unlock()
			return p.lease(ctx, sess, st, a), nil
		}

		if conn, ok := st.available.pop(); ok {
			a := p.allocate(st, sess, conn)
			p.mu.Unlock()
			return p.lease(ctx, sess, st, a), nil
		}

		if st.size() >= st.maxSize {
			if broken := p.reclaimDead(ctx, st); len(broken) > 0 {
				p.mu.Unlock()
				_ = p.destroyAll(ctx, st.name, broken)
				p.mu.Lock()
				continue
			}
			if conn, ok := st.available.pop(); ok {
				a := p.allocate(st, sess, conn)
				p.mu.Unlock()
				return p.lease(ctx, sess, st, a), nil
			}
		}

		if st.size() < st.maxSize {
			st.pending++
			p.mu.Unlock()
			conn, err := p.create(ctx, st.name)
			p.mu.Lock()
			st.pending--
			if err != nil {
				st.waiters.signal()
				p.mu.Unlock()
				return nil, err
			}
			if st.removed || p.closed {
				p.mu.Unlock()
				_ = p.destroy(ctx, st.name, conn)
				p.mu.Lock()
				continue
			}
			a := p.allocate(st, sess, conn)
			p.mu.Unlock()
			return p.lease(ctx, sess, st, a), nil
		}

		if !time.Now().Before(deadline) {
			p.mu.Unlock()
			return nil, p.timeoutError(ctx, st.name, start)
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire %s: %w", st.name, err)
		}
		if p.cfg.PoolSleepTime > 0 {
			sleep(ctx, &p.mu, p.cfg.PoolSleepTime, deadline, p.closedCh)
		} else {
			st.waiters.wait(ctx, &p.mu, deadline, p.closedCh)
		}
	}
}

// allocate records conn as checked out by sess. Callers hold p.mu.
func (p *ThreadedPool[C]) allocate(st *shardState[C], sess *session, conn C) *allocation[C] {
	a := &allocation[C]{conn: conn, holds: 1}
	st.allocated[sess] = a
	if !sess.dead() {
		// Wake waiters when the session ends so one of them runs the sweep.
		a.stop = context.AfterFunc(sess.life, func() {
			p.mu.Lock()
			st.waiters.broadcast()
			p.mu.Unlock()
		})
	}
	return a
}

// reclaimDead returns the connections of dead sessions to the idle list and
// hands back those that must be destroyed instead. Callers hold p.mu.
func (p *ThreadedPool[C]) reclaimDead(ctx context.Context, st *shardState[C]) []C {
	var broken []C
	for sess, a := range st.allocated {
		if !sess.dead() {
			continue
		}
		delete(st.allocated, sess)
		if a.stop != nil {
			a.stop()
		}
		p.reclaimed.Add(1)
		p.logWarn(ctx, "reclaimed connection from dead session", nil, map[string]interface{}{
			"shard":   st.name,
			"session": sess.id,
		})
		if a.broken || st.removed || p.cfg.ConnectionHandling == ConnectionHandlingDisconnect {
			broken = append(broken, a.conn)
			continue
		}
		st.available.push(a.conn)
	}
	return broken
}

func (p *ThreadedPool[C]) lease(ctx context.Context, sess *session, st *shardState[C], a *allocation[C]) *Lease[C] {
	return newLease(ctx, st.name, a.conn, func(discard bool) {
		p.release(ctx, sess, st, a, discard)
	})
}

func (p *ThreadedPool[C]) release(ctx context.Context, sess *session, st *shardState[C], a *allocation[C], discard bool) {
	p.mu.Lock()
	if discard {
		a.broken = true
	}
	a.holds--
	if a.holds > 0 {
		p.mu.Unlock()
		return
	}
	if cur, ok := st.allocated[sess]; !ok || cur != a {
		// Already reclaimed by the dead-session sweep.
		p.mu.Unlock()
		return
	}
	delete(st.allocated, sess)
	if a.stop != nil {
		a.stop()
	}
	if !a.broken && !st.removed && !p.closed && p.cfg.ConnectionHandling != ConnectionHandlingDisconnect {
		st.available.push(a.conn)
		st.waiters.signal()
		p.mu.Unlock()
		return
	}
	st.waiters.signal()
	p.mu.Unlock()
	_ = p.destroy(ctx, st.name, a.conn)
}

// Disconnect destroys idle connections outside the lock.
func (p *ThreadedPool[C]) Disconnect(shards ...string) error {
	ctx := context.Background()
	drained := make(map[string][]C)

	p.mu.Lock()
	targets, err := p.targets(shards)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	for _, st := range targets {
		if conns := st.available.drain(); len(conns) > 0 {
			drained[st.name] = conns
			st.waiters.broadcast()
		}
	}
	p.mu.Unlock()

	var errs []error
	for shard, conns := range drained {
		if err := p.destroyAll(ctx, shard, conns); err != nil {
			errs = append(errs, err)
		}
	}
	if len(drained) > 0 {
		p.observe("disconnect", "", 0, errors.Join(errs...), nil)
	}
	return errors.Join(errs...)
}

// targets resolves the shards named by a management call, all when empty.
// Callers hold p.mu.
func (p *ThreadedPool[C]) targets(shards []string) ([]*shardState[C], error) {
	if len(shards) == 0 {
		all := make([]*shardState[C], 0, len(p.shards))
		for _, st := range p.shards {
			all = append(all, st)
		}
		return all, nil
	}
	seen := make(map[*shardState[C]]struct{}, len(shards))
	out := make([]*shardState[C], 0, len(shards))
	for _, alias := range shards {
		st, err := p.state(alias)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[st]; !dup {
			seen[st] = struct{}{}
			out = append(out, st)
		}
	}
	return out, nil
}

// AddServers adds shards, each bounded by its ServerConfig or by
// Config.MaxConnections.
func (p *ThreadedPool[C]) AddServers(shards ...string) error {
	if !p.kind.Sharded() {
		return ErrNotSharded
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range shards {
		if _, ok := p.shards[s]; ok {
			continue
		}
		p.addServer(s)
		p.shards[s] = p.newShard(s)
		p.logInfo(context.Background(), "shard added", map[string]interface{}{"shard": s})
	}
	return nil
}

// RemoveServers drops shards. Idle connections are destroyed now; connections
// in use are destroyed when checked in. Goroutines waiting on a removed shard
// are woken and retry against the shard their alias now resolves to.
func (p *ThreadedPool[C]) RemoveServers(shards ...string) error {
	if err := checkRemovable(shards); err != nil {
		return err
	}
	if !p.kind.Sharded() {
		return ErrNotSharded
	}

	drained := make(map[string][]C)
	p.mu.Lock()
	for _, s := range shards {
		st, ok := p.shards[s]
		if !ok {
			continue
		}
		delete(p.shards, s)
		p.forgetServer(s)
		st.removed = true
		drained[s] = st.available.drain()
		st.waiters.broadcast()
	}
	p.mu.Unlock()

	var errs []error
	for shard, conns := range drained {
		p.logInfo(context.Background(), "shard removed", map[string]interface{}{"shard": shard})
		if err := p.destroyAll(context.Background(), shard, conns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Servers lists the canonical shard names.
func (p *ThreadedPool[C]) Servers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canonicalServers()
}

// Size counts the live connections of shard, idle or checked out.
func (p *ThreadedPool[C]) Size(alias string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.state(alias)
	if err != nil {
		return 0
	}
	return st.size()
}

// MaxSize is the default per-shard bound.
func (p *ThreadedPool[C]) MaxSize() int { return p.cfg.MaxConnections }

// Available is the number of idle connections of shard.
func (p *ThreadedPool[C]) Available(alias string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.state(alias)
	if err != nil {
		return 0
	}
	return st.available.len()
}

// Allocated is the number of checked-out connections of shard.
func (p *ThreadedPool[C]) Allocated(alias string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.state(alias)
	if err != nil {
		return 0
	}
	return len(st.allocated)
}

// AllConnections holds a connection on each shard in turn and, with the pool
// locked, runs fn on it and on every idle connection of that shard.
func (p *ThreadedPool[C]) AllConnections(ctx context.Context, fn func(conn C) error) error {
	for _, shard := range p.Servers() {
		err := p.Hold(ctx, shard, func(_ context.Context, conn C) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			if err := fn(conn); err != nil {
				return err
			}
			st, ok := p.shards[shard]
			if !ok {
				return nil
			}
			return st.available.each(fn)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Preconnect fills every shard up to its bound. Slots are reserved up front so
// concurrent acquisitions never push a shard past the bound.
func (p *ThreadedPool[C]) Preconnect(ctx context.Context, concurrent bool) error {
	start := time.Now()
	var jobs []*shardState[C]

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	for _, name := range p.canonicalServers() {
		st := p.shards[name]
		for n := st.maxSize - st.size(); n > 0; n-- {
			st.pending++
			jobs = append(jobs, st)
		}
	}
	p.mu.Unlock()

	fill := func(ctx context.Context, st *shardState[C]) error {
		conn, err := p.create(ctx, st.name)
		p.mu.Lock()
		st.pending--
		if err != nil {
			st.waiters.signal()
			p.mu.Unlock()
			return err
		}
		if st.removed || p.closed {
			p.mu.Unlock()
			return p.destroy(ctx, st.name, conn)
		}
		st.available.push(conn)
		st.waiters.signal()
		p.mu.Unlock()
		return nil
	}

	var err error
	if concurrent {
		g, gctx := errgroup.WithContext(ctx)
		for _, st := range jobs {
			g.Go(func() error { return fill(gctx, st) })
		}
		err = g.Wait()
	} else {
		for i, st := range jobs {
			if err = fill(ctx, st); err != nil {
				p.unreserve(jobs[i+1:])
				break
			}
		}
	}
	p.observe("preconnect", "", time.Since(start), err, map[string]interface{}{
		"connections": len(jobs),
		"concurrent":  concurrent,
	})
	return err
}

func (p *ThreadedPool[C]) unreserve(jobs []*shardState[C]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range jobs {
		st.pending--
		st.waiters.signal()
	}
}

// Stats snapshots every shard.
func (p *ThreadedPool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	shards := make(map[string]ShardStats, len(p.shards))
	for name, st := range p.shards {
		shards[name] = ShardStats{
			Size:      st.size(),
			Available: st.available.len(),
			Allocated: len(st.allocated),
			Waiting:   st.waiters.len(),
			MaxSize:   st.maxSize,
		}
	}
	return p.stats(shards)
}

// Close disconnects idle connections and rejects further acquisitions.
func (p *ThreadedPool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closedCh)
	names := make([]string, 0, len(p.shards))
	drained := make(map[string][]C, len(p.shards))
	for name, st := range p.shards {
		names = append(names, name)
		drained[name] = st.available.drain()
		st.waiters.broadcast()
	}
	p.mu.Unlock()

	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := p.destroyAll(context.Background(), name, drained[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
