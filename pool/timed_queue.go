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

// queueShard is the bookkeeping of one shard of a TimedQueuePool. Idle
// connections live in queue, a channel sized to the shard bound, so a
// blocking receive with a timer is the whole wait protocol.
type queueShard[C comparable] struct {
	name      string
	maxSize   int
	queue     chan C
	allocated map[*session]*allocation[C]
	// size counts every live connection, including ones being created.
	size    int
	waiting int
	removed bool
	done    chan struct{}
}

// TimedQueuePool is a bounded pool safe for concurrent use, built on buffered
// channels instead of a waiter list. It serves KindTimedQueue and
// KindShardedTimedQueue. Idle connections are always reused in queue order.
type TimedQueuePool[C comparable] struct {
	*base[C]

	mu       sync.Mutex
	shards   map[string]*queueShard[C]
	closed   bool
	closedCh chan struct{}
	fills    sync.WaitGroup
}

// NewTimedQueuePool builds a KindTimedQueue pool.
func NewTimedQueuePool[C comparable](cfg Config, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts ...Option) (*TimedQueuePool[C], error) {
	return newTimedQueuePool(cfg, KindTimedQueue, connect, disconnect, opts)
}

// NewShardedTimedQueuePool builds a KindShardedTimedQueue pool.
func NewShardedTimedQueuePool[C comparable](cfg Config, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts ...Option) (*TimedQueuePool[C], error) {
	return newTimedQueuePool(cfg, KindShardedTimedQueue, connect, disconnect, opts)
}

func newTimedQueuePool[C comparable](cfg Config, kind Kind, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts []Option) (*TimedQueuePool[C], error) {
	b, err := newBase(cfg, kind, connect, disconnect, opts)
	if err != nil {
		return nil, err
	}
	p := &TimedQueuePool[C]{
		base:     b,
		shards:   make(map[string]*queueShard[C]),
		closedCh: make(chan struct{}),
	}
	for _, name := range b.canonicalServers() {
		p.shards[name] = p.newShard(name)
	}
	if p.cfg.ConnectionHandling == ConnectionHandlingStack {
		p.logWarn(context.Background(), "stack connection handling is not supported by timed queue pools, using queue order", nil, nil)
	}
	return p, nil
}

func (p *TimedQueuePool[C]) newShard(name string) *queueShard[C] {
	maxSize := p.cfg.shardMaxSize(name)
	return &queueShard[C]{
		name:      name,
		maxSize:   maxSize,
		queue:     make(chan C, maxSize),
		allocated: make(map[*session]*allocation[C]),
		done:      make(chan struct{}),
	}
}

func (p *TimedQueuePool[C]) isShard(name string) bool {
	_, ok := p.shards[name]
	return ok
}

func (p *TimedQueuePool[C]) state(alias string) (*queueShard[C], error) {
	name, err := p.resolve(alias, p.isShard)
	if err != nil {
		return nil, err
	}
	return p.shards[name], nil
}

// Hold checks out a connection of shard for the duration of fn.
func (p *TimedQueuePool[C]) Hold(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.hold(ctx, shard, p.Acquire, fn)
}

// Synchronize is Hold.
func (p *TimedQueuePool[C]) Synchronize(ctx context.Context, shard string, fn HoldFunc[C]) error {
	return p.Hold(ctx, shard, fn)
}

// Acquire checks out a connection for the session of ctx. A session that
// already holds a connection on the shard gets the same one back.
func (p *TimedQueuePool[C]) Acquire(ctx context.Context, alias string) (lease *Lease[C], err error) {
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

func (p *TimedQueuePool[C]) acquire(ctx context.Context, sess *session, alias string, start time.Time) (*Lease[C], error) {
	deadline := start.Add(p.cfg.PoolTimeout)
	for {
		p.mu.Lock()
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

		// Fast path: an idle connection.
		select {
		case conn := <-st.queue:
			a := p.allocate(st, sess, conn)
			p.mu.Unlock()
			return p.lease(ctx, sess, st, a), nil
		default:
		}

		// Room to grow, possibly after reclaiming dead sessions.
		if st.size >= st.maxSize {
			if broken := p.reclaimDead(ctx, st); len(broken) > 0 {
				p.mu.Unlock()
				_ = p.destroyAll(ctx, st.name, broken)
				continue
			}
			select {
			case conn := <-st.queue:
				a := p.allocate(st, sess, conn)
				p.mu.Unlock()
				return p.lease(ctx, sess, st, a), nil
			default:
			}
		}
		if st.size < st.maxSize {
			st.size++
			p.mu.Unlock()
			conn, err := p.create(ctx, st.name)
			p.mu.Lock()
			if err != nil {
				st.size--
				p.mu.Unlock()
				return nil, err
			}
			if st.removed || p.closed {
				st.size--
				p.mu.Unlock()
				_ = p.destroy(ctx, st.name, conn)
				continue
			}
			a := p.allocate(st, sess, conn)
			p.mu.Unlock()
			return p.lease(ctx, sess, st, a), nil
		}

		// Block on the queue for what is left of the timeout.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, p.timeoutError(ctx, st.name, start)
		}
		st.waiting++
		p.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case conn := <-st.queue:
			timer.Stop()
			p.mu.Lock()
			st.waiting--
			if st.removed {
				st.size--
				p.mu.Unlock()
				_ = p.destroy(ctx, st.name, conn)
				continue
			}
			a := p.allocate(st, sess, conn)
			p.mu.Unlock()
			return p.lease(ctx, sess, st, a), nil
		case <-timer.C:
			p.mu.Lock()
			st.waiting--
			p.mu.Unlock()
			// One last try before giving up.
			select {
			case conn := <-st.queue:
				p.mu.Lock()
				a := p.allocate(st, sess, conn)
				p.mu.Unlock()
				return p.lease(ctx, sess, st, a), nil
			default:
			}
			return nil, p.timeoutError(ctx, st.name, start)
		case <-ctx.Done():
			timer.Stop()
			p.mu.Lock()
			st.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire %s: %w", st.name, ctx.Err())
		case <-st.done:
			timer.Stop()
			p.mu.Lock()
			st.waiting--
			p.mu.Unlock()
		case <-p.closedCh:
			timer.Stop()
			p.mu.Lock()
			st.waiting--
			p.mu.Unlock()
		}
	}
}

// allocate records conn as checked out by sess. Callers hold p.mu.
func (p *TimedQueuePool[C]) allocate(st *queueShard[C], sess *session, conn C) *allocation[C] {
	a := &allocation[C]{conn: conn, holds: 1}
	st.allocated[sess] = a
	if !sess.dead() {
		// Blocked receivers never run the sweep, so run it for them when the
		// session ends while the shard is exhausted.
		a.stop = context.AfterFunc(sess.life, func() {
			p.mu.Lock()
			var broken []C
			if st.waiting > 0 && st.size >= st.maxSize {
				broken = p.reclaimDead(context.Background(), st)
			}
			p.mu.Unlock()
			if len(broken) > 0 {
				_ = p.destroyAll(context.Background(), st.name, broken)
				p.refill(st)
			}
		})
	}
	return a
}

// reclaimDead moves connections of dead sessions back into the queue and
// returns those that must be destroyed. Callers hold p.mu.
func (p *TimedQueuePool[C]) reclaimDead(ctx context.Context, st *queueShard[C]) []C {
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
		if a.broken || st.removed || p.closed || p.cfg.ConnectionHandling == ConnectionHandlingDisconnect || !p.enqueue(st, a.conn) {
			st.size--
			broken = append(broken, a.conn)
		}
	}
	return broken
}

// enqueue puts conn back on the idle queue. The queue holds maxSize items
// and size never exceeds maxSize, so it only fails if accounting is broken.
func (p *TimedQueuePool[C]) enqueue(st *queueShard[C], conn C) bool {
	select {
	case st.queue <- conn:
		return true
	default:
		return false
	}
}

func (p *TimedQueuePool[C]) lease(ctx context.Context, sess *session, st *queueShard[C], a *allocation[C]) *Lease[C] {
	return newLease(ctx, st.name, a.conn, func(discard bool) {
		p.release(ctx, sess, st, a, discard)
	})
}

func (p *TimedQueuePool[C]) release(ctx context.Context, sess *session, st *queueShard[C], a *allocation[C], discard bool) {
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
		p.mu.Unlock()
		return
	}
	delete(st.allocated, sess)
	if a.stop != nil {
		a.stop()
	}
	keep := !a.broken && !st.removed && !p.closed && p.cfg.ConnectionHandling != ConnectionHandlingDisconnect
	if keep && p.enqueue(st, a.conn) {
		p.mu.Unlock()
		return
	}
	st.size--
	p.mu.Unlock()
	_ = p.destroy(ctx, st.name, a.conn)
	p.refill(st)
}

// drain empties the idle queue of st. Callers hold p.mu.
func (p *TimedQueuePool[C]) drain(st *queueShard[C]) []C {
	var conns []C
	for {
		select {
		case conn := <-st.queue:
			conns = append(conns, conn)
		default:
			st.size -= len(conns)
			return conns
		}
	}
}

// refill starts a background task creating connections for goroutines already
// blocked on st, so they are not left waiting on capacity that no longer
// exists.
func (p *TimedQueuePool[C]) refill(st *queueShard[C]) {
	p.mu.Lock()
	n := min(st.waiting, st.maxSize-st.size)
	if n <= 0 || st.removed || p.closed {
		p.mu.Unlock()
		return
	}
	st.size += n
	p.fills.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.fills.Done()
		ctx := context.Background()
		for range n {
			conn, err := p.create(ctx, st.name)
			p.mu.Lock()
			if err != nil {
				st.size--
				p.mu.Unlock()
				continue
			}
			if st.removed || p.closed || !p.enqueue(st, conn) {
				st.size--
				p.mu.Unlock()
				_ = p.destroy(ctx, st.name, conn)
				continue
			}
			p.mu.Unlock()
		}
	}()
}

func (p *TimedQueuePool[C]) targets(shards []string) ([]*queueShard[C], error) {
	if len(shards) == 0 {
		all := make([]*queueShard[C], 0, len(p.shards))
		for _, st := range p.shards {
			all = append(all, st)
		}
		return all, nil
	}
	seen := make(map[*queueShard[C]]struct{}, len(shards))
	out := make([]*queueShard[C], 0, len(shards))
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

// Disconnect destroys idle connections outside the lock, then refills for any
// goroutine still waiting.
func (p *TimedQueuePool[C]) Disconnect(shards ...string) error {
	ctx := context.Background()

	p.mu.Lock()
	targets, err := p.targets(shards)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	drained := make(map[*queueShard[C]][]C, len(targets))
	for _, st := range targets {
		if conns := p.drain(st); len(conns) > 0 {
			drained[st] = conns
		}
	}
	p.mu.Unlock()

	var errs []error
	for st, conns := range drained {
		if err := p.destroyAll(ctx, st.name, conns); err != nil {
			errs = append(errs, err)
		}
		p.refill(st)
	}
	if len(drained) > 0 {
		p.observe("disconnect", "", 0, errors.Join(errs...), nil)
	}
	return errors.Join(errs...)
}

// AddServers adds shards with a queue of their own.
func (p *TimedQueuePool[C]) AddServers(shards ...string) error {
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

// RemoveServers drops shards; see ThreadedPool.RemoveServers.
func (p *TimedQueuePool[C]) RemoveServers(shards ...string) error {
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
		close(st.done)
		drained[s] = p.drain(st)
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
func (p *TimedQueuePool[C]) Servers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canonicalServers()
}

// Size counts the live connections of shard, including ones being created.
func (p *TimedQueuePool[C]) Size(alias string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.state(alias)
	if err != nil {
		return 0
	}
	return st.size
}

// MaxSize is the default per-shard bound.
func (p *TimedQueuePool[C]) MaxSize() int { return p.cfg.MaxConnections }

// AllConnections holds a connection on each shard in turn and, with the pool
// locked, runs fn on it and on every idle connection of that shard.
func (p *TimedQueuePool[C]) AllConnections(ctx context.Context, fn func(conn C) error) error {
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
			idle := p.drain(st)
			st.size += len(idle)
			var err error
			for _, c := range idle {
				if err == nil {
					err = fn(c)
				}
				p.enqueue(st, c)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Preconnect fills every shard up to its bound.
func (p *TimedQueuePool[C]) Preconnect(ctx context.Context, concurrent bool) error {
	start := time.Now()
	var jobs []*queueShard[C]

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	for _, name := range p.canonicalServers() {
		st := p.shards[name]
		for n := st.maxSize - st.size; n > 0; n-- {
			st.size++
			jobs = append(jobs, st)
		}
	}
	p.mu.Unlock()

	fill := func(ctx context.Context, st *queueShard[C]) error {
		conn, err := p.create(ctx, st.name)
		p.mu.Lock()
		if err != nil {
			st.size--
			p.mu.Unlock()
			return err
		}
		if st.removed || p.closed || !p.enqueue(st, conn) {
			st.size--
			p.mu.Unlock()
			return p.destroy(ctx, st.name, conn)
		}
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
				p.mu.Lock()
				for _, rest := range jobs[i+1:] {
					rest.size--
				}
				p.mu.Unlock()
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

// Stats snapshots every shard.
func (p *TimedQueuePool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	shards := make(map[string]ShardStats, len(p.shards))
	for name, st := range p.shards {
		shards[name] = ShardStats{
			Size:      st.size,
			Available: len(st.queue),
			Allocated: len(st.allocated),
			Waiting:   st.waiting,
			MaxSize:   st.maxSize,
		}
	}
	return p.stats(shards)
}

// Close disconnects idle connections, rejects further acquisitions and waits
// for background refills to finish.
func (p *TimedQueuePool[C]) Close() error {
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
		drained[name] = p.drain(st)
	}
	p.mu.Unlock()

	p.fills.Wait()

	// Refills that finished after the drain found the pool closed and
	// destroyed their own connections.
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := p.destroyAll(context.Background(), name, drained[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
