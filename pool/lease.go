package pool

import (
	"context"
	"runtime"
	"sync"
)

// Lease is a connection checked out with Acquire. It must be given back with
// exactly one call to Release or Discard; later calls are ignored.
//
// When Acquire started the session itself, giving the lease back ends that
// session. A lease of that kind that becomes unreachable without being given
// back ends its session as well, so the connection can be reclaimed.
type Lease[C comparable] struct {
	conn    C
	shard   string
	ctx     context.Context
	release func(discard bool)
	once    sync.Once

	end     func()
	cleanup runtime.Cleanup
}

func newLease[C comparable](ctx context.Context, shard string, conn C, release func(discard bool)) *Lease[C] {
	return &Lease[C]{conn: conn, shard: shard, ctx: ctx, release: release}
}

// own ties the lifetime of sess to the lease.
func (l *Lease[C]) own(sess *session) *Lease[C] {
	l.end = sess.end
	l.cleanup = runtime.AddCleanup(l, func(end context.CancelFunc) { end() }, sess.end)
	return l
}

// Conn returns the leased connection.
func (l *Lease[C]) Conn() C { return l.conn }

// Shard returns the canonical shard the connection belongs to.
func (l *Lease[C]) Shard() string { return l.shard }

// Context returns the session-carrying context the lease was acquired with.
// Hold calls made with it reuse the leased connection.
func (l *Lease[C]) Context() context.Context { return l.ctx }

// Release checks the connection back in.
func (l *Lease[C]) Release() {
	l.once.Do(func() { l.giveBack(false) })
}

// Discard destroys the connection instead of checking it back in.
func (l *Lease[C]) Discard() {
	l.once.Do(func() { l.giveBack(true) })
}

func (l *Lease[C]) giveBack(discard bool) {
	l.release(discard)
	if l.end != nil {
		l.cleanup.Stop()
		l.end()
	}
}
