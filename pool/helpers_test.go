package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id    int
	shard string
	// users counts callers currently holding the connection.
	users atomic.Int32
}

func (c *fakeConn) String() string { return fmt.Sprintf("%s#%d", c.shard, c.id) }

// fakeDriver hands out fakeConns and counts what happens to them.
type fakeDriver struct {
	mu         sync.Mutex
	next       int
	live       int
	maxLive    int
	destroyed  map[int]int
	connectErr error
	delay      time.Duration
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{destroyed: make(map[int]int)}
}

func (d *fakeDriver) connect(ctx context.Context, shard string) (*fakeConn, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	d.next++
	d.live++
	d.maxLive = max(d.maxLive, d.live)
	return &fakeConn{id: d.next, shard: shard}, nil
}

func (d *fakeDriver) disconnect(c *fakeConn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live--
	d.destroyed[c.id]++
	return nil
}

func (d *fakeDriver) created() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

func (d *fakeDriver) destroyCount(c *fakeConn) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[c.id]
}

func (d *fakeDriver) totalDestroyed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, count := range d.destroyed {
		n += count
	}
	return n
}

func (d *fakeDriver) peak() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

var (
	allKinds = []Kind{
		KindSingle, KindShardedSingle,
		KindThreaded, KindShardedThreaded,
		KindTimedQueue, KindShardedTimedQueue,
	}
	concurrentKinds = []Kind{KindThreaded, KindShardedThreaded, KindTimedQueue, KindShardedTimedQueue}
	shardedKinds    = []Kind{KindShardedSingle, KindShardedThreaded, KindShardedTimedQueue}
)

func newTestPool(t *testing.T, kind Kind, cfg Config, opts ...Option) (Pool[*fakeConn], *fakeDriver) {
	t.Helper()
	d := newFakeDriver()
	cfg.Kind = kind.String()
	p, err := New[*fakeConn](cfg, d.connect, d.disconnect, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, d
}

// eachKind runs fn as a subtest for every kind.
func eachKind(t *testing.T, kinds []Kind, fn func(t *testing.T, kind Kind)) {
	t.Helper()
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) { fn(t, kind) })
	}
}

// holdConn returns the connection Hold hands out for shard.
func holdConn(t *testing.T, p Pool[*fakeConn], shard string) *fakeConn {
	t.Helper()
	var got *fakeConn
	require.NoError(t, p.Hold(context.Background(), shard, func(_ context.Context, c *fakeConn) error {
		got = c
		return nil
	}))
	return got
}

// idle reports the number of idle connections of shard for the concurrent kinds.
func idle(p Pool[*fakeConn], shard string) int {
	return p.Stats().Shards[shard].Available
}

var errBoom = errors.New("boom")
