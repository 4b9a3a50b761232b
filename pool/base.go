package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aalemi-dev/sqlpool/observability"
	"github.com/aalemi-dev/sqlpool/tracer"
)

const component = "pool"

// Option customises a pool at construction time.
type Option func(*options)

type options struct {
	logger   Logger
	observer observability.Observer
	tracer   tracer.Tracer
	classify func(error) bool
}

// WithLogger sets the logger used for pool events.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the observer notified of every pool operation.
func WithObserver(obs observability.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithTracer enables spans around connection acquisition.
func WithTracer(t tracer.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithDisconnectClassifier replaces IsDisconnectError as the test deciding
// whether a callback error means the connection must be discarded.
func WithDisconnectClassifier(fn func(error) bool) Option {
	return func(o *options) { o.classify = fn }
}

// base carries what every strategy shares: configuration, the collaborator
// callbacks, shard alias resolution and instrumentation.
type base[C comparable] struct {
	cfg        Config
	kind       Kind
	connect    ConnectFunc[C]
	disconnect DisconnectFunc[C]
	opts       options

	// servers maps every known alias to its canonical shard. Canonical shards
	// map to themselves. Threaded strategies guard it with their mutex.
	servers map[string]string

	created   atomic.Uint64
	destroyed atomic.Uint64
	timeouts  atomic.Uint64
	reclaimed atomic.Uint64
}

func newBase[C comparable](cfg Config, kind Kind, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts []Option) (*base[C], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if connect == nil {
		return nil, ErrMissingConnectFunc
	}
	if disconnect == nil {
		disconnect = closeConn[C]
	}

	b := &base[C]{
		cfg:        cfg.withDefaults(),
		kind:       kind,
		connect:    connect,
		disconnect: disconnect,
		servers:    map[string]string{DefaultShard: DefaultShard},
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	if b.opts.classify == nil {
		b.opts.classify = IsDisconnectError
	}

	if kind.Sharded() {
		for name := range cfg.Servers {
			b.servers[name] = name
		}
		for alias, canonical := range cfg.ServersHash {
			if _, isShard := b.servers[alias]; isShard && alias != canonical {
				continue
			}
			b.servers[alias] = canonical
		}
	}
	return b, nil
}

// closeConn is the disconnect callback used when none is supplied.
func closeConn[C comparable](conn C) error {
	if closer, ok := any(conn).(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// resolve maps an alias onto a canonical shard name. isShard reports whether a
// canonical name is currently a shard of the pool.
func (b *base[C]) resolve(alias string, isShard func(string) bool) (string, error) {
	if alias == "" || !b.kind.Sharded() {
		return DefaultShard, nil
	}
	if canonical, ok := b.servers[alias]; ok && isShard(canonical) {
		return canonical, nil
	}
	if b.cfg.StrictServers {
		return "", fmt.Errorf("%w: %q", ErrUnknownShard, alias)
	}
	return DefaultShard, nil
}

// addServer registers shard as a canonical name.
func (b *base[C]) addServer(shard string) {
	b.servers[shard] = shard
}

// forgetServer removes shard and every alias that points to it.
func (b *base[C]) forgetServer(shard string) {
	for alias, canonical := range b.servers {
		if alias == shard || canonical == shard {
			delete(b.servers, alias)
		}
	}
}

// canonicalServers lists canonical shard names in sorted order.
func (b *base[C]) canonicalServers() []string {
	names := make([]string, 0, len(b.servers))
	for alias, canonical := range b.servers {
		if alias == canonical {
			names = append(names, alias)
		}
	}
	sort.Strings(names)
	return names
}

func checkRemovable(shards []string) error {
	for _, s := range shards {
		if s == DefaultShard {
			return ErrRemoveDefaultShard
		}
	}
	return nil
}

// Kind reports the strategy of the pool.
func (b *base[C]) Kind() Kind { return b.kind }

func (b *base[C]) isDisconnect(err error) bool {
	return err != nil && b.opts.classify(err)
}

// create calls the connection factory and records the outcome.
func (b *base[C]) create(ctx context.Context, shard string) (C, error) {
	start := time.Now()
	conn, err := b.connect(ctx, shard)
	b.observe("create", shard, time.Since(start), err, nil)
	if err != nil {
		b.logError(ctx, "failed to create connection", err, map[string]interface{}{"shard": shard})
		var zero C
		return zero, fmt.Errorf("pool: connect %s: %w", shard, err)
	}
	b.created.Add(1)
	b.logDebug(ctx, "connection created", map[string]interface{}{"shard": shard})
	return conn, nil
}

// destroy calls the disconnect callback and records the outcome.
func (b *base[C]) destroy(ctx context.Context, shard string, conn C) error {
	start := time.Now()
	err := b.disconnect(conn)
	b.destroyed.Add(1)
	b.observe("destroy", shard, time.Since(start), err, nil)
	if err != nil {
		b.logWarn(ctx, "failed to disconnect connection", err, map[string]interface{}{"shard": shard})
		return fmt.Errorf("pool: disconnect %s: %w", shard, err)
	}
	b.logDebug(ctx, "connection destroyed", map[string]interface{}{"shard": shard})
	return nil
}

// destroyAll destroys conns and joins the errors.
func (b *base[C]) destroyAll(ctx context.Context, shard string, conns []C) error {
	var errs []error
	for _, conn := range conns {
		if err := b.destroy(ctx, shard, conn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *base[C]) timeoutError(ctx context.Context, shard string, start time.Time) error {
	err := &PoolTimeoutError{
		Timeout:  b.cfg.PoolTimeout,
		Elapsed:  time.Since(start),
		Shard:    shard,
		Database: b.cfg.Database,
	}
	b.timeouts.Add(1)
	b.observe("timeout", shard, err.Elapsed, err, nil)
	b.logWarn(ctx, "timed out waiting for a connection", err, map[string]interface{}{
		"shard":    shard,
		"database": b.cfg.Database,
		"timeout":  b.cfg.PoolTimeout.String(),
	})
	return err
}

func (b *base[C]) stats(shards map[string]ShardStats) Stats {
	return Stats{
		Kind:      b.kind,
		Database:  b.cfg.Database,
		Shards:    shards,
		Created:   b.created.Load(),
		Destroyed: b.destroyed.Load(),
		Timeouts:  b.timeouts.Load(),
		Reclaimed: b.reclaimed.Load(),
	}
}

// hold is the scoped acquisition shared by all strategies: acquire, run fn,
// then release or discard on every exit path.
func (b *base[C]) hold(ctx context.Context, shard string, acquire func(context.Context, string) (*Lease[C], error), fn HoldFunc[C]) (err error) {
	ctx, sess, owned := ensureSession(ctx)
	if owned {
		defer sess.end()
	}
	leave := sess.enter()
	defer leave()

	start := time.Now()
	lease, err := acquire(ctx, shard)
	if err != nil {
		return err
	}
	defer func() {
		b.observe("hold", lease.Shard(), time.Since(start), err, nil)
	}()

	defer func() {
		if r := recover(); r != nil {
			lease.Release()
			panic(r)
		}
	}()

	err = fn(lease.Context(), lease.Conn())
	if b.isDisconnect(err) {
		b.logWarn(ctx, "discarding connection after disconnect error", err, map[string]interface{}{
			"shard":   lease.Shard(),
			"session": sess.id,
		})
		lease.Discard()
		return err
	}
	lease.Release()
	return err
}

// traceAcquire starts a span around an acquisition when a tracer is set.
func (b *base[C]) traceAcquire(ctx context.Context, shard string) (context.Context, func(error)) {
	if b.opts.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := b.opts.tracer.StartSpan(ctx, "pool.acquire")
	span.SetAttributes(map[string]interface{}{
		"pool.kind":  b.kind.String(),
		"pool.shard": shard,
		"db.name":    b.cfg.Database,
	})
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (b *base[C]) observe(operation, shard string, duration time.Duration, err error, metadata map[string]interface{}) {
	if b.opts.observer == nil {
		return
	}
	b.opts.observer.ObserveOperation(observability.OperationContext{
		Component:   component,
		Operation:   operation,
		Resource:    shard,
		SubResource: b.kind.String(),
		Duration:    duration,
		Error:       err,
		Metadata:    metadata,
	})
}

func (b *base[C]) fields(extra map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{"pool_kind": b.kind.String()}
	if b.cfg.Database != "" {
		fields["database"] = b.cfg.Database
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func (b *base[C]) logDebug(ctx context.Context, msg string, extra map[string]interface{}) {
	if b.opts.logger != nil {
		b.opts.logger.DebugWithContext(ctx, msg, nil, b.fields(extra))
	}
}

func (b *base[C]) logInfo(ctx context.Context, msg string, extra map[string]interface{}) {
	if b.opts.logger != nil {
		b.opts.logger.InfoWithContext(ctx, msg, nil, b.fields(extra))
	}
}

func (b *base[C]) logWarn(ctx context.Context, msg string, err error, extra map[string]interface{}) {
	if b.opts.logger != nil {
		b.opts.logger.WarnWithContext(ctx, msg, err, b.fields(extra))
	}
}

func (b *base[C]) logError(ctx context.Context, msg string, err error, extra map[string]interface{}) {
	if b.opts.logger != nil {
		b.opts.logger.ErrorWithContext(ctx, msg, err, b.fields(extra))
	}
}
