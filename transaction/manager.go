package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aalemi-dev/sqlpool/observability"
	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/tracer"
)

const component = "transaction"

// Executor runs a statement that returns no rows on conn.
type Executor[C comparable] func(ctx context.Context, conn C, query string) error

// ManagerOption customises a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	dialect   Dialect
	isolation Isolation
	logger    pool.Logger
	observer  observability.Observer
	tracer    tracer.Tracer
}

// WithDialect sets the SQL dialect. The default is DefaultDialect.
func WithDialect(d Dialect) ManagerOption {
	return func(o *managerOptions) { o.dialect = d }
}

// WithDefaultIsolation sets the isolation level of transactions that do not
// ask for one.
func WithDefaultIsolation(level Isolation) ManagerOption {
	return func(o *managerOptions) { o.isolation = level }
}

// WithLogger logs rollback failures, retries and statements.
func WithLogger(l pool.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = l }
}

// WithObserver reports transaction, savepoint, commit and rollback
// operations.
func WithObserver(obs observability.Observer) ManagerOption {
	return func(o *managerOptions) { o.observer = obs }
}

// WithTracer wraps every Transaction call in a span.
func WithTracer(t tracer.Tracer) ManagerOption {
	return func(o *managerOptions) { o.tracer = t }
}

// frame is one level of an open transaction: the transaction itself at depth
// 1 and one savepoint per deeper level.
type frame struct {
	autoSavepoint bool
}

// txState is the bookkeeping of the transaction open on one connection.
type txState struct {
	frames         []frame
	prepare        string
	rollbackOnExit bool
	afterCommit    []func()
	afterRollback  []func()
}

// Manager runs transactions and savepoints over connections of a pool. The
// transaction state lives with the connection, so nested calls made with the
// context handed to a block see the enclosing transaction.
type Manager[C comparable] struct {
	pool pool.Pool[C]
	exec Executor[C]
	opts managerOptions

	mu     sync.Mutex
	states map[C]*txState
}

// NewManager returns a Manager running statements through exec.
func NewManager[C comparable](p pool.Pool[C], exec Executor[C], opts ...ManagerOption) *Manager[C] {
	o := managerOptions{dialect: DefaultDialect()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[C]{
		pool:   p,
		exec:   exec,
		opts:   o,
		states: make(map[C]*txState),
	}
}

// Dialect returns the dialect statements are generated for.
func (m *Manager[C]) Dialect() Dialect { return m.opts.dialect }

// Transaction runs fn inside a transaction on a connection of opts.Server.
//
// When the session already has a transaction open on that shard, fn joins it,
// or runs in a savepoint if opts (or the enclosing AutoSavepoint) ask for one.
// fn's error rolls the transaction or savepoint back and is returned, except
// for ErrRollback which is swallowed under RollbackDefault. A panic rolls back
// and is re-raised.
func (m *Manager[C]) Transaction(ctx context.Context, opts Options, fn pool.HoldFunc[C]) (err error) {
	if opts.Prepare != "" && !m.opts.dialect.SupportsPreparedTransactions {
		return ErrPreparedUnsupported
	}

	ctx, end := m.trace(ctx, opts)
	defer func() { end(err) }()

	if opts.retries() {
		return m.retry(ctx, opts, fn)
	}
	return m.pool.Hold(ctx, opts.Server, func(ctx context.Context, conn C) error {
		return m.run(ctx, conn, opts, fn, false)
	})
}

// retry re-runs the whole transaction on a fresh hold while the error matches
// opts.RetryOn or opts.RetryIf.
func (m *Manager[C]) retry(ctx context.Context, opts Options, fn pool.HoldFunc[C]) error {
	limit := opts.maxRetries()
	for attempt := 1; ; attempt++ {
		err := m.pool.Hold(ctx, opts.Server, func(ctx context.Context, conn C) error {
			return m.run(ctx, conn, opts, fn, true)
		})
		if err == nil || errors.Is(err, ErrRetryInNested) || !opts.shouldRetry(err) {
			return err
		}
		if limit != UnlimitedRetries && attempt > limit {
			m.logWarn(ctx, "transaction retries exhausted", err, map[string]interface{}{
				"attempts": attempt,
				"shard":    opts.Server,
			})
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}

		m.observe("retry", opts.Server, "", 0, err, int64(attempt+1), nil)
		m.logWarn(ctx, "retrying transaction", err, map[string]interface{}{
			"attempt": attempt + 1,
			"shard":   opts.Server,
		})
		if opts.BeforeRetry != nil {
			opts.BeforeRetry(attempt+1, err)
		}
	}
}

// run decides between joining an open transaction, opening a savepoint,
// opening a transaction and running fn bare.
func (m *Manager[C]) run(ctx context.Context, conn C, opts Options, fn pool.HoldFunc[C], retrying bool) error {
	supports := m.opts.dialect.SupportsSavepoints
	open, auto := m.lookup(conn)
	if open && retrying {
		return ErrRetryInNested
	}

	savepoint := opts.Savepoint
	switch savepoint {
	case SavepointOnly:
		if !open || !supports {
			return fn(ctx, conn)
		}
		savepoint = SavepointAlways
	case SavepointAlways:
		if !supports {
			return ErrSavepointsUnsupported
		}
	}

	if open {
		if opts.Rollback == RollbackAlways && savepoint == SavepointDefault {
			if !supports {
				return ErrRollbackAlwaysNested
			}
			savepoint = SavepointAlways
		}
		if savepoint == SavepointDefault && auto && supports {
			savepoint = SavepointAlways
		}
		if savepoint != SavepointAlways {
			return fn(ctx, conn)
		}
	}
	return m.transaction(ctx, conn, opts, fn)
}

// lookup reports whether conn has an open transaction and whether its
// innermost level asked for automatic savepoints.
func (m *Manager[C]) lookup(conn C) (open, auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[conn]
	if !ok || len(st.frames) == 0 {
		return false, false
	}
	return true, st.frames[len(st.frames)-1].autoSavepoint
}

// transaction opens a new level on conn, runs fn and closes the level.
func (m *Manager[C]) transaction(ctx context.Context, conn C, opts Options, fn pool.HoldFunc[C]) error {
	start := time.Now()
	level, err := m.begin(ctx, conn, opts)
	if err != nil {
		return err
	}

	err = m.invoke(ctx, conn, level, fn)
	if err == nil && opts.Rollback == RollbackAlways {
		err = ErrRollback
	}
	if err == nil && level == 1 && m.rollingBackOnExit(conn) {
		err = ErrRollback
	}

	if err != nil {
		rbErr := m.rollback(ctx, conn, level)
		m.finish(conn, level, false)
		m.observeLevel(level, opts.Server, time.Since(start), err)
		if rbErr != nil {
			return &RollbackError{Err: rbErr, Cause: err}
		}
		if errors.Is(err, ErrRollback) && opts.Rollback != RollbackReraise {
			return nil
		}
		return err
	}

	if err := m.commit(ctx, conn, level); err != nil {
		rbErr := m.rollback(ctx, conn, level)
		m.finish(conn, level, false)
		m.observeLevel(level, opts.Server, time.Since(start), err)
		if rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	m.finish(conn, level, true)
	m.observeLevel(level, opts.Server, time.Since(start), nil)
	return nil
}

// invoke runs fn, rolling the level back before re-raising a panic.
func (m *Manager[C]) invoke(ctx context.Context, conn C, level int, fn pool.HoldFunc[C]) error {
	defer func() {
		if r := recover(); r != nil {
			if err := m.rollback(ctx, conn, level); err != nil {
				m.logError(ctx, "rollback after panic failed", err, nil)
			}
			m.finish(conn, level, false)
			panic(r)
		}
	}()
	return fn(ctx, conn)
}

// begin pushes a level for conn and issues BEGIN or SAVEPOINT. The level is
// popped again if the statement fails.
func (m *Manager[C]) begin(ctx context.Context, conn C, opts Options) (int, error) {
	m.mu.Lock()
	st, ok := m.states[conn]
	if !ok {
		st = &txState{prepare: opts.Prepare}
		m.states[conn] = st
	}
	st.frames = append(st.frames, frame{autoSavepoint: opts.AutoSavepoint})
	level := len(st.frames)
	m.mu.Unlock()

	var err error
	if level > 1 {
		err = m.statement(ctx, conn, "savepoint", m.opts.dialect.savepoint(level-1))
	} else {
		err = m.beginTransaction(ctx, conn, opts.Isolation)
	}
	if err != nil {
		m.finish(conn, level, false)
		return 0, err
	}
	return level, nil
}

func (m *Manager[C]) beginTransaction(ctx context.Context, conn C, level Isolation) error {
	d := m.opts.dialect
	if level == IsolationDefault {
		level = m.opts.isolation
	}
	setIsolation := level != IsolationDefault && d.SupportsIsolation

	if setIsolation && d.IsolationBeforeBegin {
		if err := m.statement(ctx, conn, "isolation", d.isolation(level)); err != nil {
			return err
		}
	}
	if err := m.statement(ctx, conn, "begin", d.Begin); err != nil {
		return err
	}
	if setIsolation && !d.IsolationBeforeBegin {
		if err := m.statement(ctx, conn, "isolation", d.isolation(level)); err != nil {
			if rbErr := m.statement(ctx, conn, "rollback", d.Rollback); rbErr != nil {
				return &RollbackError{Err: rbErr, Cause: err}
			}
			return err
		}
	}
	return nil
}

func (m *Manager[C]) commit(ctx context.Context, conn C, level int) error {
	if level > 1 {
		return m.statement(ctx, conn, "release", m.opts.dialect.releaseSavepoint(level-1))
	}
	m.mu.Lock()
	prepare := m.states[conn].prepare
	m.mu.Unlock()
	if prepare != "" {
		return m.statement(ctx, conn, "prepare", m.opts.dialect.prepare(prepare))
	}
	return m.statement(ctx, conn, "commit", m.opts.dialect.Commit)
}

func (m *Manager[C]) rollback(ctx context.Context, conn C, level int) error {
	if level > 1 {
		return m.statement(ctx, conn, "rollback", m.opts.dialect.rollbackToSavepoint(level-1))
	}
	return m.statement(ctx, conn, "rollback", m.opts.dialect.Rollback)
}

// finish pops level. Closing the outermost level forgets the transaction and
// runs its hooks. Prepared transactions run none: their outcome is decided by
// CommitPrepared or RollbackPrepared.
func (m *Manager[C]) finish(conn C, level int, committed bool) {
	m.mu.Lock()
	st, ok := m.states[conn]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.frames = st.frames[:level-1]
	if level > 1 {
		m.mu.Unlock()
		return
	}
	delete(m.states, conn)
	m.mu.Unlock()

	hooks := st.afterRollback
	if committed {
		hooks = st.afterCommit
		if st.prepare != "" {
			hooks = nil
		}
	}
	for _, hook := range hooks {
		hook()
	}
}

func (m *Manager[C]) rollingBackOnExit(conn C) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[conn]
	return ok && st.rollbackOnExit
}

// statement executes query, logging and observing failures.
func (m *Manager[C]) statement(ctx context.Context, conn C, operation, query string) error {
	start := time.Now()
	err := m.exec(ctx, conn, query)
	if operation == "commit" || operation == "rollback" || operation == "prepare" {
		m.observe(operation, "", "", time.Since(start), err, 0, nil)
	}
	if err != nil {
		m.logError(ctx, "transaction statement failed", err, map[string]interface{}{
			"statement": query,
		})
		return fmt.Errorf("transaction: %s: %w", query, err)
	}
	m.logDebug(ctx, "transaction statement", map[string]interface{}{"statement": query})
	return nil
}

// InTransaction reports whether the session of ctx has a transaction open on
// shard. It holds a connection of shard while checking.
func (m *Manager[C]) InTransaction(ctx context.Context, shard string) (bool, error) {
	level, err := m.SavepointLevel(ctx, shard)
	return level > 0, err
}

// SavepointLevel returns 0 outside a transaction, 1 inside one and one more
// for every savepoint opened within it.
func (m *Manager[C]) SavepointLevel(ctx context.Context, shard string) (int, error) {
	var level int
	err := m.pool.Hold(ctx, shard, func(_ context.Context, conn C) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if st, ok := m.states[conn]; ok {
			level = len(st.frames)
		}
		return nil
	})
	return level, err
}

// RollbackOnExit makes the open transaction on shard roll back instead of
// commit when its block returns successfully.
func (m *Manager[C]) RollbackOnExit(ctx context.Context, shard string) error {
	return m.pool.Hold(ctx, shard, func(_ context.Context, conn C) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		st, ok := m.states[conn]
		if !ok {
			return ErrNotInTransaction
		}
		st.rollbackOnExit = true
		return nil
	})
}

// AfterCommit runs hook once the transaction open on shard commits. Outside a
// transaction hook runs immediately.
func (m *Manager[C]) AfterCommit(ctx context.Context, shard string, hook func()) error {
	return m.addHook(ctx, shard, hook, true)
}

// AfterRollback runs hook once the transaction open on shard rolls back.
// Outside a transaction hook is dropped.
func (m *Manager[C]) AfterRollback(ctx context.Context, shard string, hook func()) error {
	return m.addHook(ctx, shard, hook, false)
}

func (m *Manager[C]) addHook(ctx context.Context, shard string, hook func(), onCommit bool) error {
	return m.pool.Hold(ctx, shard, func(_ context.Context, conn C) error {
		m.mu.Lock()
		st, ok := m.states[conn]
		if ok {
			if onCommit {
				st.afterCommit = append(st.afterCommit, hook)
			} else {
				st.afterRollback = append(st.afterRollback, hook)
			}
		}
		m.mu.Unlock()
		if !ok && onCommit {
			hook()
		}
		return nil
	})
}

// CommitPrepared commits the transaction prepared under id.
func (m *Manager[C]) CommitPrepared(ctx context.Context, shard, id string) error {
	return m.prepared(ctx, shard, "commit_prepared", m.opts.dialect.commitPrepared(id))
}

// RollbackPrepared rolls back the transaction prepared under id.
func (m *Manager[C]) RollbackPrepared(ctx context.Context, shard, id string) error {
	return m.prepared(ctx, shard, "rollback_prepared", m.opts.dialect.rollbackPrepared(id))
}

func (m *Manager[C]) prepared(ctx context.Context, shard, operation, query string) error {
	if !m.opts.dialect.SupportsPreparedTransactions {
		return ErrPreparedUnsupported
	}
	start := time.Now()
	err := m.pool.Hold(ctx, shard, func(ctx context.Context, conn C) error {
		return m.statement(ctx, conn, operation, query)
	})
	m.observe(operation, shard, "", time.Since(start), err, 0, nil)
	return err
}

func (m *Manager[C]) trace(ctx context.Context, opts Options) (context.Context, func(error)) {
	if m.opts.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := m.opts.tracer.StartSpan(ctx, "transaction")
	attrs := map[string]interface{}{
		"db.system":   m.opts.dialect.Name,
		"pool.shard":  opts.Server,
		"tx.retrying": opts.retries(),
	}
	if opts.Isolation != IsolationDefault {
		attrs["tx.isolation"] = opts.Isolation.String()
	}
	span.SetAttributes(attrs)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

func (m *Manager[C]) observeLevel(level int, shard string, d time.Duration, err error) {
	if level > 1 {
		m.observe("savepoint", shard, savepointName(level-1), d, err, int64(level), nil)
		return
	}
	m.observe("transaction", shard, "", d, err, int64(level), nil)
}

func (m *Manager[C]) observe(operation, shard, sub string, d time.Duration, err error, size int64, metadata map[string]interface{}) {
	if m.opts.observer == nil {
		return
	}
	m.opts.observer.ObserveOperation(observability.OperationContext{
		Component:   component,
		Operation:   operation,
		Resource:    shard,
		SubResource: sub,
		Duration:    d,
		Error:       err,
		Size:        size,
		Metadata:    metadata,
	})
}

func (m *Manager[C]) fields(extra map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{"dialect": m.opts.dialect.Name}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func (m *Manager[C]) logDebug(ctx context.Context, msg string, extra map[string]interface{}) {
	if m.opts.logger != nil {
		m.opts.logger.DebugWithContext(ctx, msg, nil, m.fields(extra))
	}
}

func (m *Manager[C]) logWarn(ctx context.Context, msg string, err error, extra map[string]interface{}) {
	if m.opts.logger != nil {
		m.opts.logger.WarnWithContext(ctx, msg, err, m.fields(extra))
	}
}

func (m *Manager[C]) logError(ctx context.Context, msg string, err error, extra map[string]interface{}) {
	if m.opts.logger != nil {
		m.opts.logger.ErrorWithContext(ctx, msg, err, m.fields(extra))
	}
}
