package transaction_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalemi-dev/sqlpool/observability"
	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/transaction"
)

type fakeConn struct {
	id int
}

// recorder executes statements by appending them to a log. Statements listed
// in fail return the mapped error.
type recorder struct {
	mu   sync.Mutex
	log  []string
	fail map[string]error
}

func (r *recorder) exec(_ context.Context, _ *fakeConn, query string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, query)
	if err, ok := r.fail[query]; ok {
		return err
	}
	return nil
}

func (r *recorder) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func newManager(t *testing.T, opts ...transaction.ManagerOption) (*transaction.Manager[*fakeConn], *recorder) {
	t.Helper()
	var (
		mu   sync.Mutex
		next int
	)
	connect := func(context.Context, string) (*fakeConn, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return &fakeConn{id: next}, nil
	}
	p, err := pool.New[*fakeConn](pool.Config{MaxConnections: 2}, connect, func(*fakeConn) error { return nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	rec := &recorder{fail: map[string]error{}}
	return transaction.NewManager(p, rec.exec, opts...), rec
}

func TestTransactionCommits(t *testing.T) {
	m, rec := newManager(t)

	err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, conn *fakeConn) error {
		return rec.exec(ctx, conn, "INSERT")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BEGIN", "INSERT", "COMMIT"}, rec.statements())
}

func TestTransactionRollsBackOnError(t *testing.T) {
	m, rec := newManager(t)
	boom := errors.New("boom")

	err := m.Transaction(context.Background(), transaction.Options{}, func(context.Context, *fakeConn) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())
}

func TestRollbackSentinel(t *testing.T) {
	t.Run("swallowed by default", func(t *testing.T) {
		m, rec := newManager(t)
		err := m.Transaction(context.Background(), transaction.Options{}, func(context.Context, *fakeConn) error {
			return transaction.ErrRollback
		})
		assert.NoError(t, err)
		assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())
	})

	t.Run("reraised on request", func(t *testing.T) {
		m, _ := newManager(t)
		err := m.Transaction(context.Background(), transaction.Options{Rollback: transaction.RollbackReraise},
			func(context.Context, *fakeConn) error { return transaction.ErrRollback })
		assert.ErrorIs(t, err, transaction.ErrRollback)
	})

	t.Run("always", func(t *testing.T) {
		m, rec := newManager(t)
		err := m.Transaction(context.Background(), transaction.Options{Rollback: transaction.RollbackAlways},
			func(context.Context, *fakeConn) error { return nil })
		assert.NoError(t, err)
		assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())
	})
}

func TestRollbackFailurePropagates(t *testing.T) {
	m, rec := newManager(t)
	broken := errors.New("connection lost")
	rec.fail["ROLLBACK"] = broken
	boom := errors.New("boom")

	err := m.Transaction(context.Background(), transaction.Options{}, func(context.Context, *fakeConn) error {
		return boom
	})
	var rbErr *transaction.RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.ErrorIs(t, err, broken)
	assert.ErrorIs(t, err, boom)
}

func TestNestedSavepoint(t *testing.T) {
	m, rec := newManager(t)
	ctx := context.Background()

	err := m.Transaction(ctx, transaction.Options{}, func(ctx context.Context, conn *fakeConn) error {
		err := m.Transaction(ctx, transaction.Options{Savepoint: transaction.SavepointAlways},
			func(ctx context.Context, inner *fakeConn) error {
				assert.Same(t, conn, inner)
				level, err := m.SavepointLevel(ctx, "")
				require.NoError(t, err)
				assert.Equal(t, 2, level)
				return transaction.ErrRollback
			})
		require.NoError(t, err)

		level, err := m.SavepointLevel(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, level)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"BEGIN",
		"SAVEPOINT autopoint_1",
		"ROLLBACK TO SAVEPOINT autopoint_1",
		"COMMIT",
	}, rec.statements())

	level, err := m.SavepointLevel(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, level)
}

func TestNestedWithoutSavepointJoins(t *testing.T) {
	m, rec := newManager(t)

	err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, conn *fakeConn) error {
		return m.Transaction(ctx, transaction.Options{}, func(ctx context.Context, conn *fakeConn) error {
			return rec.exec(ctx, conn, "UPDATE")
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BEGIN", "UPDATE", "COMMIT"}, rec.statements())
}

func TestAutoSavepoint(t *testing.T) {
	m, rec := newManager(t)

	err := m.Transaction(context.Background(), transaction.Options{AutoSavepoint: true}, func(ctx context.Context, _ *fakeConn) error {
		if err := m.Transaction(ctx, transaction.Options{}, func(context.Context, *fakeConn) error { return nil }); err != nil {
			return err
		}
		return m.Transaction(ctx, transaction.Options{Savepoint: transaction.SavepointNever}, func(context.Context, *fakeConn) error { return nil })
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BEGIN", "SAVEPOINT autopoint_1", "RELEASE SAVEPOINT autopoint_1", "COMMIT"}, rec.statements())
}

func TestSavepointOnly(t *testing.T) {
	m, rec := newManager(t)

	err := m.Transaction(context.Background(), transaction.Options{Savepoint: transaction.SavepointOnly}, func(ctx context.Context, conn *fakeConn) error {
		return rec.exec(ctx, conn, "SELECT 1")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1"}, rec.statements())
}

func TestSavepointsUnsupported(t *testing.T) {
	d := transaction.DefaultDialect()
	d.SupportsSavepoints = false
	m, _ := newManager(t, transaction.WithDialect(d))

	err := m.Transaction(context.Background(), transaction.Options{Savepoint: transaction.SavepointAlways},
		func(context.Context, *fakeConn) error { return nil })
	assert.ErrorIs(t, err, transaction.ErrSavepointsUnsupported)

	err = m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, _ *fakeConn) error {
		return m.Transaction(ctx, transaction.Options{Rollback: transaction.RollbackAlways},
			func(context.Context, *fakeConn) error { return nil })
	})
	assert.ErrorIs(t, err, transaction.ErrRollbackAlwaysNested)
}

func TestIsolation(t *testing.T) {
	t.Run("after begin", func(t *testing.T) {
		m, rec := newManager(t, transaction.WithDefaultIsolation(transaction.RepeatableRead))
		err := m.Transaction(context.Background(), transaction.Options{}, func(context.Context, *fakeConn) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, []string{"BEGIN", "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ", "COMMIT"}, rec.statements())
	})

	t.Run("before begin", func(t *testing.T) {
		m, rec := newManager(t, transaction.WithDialect(transaction.MySQLDialect()))
		err := m.Transaction(context.Background(), transaction.Options{Isolation: transaction.Serializable},
			func(context.Context, *fakeConn) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, []string{"SET TRANSACTION ISOLATION LEVEL SERIALIZABLE", "BEGIN", "COMMIT"}, rec.statements())
	})

	t.Run("failure does not leave the transaction open", func(t *testing.T) {
		m, rec := newManager(t)
		rec.fail["SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"] = errors.New("denied")
		err := m.Transaction(context.Background(), transaction.Options{Isolation: transaction.Serializable},
			func(context.Context, *fakeConn) error { return nil })
		require.Error(t, err)
		assert.Equal(t, []string{"BEGIN", "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE", "ROLLBACK"}, rec.statements())
	})
}

func TestHooks(t *testing.T) {
	m, _ := newManager(t)
	var calls []string

	err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, _ *fakeConn) error {
		require.NoError(t, m.AfterCommit(ctx, "", func() { calls = append(calls, "commit") }))
		require.NoError(t, m.AfterRollback(ctx, "", func() { calls = append(calls, "rollback") }))
		assert.Empty(t, calls)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"commit"}, calls)

	calls = nil
	err = m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, _ *fakeConn) error {
		require.NoError(t, m.AfterCommit(ctx, "", func() { calls = append(calls, "commit") }))
		require.NoError(t, m.AfterRollback(ctx, "", func() { calls = append(calls, "rollback") }))
		return transaction.ErrRollback
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rollback"}, calls)

	calls = nil
	require.NoError(t, m.AfterCommit(context.Background(), "", func() { calls = append(calls, "immediate") }))
	assert.Equal(t, []string{"immediate"}, calls)
}

func TestRollbackOnExit(t *testing.T) {
	m, rec := newManager(t)

	assert.ErrorIs(t, m.RollbackOnExit(context.Background(), ""), transaction.ErrNotInTransaction)

	err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, _ *fakeConn) error {
		return m.RollbackOnExit(ctx, "")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())
}

func TestPanicRollsBack(t *testing.T) {
	m, rec := newManager(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = m.Transaction(context.Background(), transaction.Options{}, func(context.Context, *fakeConn) error {
			panic("boom")
		})
	})
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, rec.statements())

	in, err := m.InTransaction(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, in)
}

func TestRetry(t *testing.T) {
	conflict := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

	t.Run("until success", func(t *testing.T) {
		m, rec := newManager(t)
		var attempts []int
		calls := 0
		err := m.Transaction(context.Background(), transaction.Options{
			RetryIf:     transaction.IsSerializationFailure,
			BeforeRetry: func(attempt int, _ error) { attempts = append(attempts, attempt) },
		}, func(context.Context, *fakeConn) error {
			calls++
			if calls < 3 {
				return conflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{2, 3}, attempts)
		assert.Equal(t, "BEGIN,ROLLBACK,BEGIN,ROLLBACK,BEGIN,COMMIT", strings.Join(rec.statements(), ","))
	})

	t.Run("exhausted", func(t *testing.T) {
		m, _ := newManager(t)
		calls := 0
		err := m.Transaction(context.Background(), transaction.Options{
			RetryOn:    []error{conflict},
			NumRetries: 3,
		}, func(context.Context, *fakeConn) error {
			calls++
			return conflict
		})
		assert.ErrorIs(t, err, transaction.ErrRetriesExhausted)
		assert.ErrorIs(t, err, conflict)
		assert.Equal(t, 4, calls)
	})

	t.Run("default retries", func(t *testing.T) {
		m, _ := newManager(t)
		calls := 0
		err := m.Transaction(context.Background(), transaction.Options{RetryOn: []error{conflict}},
			func(context.Context, *fakeConn) error {
				calls++
				return conflict
			})
		assert.ErrorIs(t, err, transaction.ErrRetriesExhausted)
		assert.Equal(t, transaction.DefaultNumRetries+1, calls)
	})

	t.Run("one retry", func(t *testing.T) {
		m, _ := newManager(t)
		calls := 0
		err := m.Transaction(context.Background(), transaction.Options{RetryOn: []error{conflict}, NumRetries: 1},
			func(context.Context, *fakeConn) error {
				calls++
				return conflict
			})
		assert.ErrorIs(t, err, transaction.ErrRetriesExhausted)
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		m, _ := newManager(t)
		boom := errors.New("boom")
		calls := 0
		err := m.Transaction(context.Background(), transaction.Options{RetryIf: transaction.IsSerializationFailure},
			func(context.Context, *fakeConn) error {
				calls++
				return boom
			})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("not inside a transaction", func(t *testing.T) {
		m, _ := newManager(t)
		err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, _ *fakeConn) error {
			return m.Transaction(ctx, transaction.Options{RetryIf: transaction.IsSerializationFailure},
				func(context.Context, *fakeConn) error { return nil })
		})
		assert.ErrorIs(t, err, transaction.ErrRetryInNested)
	})

	t.Run("not inside a transaction even with a savepoint", func(t *testing.T) {
		m, rec := newManager(t)
		ran := false
		err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, _ *fakeConn) error {
			return m.Transaction(ctx, transaction.Options{
				Savepoint: transaction.SavepointAlways,
				RetryIf:   transaction.IsSerializationFailure,
			}, func(context.Context, *fakeConn) error {
				ran = true
				return nil
			})
		})
		assert.ErrorIs(t, err, transaction.ErrRetryInNested)
		assert.False(t, ran)
		assert.NotContains(t, rec.statements(), "SAVEPOINT autopoint_1")
	})
}

func TestPreparedTransactions(t *testing.T) {
	m, rec := newManager(t)
	var committed bool

	err := m.Transaction(context.Background(), transaction.Options{Prepare: "tx'1"}, func(ctx context.Context, _ *fakeConn) error {
		return m.AfterCommit(ctx, "", func() { committed = true })
	})
	require.NoError(t, err)
	require.NoError(t, m.CommitPrepared(context.Background(), "", "tx'1"))
	assert.False(t, committed)
	assert.Equal(t, []string{"BEGIN", "PREPARE TRANSACTION 'tx''1'", "COMMIT PREPARED 'tx''1'"}, rec.statements())

	mysqlManager, _ := newManager(t, transaction.WithDialect(transaction.MySQLDialect()))
	err = mysqlManager.Transaction(context.Background(), transaction.Options{Prepare: "x"}, func(context.Context, *fakeConn) error { return nil })
	assert.ErrorIs(t, err, transaction.ErrPreparedUnsupported)
}

func TestObserverEvents(t *testing.T) {
	obs := &observability.Recorder{}
	m, _ := newManager(t, transaction.WithObserver(obs))

	err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, _ *fakeConn) error {
		return m.Transaction(ctx, transaction.Options{Savepoint: transaction.SavepointAlways},
			func(context.Context, *fakeConn) error { return nil })
	})
	require.NoError(t, err)
	assert.Equal(t, 1, obs.Count("transaction", "transaction"))
	assert.Equal(t, 1, obs.Count("transaction", "savepoint"))
	assert.Equal(t, 1, obs.Count("transaction", "commit"))
}

func TestIsSerializationFailure(t *testing.T) {
	assert.True(t, transaction.IsSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, transaction.IsSerializationFailure(&mysql.MySQLError{Number: 1213}))
	assert.False(t, transaction.IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, transaction.IsSerializationFailure(errors.New("x")))
}

func TestParseIsolation(t *testing.T) {
	level, err := transaction.ParseIsolation("Repeatable Read")
	require.NoError(t, err)
	assert.Equal(t, transaction.RepeatableRead, level)

	_, err = transaction.ParseIsolation("snapshot")
	assert.Error(t, err)
}
