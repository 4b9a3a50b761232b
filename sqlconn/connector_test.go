package sqlconn_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/sqlconn"
	"github.com/aalemi-dev/sqlpool/transaction"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newManager(t *testing.T, conns *sqlconn.Connector, dialect transaction.Dialect) (pool.Pool[*sql.Conn], *transaction.Manager[*sql.Conn]) {
	t.Helper()
	p, err := pool.New[*sql.Conn](pool.Config{MaxConnections: 1}, conns.Connect, sqlconn.Disconnect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, transaction.NewManager(p, sqlconn.Exec, transaction.WithDialect(dialect))
}

var noRows = sqlmock.NewResult(0, 0)

func TestTransactionStatements(t *testing.T) {
	db, mock := newMock(t)
	_, m := newManager(t, sqlconn.NewConnector(map[string]*sql.DB{pool.DefaultShard: db}), transaction.DefaultDialect())

	mock.ExpectExec("BEGIN").WillReturnResult(noRows)
	mock.ExpectExec("INSERT INTO jobs (id) VALUES (1)").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SAVEPOINT autopoint_1").WillReturnResult(noRows)
	mock.ExpectExec("ROLLBACK TO SAVEPOINT autopoint_1").WillReturnResult(noRows)
	mock.ExpectExec("COMMIT").WillReturnResult(noRows)

	err := m.Transaction(context.Background(), transaction.Options{}, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "INSERT INTO jobs (id) VALUES (1)"); err != nil {
			return err
		}
		return m.Transaction(ctx, transaction.Options{Savepoint: transaction.SavepointAlways},
			func(context.Context, *sql.Conn) error { return transaction.ErrRollback })
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFailureRollsBack(t *testing.T) {
	db, mock := newMock(t)
	_, m := newManager(t, sqlconn.NewConnector(map[string]*sql.DB{pool.DefaultShard: db}), transaction.DefaultDialect())

	conflict := errors.New("could not serialize")
	mock.ExpectExec("BEGIN").WillReturnResult(noRows)
	mock.ExpectExec("COMMIT").WillReturnError(conflict)
	mock.ExpectExec("ROLLBACK").WillReturnResult(noRows)

	err := m.Transaction(context.Background(), transaction.Options{}, func(context.Context, *sql.Conn) error { return nil })
	assert.ErrorIs(t, err, conflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBadConnectionIsDiscarded(t *testing.T) {
	db, mock := newMock(t)
	p, _ := newManager(t, sqlconn.NewConnector(map[string]*sql.DB{pool.DefaultShard: db}), transaction.DefaultDialect())

	mock.ExpectExec("SELECT 1").WillReturnError(sql.ErrConnDone)
	err := p.Hold(context.Background(), "", func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "SELECT 1")
		return err
	})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Zero(t, p.Size(""))
	assert.Equal(t, uint64(1), p.Stats().Destroyed)
}

func TestConnectorRouting(t *testing.T) {
	def, _ := newMock(t)
	eu, _ := newMock(t)
	conns := sqlconn.NewConnector(map[string]*sql.DB{pool.DefaultShard: def})
	require.NoError(t, conns.Add("eu", eu))

	got, err := conns.DB("eu")
	require.NoError(t, err)
	assert.Same(t, eu, got)

	got, err = conns.DB("unknown")
	require.NoError(t, err)
	assert.Same(t, def, got)
	assert.Equal(t, []string{pool.DefaultShard, "eu"}, conns.Shards())

	_, err = sqlconn.NewConnector(nil).DB("eu")
	assert.ErrorIs(t, err, sqlconn.ErrUnknownShard)
}

func TestConnectorRemoveClosesHandle(t *testing.T) {
	def, _ := newMock(t)
	eu, _ := newMock(t)
	conns := sqlconn.NewConnector(map[string]*sql.DB{pool.DefaultShard: def})
	require.NoError(t, conns.Add("eu", eu))

	require.NoError(t, conns.Remove("eu"))
	assert.ErrorContains(t, eu.Ping(), "database is closed")
	assert.Equal(t, []string{pool.DefaultShard}, conns.Shards())
	assert.NoError(t, conns.Remove("eu"))

	got, err := conns.DB("eu")
	require.NoError(t, err)
	assert.Same(t, def, got)
}

func TestConnectorAddClosesReplacedHandle(t *testing.T) {
	old, _ := newMock(t)
	replacement, _ := newMock(t)
	conns := sqlconn.NewConnector(nil)
	require.NoError(t, conns.Add("eu", old))
	require.NoError(t, conns.Add("eu", replacement))

	assert.ErrorContains(t, old.Ping(), "database is closed")
	got, err := conns.DB("eu")
	require.NoError(t, err)
	assert.Same(t, replacement, got)
}

func TestDisconnectTwice(t *testing.T) {
	db, _ := newMock(t)
	conn, err := db.Conn(context.Background())
	require.NoError(t, err)

	require.NoError(t, sqlconn.Disconnect(conn))
	assert.NoError(t, sqlconn.Disconnect(conn))
}

func TestSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "jobs.db")
	conns, err := sqlconn.Open("sqlite", map[string]string{pool.DefaultShard: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conns.Close() })

	p, m := newManager(t, conns, transaction.SQLiteDialect())
	ctx := context.Background()

	require.NoError(t, p.Hold(ctx, "", func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, "CREATE TABLE jobs (id INTEGER PRIMARY KEY)")
		return err
	}))

	err = m.Transaction(ctx, transaction.Options{}, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "INSERT INTO jobs (id) VALUES (1)"); err != nil {
			return err
		}
		return m.Transaction(ctx, transaction.Options{Savepoint: transaction.SavepointAlways},
			func(ctx context.Context, conn *sql.Conn) error {
				if _, err := conn.ExecContext(ctx, "INSERT INTO jobs (id) VALUES (2)"); err != nil {
					return err
				}
				return transaction.ErrRollback
			})
	})
	require.NoError(t, err)

	err = m.Transaction(ctx, transaction.Options{}, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "INSERT INTO jobs (id) VALUES (3)"); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, p.Hold(ctx, "", func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&count)
	}))
	assert.Equal(t, 1, count)
}
