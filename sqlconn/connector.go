package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aalemi-dev/sqlpool/pool"
)

// ErrUnknownShard is returned when a connection is requested for a shard that
// has no database handle.
var ErrUnknownShard = errors.New("sqlconn: no database for shard")

// Connector hands out dedicated *sql.Conn connections from one *sql.DB per
// shard. database/sql's own pool is reduced to a connection factory: the
// pool package decides how many connections exist and who holds them.
type Connector struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB
}

// NewConnector wraps already opened handles keyed by shard name. A handle
// under pool.DefaultShard serves shards that have none of their own.
func NewConnector(dbs map[string]*sql.DB) *Connector {
	c := &Connector{dbs: make(map[string]*sql.DB, len(dbs))}
	for shard, db := range dbs {
		c.dbs[shard] = db
	}
	return c
}

// Open opens a handle per shard with driverName. Idle connections are not
// kept by database/sql, so closing a *sql.Conn closes the physical connection.
func Open(driverName string, dsns map[string]string) (*Connector, error) {
	c := &Connector{dbs: make(map[string]*sql.DB, len(dsns))}
	for shard, dsn := range dsns {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("sqlconn: open %s: %w", shard, err)
		}
		db.SetMaxIdleConns(0)
		c.dbs[shard] = db
	}
	return c, nil
}

// DB returns the handle serving shard.
func (c *Connector) DB(shard string) (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if db, ok := c.dbs[shard]; ok {
		return db, nil
	}
	if db, ok := c.dbs[pool.DefaultShard]; ok {
		return db, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownShard, shard)
}

// Add registers the handle of a shard added at runtime. A handle already
// registered for shard is closed.
func (c *Connector) Add(shard string, db *sql.DB) error {
	c.mu.Lock()
	old, ok := c.dbs[shard]
	c.dbs[shard] = db
	c.mu.Unlock()
	if !ok || old == db {
		return nil
	}
	return closeDB(shard, old)
}

// Remove closes the handle of shard and forgets it.
func (c *Connector) Remove(shard string) error {
	c.mu.Lock()
	db, ok := c.dbs[shard]
	delete(c.dbs, shard)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return closeDB(shard, db)
}

func closeDB(shard string, db *sql.DB) error {
	if err := db.Close(); err != nil {
		return fmt.Errorf("sqlconn: close %s: %w", shard, err)
	}
	return nil
}

// Shards lists the shards with a handle.
func (c *Connector) Shards() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shards := make([]string, 0, len(c.dbs))
	for shard := range c.dbs {
		shards = append(shards, shard)
	}
	sort.Strings(shards)
	return shards
}

// Connect is a pool.ConnectFunc.
func (c *Connector) Connect(ctx context.Context, shard string) (*sql.Conn, error) {
	db, err := c.DB(shard)
	if err != nil {
		return nil, err
	}
	return db.Conn(ctx)
}

// Disconnect is a pool.DisconnectFunc. A connection that is already closed
// counts as disconnected.
func Disconnect(conn *sql.Conn) error {
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

// Exec is a transaction.Executor for *sql.Conn.
func Exec(ctx context.Context, conn *sql.Conn, query string) error {
	_, err := conn.ExecContext(ctx, query)
	return err
}

// Close closes every handle.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for shard, db := range c.dbs {
		if err := closeDB(shard, db); err != nil {
			errs = append(errs, err)
		}
		delete(c.dbs, shard)
	}
	return errors.Join(errs...)
}

var (
	_ pool.ConnectFunc[*sql.Conn]    = (*Connector)(nil).Connect
	_ pool.DisconnectFunc[*sql.Conn] = Disconnect
)
