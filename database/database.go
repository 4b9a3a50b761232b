package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aalemi-dev/sqlpool/config"
	"github.com/aalemi-dev/sqlpool/observability"
	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/sqlconn"
	"github.com/aalemi-dev/sqlpool/tracer"
	"github.com/aalemi-dev/sqlpool/transaction"
)

// Option customises a Database.
type Option func(*options)

type options struct {
	logger   pool.Logger
	observer observability.Observer
	tracer   tracer.Tracer
}

// WithLogger is passed to the pool and the transaction manager.
func WithLogger(l pool.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver is passed to the pool and the transaction manager.
func WithObserver(obs observability.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithTracer is passed to the pool and the transaction manager.
func WithTracer(t tracer.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Database ties a database/sql connector, a pool of dedicated connections
// and a transaction manager together.
type Database struct {
	cfg   *config.Config
	conns *sqlconn.Connector
	pool  pool.Pool[*sql.Conn]
	tx    *transaction.Manager[*sql.Conn]
	opts  options
}

// New opens one database/sql handle per shard of cfg and builds the pool and
// transaction manager on top. No connection is made until first use or
// Preconnect.
func New(cfg *config.Config, opts ...Option) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	conns, err := sqlconn.Open(driverName(cfg.Driver), cfg.DSNs())
	if err != nil {
		return nil, err
	}

	var poolOpts []pool.Option
	var txOpts = []transaction.ManagerOption{
		transaction.WithDialect(cfg.Dialect()),
		transaction.WithDefaultIsolation(cfg.IsolationLevel()),
	}
	if o.logger != nil {
		poolOpts = append(poolOpts, pool.WithLogger(o.logger))
		txOpts = append(txOpts, transaction.WithLogger(o.logger))
	}
	if o.observer != nil {
		poolOpts = append(poolOpts, pool.WithObserver(o.observer))
		txOpts = append(txOpts, transaction.WithObserver(o.observer))
	}
	if o.tracer != nil {
		poolOpts = append(poolOpts, pool.WithTracer(o.tracer))
		txOpts = append(txOpts, transaction.WithTracer(o.tracer))
	}

	p, err := pool.New[*sql.Conn](cfg.Config, conns.Connect, sqlconn.Disconnect, poolOpts...)
	if err != nil {
		return nil, errors.Join(err, conns.Close())
	}

	return &Database{
		cfg:   cfg,
		conns: conns,
		pool:  p,
		tx:    transaction.NewManager(p, sqlconn.Exec, txOpts...),
		opts:  o,
	}, nil
}

// driverName maps a configured driver onto its database/sql registration.
func driverName(driver string) string {
	if driver == config.DriverPgx {
		return "pgx"
	}
	return driver
}

// Pool returns the connection pool.
func (d *Database) Pool() pool.Pool[*sql.Conn] { return d.pool }

// Transactions returns the transaction manager.
func (d *Database) Transactions() *transaction.Manager[*sql.Conn] { return d.tx }

// Config returns the configuration the database was built from.
func (d *Database) Config() *config.Config { return d.cfg }

// Hold runs fn with a connection of shard.
func (d *Database) Hold(ctx context.Context, shard string, fn pool.HoldFunc[*sql.Conn]) error {
	return d.pool.Hold(ctx, shard, fn)
}

// Transaction runs fn in a transaction. See transaction.Manager.Transaction.
func (d *Database) Transaction(ctx context.Context, opts transaction.Options, fn pool.HoldFunc[*sql.Conn]) error {
	return d.tx.Transaction(ctx, opts, fn)
}

// Preconnect fills the pool as Config.Preconnect asks. It does nothing when
// preconnecting is off.
func (d *Database) Preconnect(ctx context.Context) error {
	switch d.cfg.Preconnect {
	case pool.PreconnectSerial:
		return d.pool.Preconnect(ctx, false)
	case pool.PreconnectConcurrently:
		return d.pool.Preconnect(ctx, true)
	}
	return nil
}

// AddShard opens dsn and adds it to the pool as shard.
func (d *Database) AddShard(shard, dsn string) error {
	db, err := sql.Open(driverName(d.cfg.Driver), dsn)
	if err != nil {
		return fmt.Errorf("database: open %s: %w", shard, err)
	}
	db.SetMaxIdleConns(0)
	return errors.Join(d.conns.Add(shard, db), d.pool.AddServers(shard))
}

// RemoveShard disconnects shard, removes it from the pool and closes its
// handle.
func (d *Database) RemoveShard(shard string) error {
	if err := d.pool.RemoveServers(shard); err != nil {
		return err
	}
	return d.conns.Remove(shard)
}

// Close disconnects every pooled connection and closes the handles.
func (d *Database) Close() error {
	return errors.Join(d.pool.Close(), d.conns.Close())
}
