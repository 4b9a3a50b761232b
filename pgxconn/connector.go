package pgxconn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aalemi-dev/sqlpool/pool"
)

// CloseTimeout bounds the graceful termination message sent by Disconnect.
const CloseTimeout = 5 * time.Second

// ErrUnknownShard is returned when a connection is requested for a shard
// without a configuration.
var ErrUnknownShard = errors.New("pgxconn: no configuration for shard")

// Connector opens native pgx connections from a parsed configuration per shard.
type Connector struct {
	mu      sync.RWMutex
	configs map[string]*pgx.ConnConfig
}

// NewConnector parses one connection string per shard. A configuration under
// pool.DefaultShard serves shards that have none of their own.
func NewConnector(dsns map[string]string) (*Connector, error) {
	c := &Connector{configs: make(map[string]*pgx.ConnConfig, len(dsns))}
	for shard, dsn := range dsns {
		if err := c.Add(shard, dsn); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add parses dsn and registers it for shard.
func (c *Connector) Add(shard, dsn string) error {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("pgxconn: parse %s: %w", shard, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[shard] = cfg
	return nil
}

// Shards lists the configured shards.
func (c *Connector) Shards() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shards := make([]string, 0, len(c.configs))
	for shard := range c.configs {
		shards = append(shards, shard)
	}
	sort.Strings(shards)
	return shards
}

func (c *Connector) config(shard string) (*pgx.ConnConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cfg, ok := c.configs[shard]; ok {
		return cfg.Copy(), nil
	}
	if cfg, ok := c.configs[pool.DefaultShard]; ok {
		return cfg.Copy(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownShard, shard)
}

// Connect is a pool.ConnectFunc.
func (c *Connector) Connect(ctx context.Context, shard string) (*pgx.Conn, error) {
	cfg, err := c.config(shard)
	if err != nil {
		return nil, err
	}
	return pgx.ConnectConfig(ctx, cfg)
}

// Disconnect is a pool.DisconnectFunc. Closing an already closed connection
// is not an error.
func Disconnect(conn *pgx.Conn) error {
	if conn.IsClosed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout)
	defer cancel()
	return conn.Close(ctx)
}

// Exec is a transaction.Executor for *pgx.Conn.
func Exec(ctx context.Context, conn *pgx.Conn, query string) error {
	_, err := conn.Exec(ctx, query)
	return err
}

var (
	_ pool.ConnectFunc[*pgx.Conn]    = (*Connector)(nil).Connect
	_ pool.DisconnectFunc[*pgx.Conn] = Disconnect
)
