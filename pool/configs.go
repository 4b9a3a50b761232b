package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// DefaultShard is the canonical name of the shard every pool always has.
	// Unknown shard aliases resolve to it unless Config.StrictServers is set.
	DefaultShard = "default"

	// DefaultMaxConnections is used when Config.MaxConnections is zero.
	DefaultMaxConnections = 4

	// DefaultPoolTimeout is used when Config.PoolTimeout is zero.
	DefaultPoolTimeout = 5 * time.Second
)

// Connection handling policies for idle connections.
const (
	// ConnectionHandlingQueue reuses the connection that has been idle the longest (FIFO).
	ConnectionHandlingQueue = "queue"

	// ConnectionHandlingStack reuses the most recently returned connection (LIFO),
	// which keeps a smaller working set of warm connections.
	ConnectionHandlingStack = "stack"

	// ConnectionHandlingDisconnect physically disconnects every connection on checkin.
	ConnectionHandlingDisconnect = "disconnect"
)

// Preconnect modes for Config.Preconnect.
const (
	PreconnectOff          = ""
	PreconnectSerial       = "true"
	PreconnectConcurrently = "concurrently"
)

var defaultSingleThreaded atomic.Bool

// SetDefaultSingleThreaded changes the process-wide default returned by DefaultConfig.
// It is meant to be called once at startup; pools already constructed are not affected.
func SetDefaultSingleThreaded(single bool) {
	defaultSingleThreaded.Store(single)
}

// ServerConfig holds per-shard overrides.
type ServerConfig struct {
	// MaxConnections overrides Config.MaxConnections for this shard when positive.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`
}

// Config configures a connection pool.
//
// The zero value is usable: it yields a threaded, unsharded pool of at most
// DefaultMaxConnections connections with a DefaultPoolTimeout acquisition timeout.
type Config struct {
	// Kind explicitly names the pool strategy ("single", "sharded_single", "threaded",
	// "sharded_threaded", "timed_queue", "sharded_timed_queue").
	// When empty the strategy is selected from SingleThreaded and Sharded.
	Kind string `yaml:"kind" mapstructure:"kind"`

	// SingleThreaded selects the lock-free single connection pools. Callers of such a
	// pool must not use it from more than one goroutine at a time.
	SingleThreaded bool `yaml:"single_threaded" mapstructure:"single_threaded"`

	// Sharded selects a sharded pool. It is implied when Servers is not empty.
	Sharded bool `yaml:"sharded" mapstructure:"sharded"`

	// MaxConnections bounds the number of connections that may exist at the same time
	// (idle plus checked out). For sharded pools the bound applies per shard.
	// Zero means DefaultMaxConnections; negative values are rejected.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// PoolTimeout is the longest a caller waits for a connection before receiving
	// a *PoolTimeoutError. Zero means DefaultPoolTimeout; negative values are rejected.
	PoolTimeout time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`

	// Servers lists the shards of a sharded pool (besides DefaultShard, which always
	// exists) with optional per-shard overrides.
	Servers map[string]ServerConfig `yaml:"servers" mapstructure:"servers"`

	// ServersHash maps additional aliases onto canonical shard names.
	// Aliases that are neither a shard nor listed here resolve to DefaultShard.
	ServersHash map[string]string `yaml:"servers_hash" mapstructure:"servers_hash"`

	// StrictServers makes unknown aliases fail with ErrUnknownShard instead of
	// silently resolving to DefaultShard.
	StrictServers bool `yaml:"strict_servers" mapstructure:"strict_servers"`

	// ConnectionHandling is one of ConnectionHandlingQueue (default),
	// ConnectionHandlingStack or ConnectionHandlingDisconnect.
	ConnectionHandling string `yaml:"connection_handling" mapstructure:"connection_handling"`

	// PoolSleepTime switches the threaded pools from waiter notification to the
	// sleep-and-poll wait loop, polling at this interval.
	PoolSleepTime time.Duration `yaml:"pool_sleep_time" mapstructure:"pool_sleep_time"`

	// Database is the logical database name reported in timeout errors and logs.
	Database string `yaml:"database" mapstructure:"database"`

	// Preconnect fills the pool when the owning component starts:
	// PreconnectSerial or PreconnectConcurrently. Empty disables it.
	Preconnect string `yaml:"preconnect" mapstructure:"preconnect"`
}

// DefaultConfig returns the process-wide default configuration.
func DefaultConfig() Config {
	return Config{
		SingleThreaded:     defaultSingleThreaded.Load(),
		MaxConnections:     DefaultMaxConnections,
		PoolTimeout:        DefaultPoolTimeout,
		ConnectionHandling: ConnectionHandlingQueue,
	}
}

// Validate reports the first configuration problem, if any. It never mutates cfg.
func (c Config) Validate() error {
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxConnections, c.MaxConnections)
	}
	for name, server := range c.Servers {
		if server.MaxConnections < 0 {
			return fmt.Errorf("%w: shard %q got %d", ErrInvalidMaxConnections, name, server.MaxConnections)
		}
	}
	if c.PoolTimeout < 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidPoolTimeout, c.PoolTimeout)
	}
	if c.PoolSleepTime < 0 {
		return fmt.Errorf("%w: pool sleep time must not be negative", ErrConfiguration)
	}
	switch c.ConnectionHandling {
	case "", ConnectionHandlingQueue, ConnectionHandlingStack, ConnectionHandlingDisconnect:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidConnectionHandling, c.ConnectionHandling)
	}
	switch c.Preconnect {
	case PreconnectOff, PreconnectSerial, PreconnectConcurrently:
	default:
		return fmt.Errorf("%w: unknown preconnect mode %q", ErrConfiguration, c.Preconnect)
	}
	if c.Kind != "" {
		if _, err := ParseKind(c.Kind); err != nil {
			return err
		}
	}
	return nil
}

// withDefaults returns a copy of c with zero values replaced by package defaults.
func (c Config) withDefaults() Config {
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = DefaultPoolTimeout
	}
	if c.ConnectionHandling == "" {
		c.ConnectionHandling = ConnectionHandlingQueue
	}
	return c
}

// isSharded reports whether the configuration asks for a sharded pool.
func (c Config) isSharded() bool {
	return c.Sharded || len(c.Servers) > 0
}

// shardMaxSize returns the connection bound of the named shard.
func (c Config) shardMaxSize(shard string) int {
	if server, ok := c.Servers[shard]; ok && server.MaxConnections > 0 {
		return server.MaxConnections
	}
	return c.MaxConnections
}

// Logger is the logging interface used by the pools. It matches the
// context-aware subset of logger.Logger.
type Logger interface {
	// DebugWithContext logs a debug-level message with trace context.
	DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})

	// InfoWithContext logs an informational message with trace context.
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})

	// WarnWithContext logs a warning message with trace context.
	WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})

	// ErrorWithContext logs an error message with trace context.
	ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}
