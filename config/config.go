package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/transaction"
)

// EnvPrefix prefixes every environment override: SQLPOOL_MAX_CONNECTIONS
// overrides max_connections, SQLPOOL_POOL_TIMEOUT overrides pool_timeout.
const EnvPrefix = "SQLPOOL"

// Supported drivers.
const (
	DriverPgx    = "pgx"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ErrInvalidConfig is wrapped by every validation failure of Config.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the file format of a database: the pool settings at the top
// level plus how to reach every shard.
type Config struct {
	pool.Config `yaml:",inline" mapstructure:",squash"`

	// Driver is one of DriverPgx, DriverMySQL or DriverSQLite.
	Driver string `yaml:"driver" mapstructure:"driver"`

	// DSN is the data source of the default shard, and of every shard
	// missing from ShardDSNs.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// ShardDSNs maps shard names to their data source.
	ShardDSNs map[string]string `yaml:"shard_dsns" mapstructure:"shard_dsns"`

	// Isolation is the default transaction isolation level:
	// "committed", "repeatable", "serializable" or "uncommitted".
	Isolation string `yaml:"isolation" mapstructure:"isolation"`
}

// Load reads the YAML file at path, applies SQLPOOL_* environment overrides
// and validates the result. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// the file does not mention.
func setDefaults(v *viper.Viper) {
	def := pool.DefaultConfig()
	v.SetDefault("kind", def.Kind)
	v.SetDefault("single_threaded", def.SingleThreaded)
	v.SetDefault("sharded", def.Sharded)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("pool_timeout", def.PoolTimeout)
	v.SetDefault("strict_servers", def.StrictServers)
	v.SetDefault("connection_handling", def.ConnectionHandling)
	v.SetDefault("pool_sleep_time", def.PoolSleepTime)
	v.SetDefault("database", def.Database)
	v.SetDefault("preconnect", def.Preconnect)
	v.SetDefault("driver", DriverPgx)
	v.SetDefault("dsn", "")
	v.SetDefault("isolation", "")
}

// Validate checks the pool settings and the connection settings.
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	switch c.Driver {
	case DriverPgx, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if _, err := transaction.ParseIsolation(c.Isolation); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// DSNFor returns the data source of shard.
func (c *Config) DSNFor(shard string) string {
	if dsn, ok := c.ShardDSNs[shard]; ok && dsn != "" {
		return dsn
	}
	return c.DSN
}

// DSNs returns the data source of the default shard and of every configured shard.
func (c *Config) DSNs() map[string]string {
	dsns := map[string]string{pool.DefaultShard: c.DSN}
	for shard := range c.Servers {
		dsns[shard] = c.DSNFor(shard)
	}
	for shard, dsn := range c.ShardDSNs {
		if dsn != "" {
			dsns[shard] = dsn
		}
	}
	return dsns
}

// IsolationLevel returns the parsed default isolation level.
func (c *Config) IsolationLevel() transaction.Isolation {
	level, _ := transaction.ParseIsolation(c.Isolation)
	return level
}

// Dialect returns the transaction dialect matching Driver.
func (c *Config) Dialect() transaction.Dialect {
	return transaction.DialectFor(c.Driver)
}
