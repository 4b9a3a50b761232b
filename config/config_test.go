package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalemi-dev/sqlpool/config"
	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/transaction"
)

const sample = `
driver: mysql
dsn: app@tcp(db-0)/app
max_connections: 16
pool_timeout: 2s
connection_handling: stack
servers:
  eu:
    max_connections: 8
  us: {}
servers_hash:
  europe: eu
shard_dsns:
  eu: app@tcp(db-eu)/app
isolation: serializable
preconnect: concurrently
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqlpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := config.Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, config.DriverMySQL, cfg.Driver)
	assert.Equal(t, 16, cfg.MaxConnections)
	assert.Equal(t, 2*time.Second, cfg.PoolTimeout)
	assert.Equal(t, pool.ConnectionHandlingStack, cfg.ConnectionHandling)
	assert.Equal(t, 8, cfg.Servers["eu"].MaxConnections)
	assert.Contains(t, cfg.Servers, "us")
	assert.Equal(t, "eu", cfg.ServersHash["europe"])
	assert.Equal(t, pool.PreconnectConcurrently, cfg.Preconnect)
	assert.Equal(t, transaction.Serializable, cfg.IsolationLevel())
	assert.Equal(t, "mysql", cfg.Dialect().Name)

	assert.Equal(t, map[string]string{
		pool.DefaultShard: "app@tcp(db-0)/app",
		"eu":              "app@tcp(db-eu)/app",
		"us":              "app@tcp(db-0)/app",
	}, cfg.DSNs())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SQLPOOL_MAX_CONNECTIONS", "32")
	t.Setenv("SQLPOOL_POOL_TIMEOUT", "250ms")
	t.Setenv("SQLPOOL_KIND", "timed_queue")

	cfg, err := config.Load(writeFile(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.MaxConnections)
	assert.Equal(t, 250*time.Millisecond, cfg.PoolTimeout)
	assert.Equal(t, "timed_queue", cfg.Kind)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("SQLPOOL_DRIVER", "sqlite")
	t.Setenv("SQLPOOL_DSN", "file::memory:")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Driver)
	assert.Equal(t, pool.DefaultMaxConnections, cfg.MaxConnections)
	assert.Equal(t, pool.DefaultPoolTimeout, cfg.PoolTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  error
	}{
		{"negative max connections", "dsn: x\nmax_connections: -1\n", pool.ErrInvalidMaxConnections},
		{"negative timeout", "dsn: x\npool_timeout: -1s\n", pool.ErrInvalidPoolTimeout},
		{"unknown handling", "dsn: x\nconnection_handling: random\n", pool.ErrInvalidConnectionHandling},
		{"unknown driver", "dsn: x\ndriver: oracle\n", config.ErrInvalidConfig},
		{"missing dsn", "driver: pgx\n", config.ErrInvalidConfig},
		{"unknown isolation", "dsn: x\nisolation: snapshot\n", config.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, tt.content))
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
