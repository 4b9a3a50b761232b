package database_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/aalemi-dev/sqlpool/config"
	"github.com/aalemi-dev/sqlpool/database"
	"github.com/aalemi-dev/sqlpool/logger"
	"github.com/aalemi-dev/sqlpool/observability"
	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/transaction"
)

type Job struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func sqliteConfig(t *testing.T, maxConnections int) *config.Config {
	t.Helper()
	return &config.Config{
		Config: pool.Config{MaxConnections: maxConnections},
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "jobs.db"),
	}
}

func newDatabase(t *testing.T, cfg *config.Config, opts ...database.Option) *database.Database {
	t.Helper()
	db, err := database.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func migrate(t *testing.T, db *database.Database, shard string) {
	t.Helper()
	require.NoError(t, db.WithGorm(context.Background(), shard, func(_ context.Context, g *gorm.DB) error {
		return g.AutoMigrate(&Job{})
	}))
}

func countJobs(t *testing.T, db *database.Database, shard string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.WithGorm(context.Background(), shard, func(_ context.Context, g *gorm.DB) error {
		return g.Model(&Job{}).Count(&n).Error
	}))
	return n
}

func TestGormTransaction(t *testing.T) {
	db := newDatabase(t, sqliteConfig(t, 1))
	migrate(t, db, "")
	ctx := context.Background()

	err := db.GormTransaction(ctx, transaction.Options{}, func(ctx context.Context, g *gorm.DB) error {
		if err := g.Create(&Job{Name: "reindex"}).Error; err != nil {
			return err
		}
		return db.GormTransaction(ctx, transaction.Options{Savepoint: transaction.SavepointAlways},
			func(_ context.Context, g *gorm.DB) error {
				if err := g.Create(&Job{Name: "vacuum"}).Error; err != nil {
					return err
				}
				return transaction.ErrRollback
			})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), countJobs(t, db, ""))

	var in bool
	err = db.Transaction(ctx, transaction.Options{}, func(ctx context.Context, _ *sql.Conn) error {
		var err error
		in, err = db.Transactions().InTransaction(ctx, "")
		return err
	})
	require.NoError(t, err)
	assert.True(t, in)
}

func TestPreconnect(t *testing.T) {
	cfg := sqliteConfig(t, 2)
	cfg.Preconnect = pool.PreconnectConcurrently
	obs := &observability.Recorder{}
	db := newDatabase(t, cfg, database.WithObserver(obs))

	require.NoError(t, db.Preconnect(context.Background()))
	assert.Equal(t, 2, db.Pool().Size(""))
	assert.Equal(t, 2, obs.Count("pool", "create"))
}

func TestShards(t *testing.T) {
	cfg := sqliteConfig(t, 1)
	cfg.Sharded = true
	db := newDatabase(t, cfg)

	euPath := filepath.Join(t.TempDir(), "eu.db")
	require.NoError(t, db.AddShard("eu", euPath))
	assert.Equal(t, []string{pool.DefaultShard, "eu"}, db.Pool().Servers())

	migrate(t, db, "")
	migrate(t, db, "eu")
	require.NoError(t, db.WithGorm(context.Background(), "eu", func(_ context.Context, g *gorm.DB) error {
		return g.Create(&Job{Name: "eu only"}).Error
	}))
	assert.Equal(t, int64(1), countJobs(t, db, "eu"))
	assert.Zero(t, countJobs(t, db, ""))

	require.NoError(t, db.RemoveShard("eu"))
	assert.Equal(t, []string{pool.DefaultShard}, db.Pool().Servers())
	assert.ErrorIs(t, db.RemoveShard(pool.DefaultShard), pool.ErrRemoveDefaultShard)

	// Adding the shard back opens a fresh handle on the same file.
	require.NoError(t, db.AddShard("eu", euPath))
	assert.Equal(t, int64(1), countJobs(t, db, "eu"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := database.New(&config.Config{Driver: config.DriverSQLite})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestFXModule(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := logger.NewWithZap(zap.New(core), false)

	cfg := sqliteConfig(t, 1)
	cfg.Preconnect = pool.PreconnectSerial

	var db *database.Database
	app := fxtest.New(t,
		database.FXModule,
		fx.Provide(
			func() *config.Config { return cfg },
			fx.Annotate(func() *logger.LoggerClient { return log }, fx.As(new(logger.Logger))),
		),
		fx.Populate(&db),
	)
	app.RequireStart()

	assert.Equal(t, 1, db.Pool().Size(""))
	assert.NotZero(t, logs.FilterMessage("connection created").Len())

	app.RequireStop()
	err := db.Hold(context.Background(), "", func(context.Context, *sql.Conn) error { return nil })
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
}
