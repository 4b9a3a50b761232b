package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aalemi-dev/sqlpool/config"
	"github.com/aalemi-dev/sqlpool/pool"
	"github.com/aalemi-dev/sqlpool/transaction"
)

// Gorm returns a *gorm.DB running every statement on conn. GORM's own
// transactions are disabled: use Database.Transaction around it instead.
func (d *Database) Gorm(ctx context.Context, conn *sql.Conn) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch d.cfg.Driver {
	case config.DriverMySQL:
		dialector = mysql.New(mysql.Config{Conn: conn, SkipInitializeWithVersion: true})
	case config.DriverSQLite:
		dialector = &sqlite.Dialector{Conn: conn}
	default:
		dialector = postgres.New(postgres.Config{Conn: conn})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("database: gorm: %w", err)
	}
	return db.WithContext(ctx), nil
}

// GormFunc is a block run with a GORM handle bound to a pooled connection.
type GormFunc func(ctx context.Context, db *gorm.DB) error

// WithGorm holds a connection of shard and runs fn with a GORM handle on it.
func (d *Database) WithGorm(ctx context.Context, shard string, fn GormFunc) error {
	return d.pool.Hold(ctx, shard, d.gormBlock(fn))
}

// GormTransaction runs fn in a transaction with a GORM handle on its connection.
func (d *Database) GormTransaction(ctx context.Context, opts transaction.Options, fn GormFunc) error {
	return d.tx.Transaction(ctx, opts, d.gormBlock(fn))
}

func (d *Database) gormBlock(fn GormFunc) pool.HoldFunc[*sql.Conn] {
	return func(ctx context.Context, conn *sql.Conn) error {
		db, err := d.Gorm(ctx, conn)
		if err != nil {
			return err
		}
		return fn(ctx, db)
	}
}
