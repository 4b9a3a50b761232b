// Package database assembles the pool and transaction packages into a ready
// to use handle for database/sql drivers (pgx, MySQL, SQLite) configured
// through the config package.
//
//	cfg, err := config.Load("sqlpool.yaml")
//	db, err := database.New(cfg, database.WithLogger(log))
//	defer db.Close()
//
//	err = db.GormTransaction(ctx, transaction.Options{}, func(ctx context.Context, tx *gorm.DB) error {
//	    return tx.Create(&Job{Name: "reindex"}).Error
//	})
//
// Every connection is a dedicated *sql.Conn owned by the pool; GORM handles
// returned by Gorm are bound to one such connection and must not outlive the
// block that received it.
package database
