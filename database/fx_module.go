package database

import (
	"context"

	"go.uber.org/fx"

	"github.com/aalemi-dev/sqlpool/config"
	"github.com/aalemi-dev/sqlpool/logger"
	"github.com/aalemi-dev/sqlpool/metrics"
	"github.com/aalemi-dev/sqlpool/observability"
	"github.com/aalemi-dev/sqlpool/tracer"
)

// FXModule provides *Database from a *config.Config. Logger, Observer, Tracer
// and *metrics.Metrics are picked up when the application provides them.
//
//	app := fx.New(
//	    logger.FXModule,
//	    metrics.FXModule,
//	    database.FXModule,
//	    fx.Provide(func() (*config.Config, error) { return config.Load("sqlpool.yaml") }),
//	)
var FXModule = fx.Module("database",
	fx.Provide(NewDatabaseWithDI),
	fx.Invoke(RegisterDatabaseLifecycle),
)

// Params groups the dependencies of NewDatabaseWithDI.
type Params struct {
	fx.In

	Config   *config.Config
	Logger   logger.Logger          `optional:"true"`
	Observer observability.Observer `optional:"true"`
	Tracer   tracer.Tracer          `optional:"true"`
	Metrics  *metrics.Metrics       `optional:"true"`
}

// NewDatabaseWithDI builds the Database and registers its pool statistics
// with the metrics registry when there is one.
func NewDatabaseWithDI(p Params) (*Database, error) {
	var opts []Option
	if p.Logger != nil {
		opts = append(opts, WithLogger(p.Logger))
	}
	if p.Observer != nil {
		opts = append(opts, WithObserver(p.Observer))
	}
	if p.Tracer != nil {
		opts = append(opts, WithTracer(p.Tracer))
	}

	db, err := New(p.Config, opts...)
	if err != nil {
		return nil, err
	}
	if p.Metrics != nil {
		name := p.Config.Database
		if name == "" {
			name = p.Config.Driver
		}
		if err := p.Metrics.RegisterPool(name, db.Pool()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// RegisterDatabaseLifecycle preconnects on start when configured and closes
// the database on stop.
func RegisterDatabaseLifecycle(lc fx.Lifecycle, db *Database) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return db.Preconnect(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
}
