// Package tracer provides OpenTelemetry tracing for the pool and transaction
// packages.
//
// The pools open a "pool.acquire" span around every checkout and the
// transaction manager opens a "transaction" span around every transaction
// block, both as children of whatever span the caller's context carries.
// Spans are only exported when Config.EnableExport is set.
//
// # Usage
//
//	tr, err := tracer.NewClient(tracer.Config{
//	    ServiceName:  "billing",
//	    AppEnv:       "staging",
//	    EnableExport: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tr.Shutdown(context.Background())
//
//	ctx, span := tr.StartSpan(ctx, "close-invoices")
//	defer span.End()
//
// # FX Integration
//
//	app := fx.New(
//	    tracer.FXModule,
//	    fx.Provide(func() tracer.Config { return cfg.Tracer }),
//	)
//
// # Thread Safety
//
// TracerClient and the spans it returns are safe for concurrent use.
package tracer
