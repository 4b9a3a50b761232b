// Package observability defines the single hook through which the pool and
// transaction packages report what they do.
//
// # Overview
//
// Packages in this module accept an optional Observer and call it once per
// completed operation. Applications decide what to do with the events:
// record metrics, open spans, write logs, or all three. Nothing in the module
// requires an observer to be set.
//
// # Usage in Packages
//
//	start := time.Now()
//	conn, err := p.connect(ctx, shard)
//
//	if p.observer != nil {
//	    p.observer.ObserveOperation(observability.OperationContext{
//	        Component: "pool",
//	        Operation: "create",
//	        Resource:  shard,
//	        Duration:  time.Since(start),
//	        Error:     err,
//	    })
//	}
//
// # Usage in Applications
//
// The metrics package ships a Prometheus implementation:
//
//	m, err := metrics.NewMetrics(metrics.Config{Namespace: "orders"})
//	if err != nil {
//	    return err
//	}
//	p, err := pool.New(cfg, connect, disconnect, pool.WithObserver(m))
//
// # FX Integration
//
//	fx.Provide(
//	    fx.Annotate(
//	        NewMetricsObserver,
//	        fx.As(new(observability.Observer)),
//	    ),
//	)
//
// # Operations
//
// Component "pool":
//
//   - acquire: a connection was checked out (Duration is the wait)
//   - hold: a Hold callback finished (Duration includes the callback)
//   - create, destroy: a physical connection was opened or closed
//   - timeout: an acquisition gave up after the pool timeout
//   - disconnect: idle connections were dropped on request
//   - preconnect: the pool was filled eagerly
//
// Component "transaction":
//
//   - transaction, savepoint: a transaction or savepoint block finished
//   - commit, rollback: the statement that concluded it
//   - retry: the block is about to run again
//
// Resource is the canonical shard name in both cases.
//
// # Thread Safety
//
// Observer implementations must be thread-safe. They will be called concurrently
// from multiple goroutines.
package observability
