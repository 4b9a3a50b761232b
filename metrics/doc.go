// Package metrics exports pool and transaction activity to Prometheus.
//
// *Metrics implements observability.Observer, so handing it to
// pool.WithObserver and transaction.WithObserver counts every operation by
// component, operation, shard and outcome ("ok", "error", "timeout",
// "disconnect") and records its duration. RegisterPool additionally exports a
// pool's Stats (live, idle and in-use connections, waiters) on every scrape.
//
//	m, err := metrics.NewMetrics(metrics.Config{ServiceName: "billing"})
//	if err != nil {
//	    return err
//	}
//	p, err := pool.New(cfg, connect, disconnect, pool.WithObserver(m))
//	if err != nil {
//	    return err
//	}
//	if err := m.RegisterPool("primary", p); err != nil {
//	    return err
//	}
//
// All metrics carry a constant "service" label. The registry is served on
// /metrics at Config.Address; FXModule starts and stops that server.
package metrics
