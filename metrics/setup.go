package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a Prometheus registry, the instruments fed by ObserveOperation
// and, unless disabled, the HTTP server exposing them.
type Metrics struct {
	// Server serves the registry on /metrics. Nil when Config.Address is "".
	Server *http.Server

	// Registry holds every metric of this instance.
	Registry *prometheus.Registry

	registerer prometheus.Registerer
	namespace  string

	operations Counter
	durations  Histogram
}

// NewMetrics creates the registry and the operation instruments.
func NewMetrics(cfg Config) (*Metrics, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry:  registry,
		namespace: namespace,
		registerer: prometheus.WrapRegistererWith(
			prometheus.Labels{"service": cfg.ServiceName},
			registry,
		),
	}

	if cfg.SystemMetrics {
		if err := m.registerer.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("metrics: register go collector: %w", err)
		}
		if err := m.registerer.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("metrics: register process collector: %w", err)
		}
	}

	var err error
	m.operations, err = m.CreateCounter(
		"operations_total",
		"Completed pool and transaction operations.",
		[]string{"component", "operation", "shard", "status"},
	)
	if err != nil {
		return nil, err
	}
	m.durations, err = m.CreateHistogram(
		"operation_duration_seconds",
		"Duration of pool and transaction operations.",
		[]string{"component", "operation"},
		buckets,
	)
	if err != nil {
		return nil, err
	}

	addr := DefaultAddress
	if cfg.Address != nil {
		addr = *cfg.Address
	}
	if addr != "" {
		m.Server = &http.Server{
			Addr:    addr,
			Handler: m.Handler(),
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return mux
}
