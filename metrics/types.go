package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a labelled monotonically increasing metric.
type Counter interface {
	WithLabelValues(lvs ...string) CounterMetric
}

// CounterMetric is one label combination of a Counter.
type CounterMetric interface {
	Inc()
	Add(val float64)
}

// Histogram is a labelled distribution metric.
type Histogram interface {
	WithLabelValues(lvs ...string) Sample
}

// Sample receives observations for one label combination of a Histogram.
type Sample interface {
	Observe(val float64)
}

type counterVec struct {
	vec *prometheus.CounterVec
}

func (c *counterVec) WithLabelValues(lvs ...string) CounterMetric {
	return c.vec.WithLabelValues(lvs...)
}

type histogramVec struct {
	vec *prometheus.HistogramVec
}

func (h *histogramVec) WithLabelValues(lvs ...string) Sample {
	return h.vec.WithLabelValues(lvs...)
}

// CreateCounter registers a counter vector in the namespace of m.
func (m *Metrics) CreateCounter(name, help string, labels []string) (Counter, error) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, labels)
	if err := m.registerer.Register(vec); err != nil {
		return nil, fmt.Errorf("metrics: register %s: %w", name, err)
	}
	return &counterVec{vec: vec}, nil
}

// CreateHistogram registers a histogram vector in the namespace of m.
func (m *Metrics) CreateHistogram(name, help string, labels []string, buckets []float64) (Histogram, error) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	if err := m.registerer.Register(vec); err != nil {
		return nil, fmt.Errorf("metrics: register %s: %w", name, err)
	}
	return &histogramVec{vec: vec}, nil
}
