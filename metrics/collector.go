package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aalemi-dev/sqlpool/pool"
)

// StatsSource is anything that can report pool statistics, such as a
// pool.Pool.
type StatsSource interface {
	Stats() pool.Stats
}

// poolCollector exports a pool's Stats on every scrape.
type poolCollector struct {
	source StatsSource

	size      *prometheus.Desc
	available *prometheus.Desc
	allocated *prometheus.Desc
	waiting   *prometheus.Desc
	maxSize   *prometheus.Desc
	created   *prometheus.Desc
	destroyed *prometheus.Desc
	timeouts  *prometheus.Desc
	reclaimed *prometheus.Desc
}

func newPoolCollector(namespace, name string, source StatsSource) *poolCollector {
	constLabels := prometheus.Labels{"pool": name}
	shardDesc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", metric), help, []string{"shard"}, constLabels)
	}
	poolDesc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", metric), help, []string{"kind"}, constLabels)
	}
	return &poolCollector{
		source:    source,
		size:      shardDesc("connections", "Live connections, idle plus checked out."),
		available: shardDesc("connections_idle", "Idle connections."),
		allocated: shardDesc("connections_in_use", "Checked-out connections."),
		waiting:   shardDesc("waiters", "Goroutines waiting for a connection."),
		maxSize:   shardDesc("connections_max", "Connection bound."),
		created:   poolDesc("connections_created_total", "Connections opened."),
		destroyed: poolDesc("connections_destroyed_total", "Connections closed."),
		timeouts:  poolDesc("timeouts_total", "Acquisitions that hit the pool timeout."),
		reclaimed: poolDesc("reclaimed_total", "Connections reclaimed from dead sessions."),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.size, c.available, c.allocated, c.waiting, c.maxSize,
		c.created, c.destroyed, c.timeouts, c.reclaimed,
	} {
		ch <- d
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for shard, s := range stats.Shards {
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), shard)
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(s.Available), shard)
		ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.GaugeValue, float64(s.Allocated), shard)
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting), shard)
		ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize), shard)
	}
	kind := stats.Kind.String()
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(stats.Created), kind)
	ch <- prometheus.MustNewConstMetric(c.destroyed, prometheus.CounterValue, float64(stats.Destroyed), kind)
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(stats.Timeouts), kind)
	ch <- prometheus.MustNewConstMetric(c.reclaimed, prometheus.CounterValue, float64(stats.Reclaimed), kind)
}

// RegisterPool exports the statistics of source under the given pool name.
// The values are read on every scrape.
func (m *Metrics) RegisterPool(name string, source StatsSource) error {
	return m.registerer.Register(newPoolCollector(m.namespace, name, source))
}
