package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// collector exposes a Registry to the Prometheus client library. Metrics are
// registered lazily, so it describes nothing and is treated as unchecked.
type collector struct {
	r *Registry
}

func (collector) Describe(chan<- *prometheus.Desc) {}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()

	for _, k := range sortedKeys(c.r.counters) {
		m := c.r.counters[k]
		desc := prometheus.NewDesc(m.name, m.help, nil, prometheus.Labels(m.labels))
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(m.Value()))
	}
	for _, k := range sortedKeys(c.r.gauges) {
		m := c.r.gauges[k]
		desc := prometheus.NewDesc(m.name, m.help, nil, prometheus.Labels(m.labels))
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Value())
	}
	for _, k := range sortedKeys(c.r.histograms) {
		h := c.r.histograms[k]
		desc := prometheus.NewDesc(h.name, h.help, nil, prometheus.Labels(h.labels))

		h.mu.Lock()
		buckets := make(map[float64]uint64, len(h.buckets))
		var cumulative uint64
		for i, upper := range h.buckets {
			cumulative += h.counts[i]
			buckets[upper] = cumulative
		}
		count, sum := h.count, h.sum
		h.mu.Unlock()

		ch <- prometheus.MustNewConstHistogram(desc, count, sum, buckets)
	}
}

// Gatherer returns a Prometheus registry serving r together with the Go
// runtime and process collectors.
func (r *Registry) Gatherer() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector{r: r},
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
