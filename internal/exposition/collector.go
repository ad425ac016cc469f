// Package exposition serves the recorded samples in the Prometheus text format.
package exposition

import (
	"github.com/prometheus/client_golang/prometheus"

	"cmdexporter/internal/metrics"
)

const (
	resultName   = "last_result"
	resultHelp   = "The last parsed result of a command target command"
	durationName = "last_duration"
	durationHelp = "Number of milliseconds the last command execution took"
)

// Source is anything that can produce a point-in-time sample list.
type Source interface {
	Snapshot() []metrics.Sample
}

// storeCollector renders a Source on every scrape.
//
// Targets may attach different label names, so the collector is unchecked: Describe
// sends nothing and every Collect builds its descriptors from the current snapshot.
type storeCollector struct {
	src Source
}

func NewCollector(src Source) prometheus.Collector {
	return &storeCollector{src: src}
}

func (c *storeCollector) Describe(chan<- *prometheus.Desc) {}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.Snapshot() {
		names := make([]string, len(s.Labels))
		values := make([]string, len(s.Labels))
		for i, l := range s.Labels {
			names[i] = l.Name
			values[i] = l.Value
		}

		rd := prometheus.NewDesc(resultName, resultHelp, names, nil)
		ch <- constGauge(rd, s.Value, values)

		dd := prometheus.NewDesc(durationName, durationHelp, names, nil)
		ch <- constGauge(dd, float64(s.DurationMS), values)
	}
}

func constGauge(d *prometheus.Desc, v float64, labelValues []string) prometheus.Metric {
	m, err := prometheus.NewConstMetric(d, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return prometheus.NewInvalidMetric(d, err)
	}
	return m
}
