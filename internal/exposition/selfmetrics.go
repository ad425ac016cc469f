package exposition

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cmdexporter"

// SelfMetrics describes the exporter's own activity.
type SelfMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Gauges are read on every scrape.
type Gauges struct {
	InFlight func() float64
	Series   func() float64
	Refused  func() float64
	Dropped  func() float64
}

func NewSelfMetrics(reg prometheus.Registerer, g Gauges) *SelfMetrics {
	m := &SelfMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed target runs by outcome.",
		}, []string{"target", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a whole target run, all commands included.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"target"}),
	}
	reg.MustRegister(m.runs, m.duration)

	gauge := func(name, help string, fn func() float64) {
		if fn == nil {
			return
		}
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn))
	}
	gauge("inflight_runs", "Target runs currently executing.", g.InFlight)
	gauge("series", "Distinct label sets held in memory.", g.Series)

	counter := func(name, help string, fn func() float64) {
		if fn == nil {
			return
		}
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn))
	}
	counter("series_refused_total", "Observations refused by the series limit.", g.Refused)
	counter("runs_dropped_total", "Target runs dropped because the engine was saturated.", g.Dropped)
	return m
}

// ObserveRun records one finished target run. It matches the engine's finish hook.
func (m *SelfMetrics) ObserveRun(target string, dur time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.runs.WithLabelValues(target, outcome).Inc()
	m.duration.WithLabelValues(target).Observe(dur.Seconds())
}
