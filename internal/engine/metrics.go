package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's prometheus collectors. They register on the
// registerer passed to NewMetrics, never on the global default.
type Metrics struct {
	runs             *prometheus.CounterVec
	iterations       *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	iterationSeconds prometheus.Histogram
	invalidFeatures  *prometheus.GaugeVec
	nullPooled       prometheus.Gauge
	duplicates       prometheus.Gauge
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pade",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Runs finished, by statistic and status",
		}, []string{"statistic", "status"}),
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pade",
			Subsystem: "engine",
			Name:      "iterations_total",
			Help:      "Null iterations accumulated, by resampling mode",
		}, []string{"mode"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pade",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a complete run",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"statistic"}),
		iterationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pade",
			Subsystem: "engine",
			Name:      "iteration_seconds",
			Help:      "Time to compute one iteration's statistic vector",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		invalidFeatures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pade",
			Subsystem: "engine",
			Name:      "invalid_features",
			Help:      "Features excluded from ranking in the last run, by reason",
		}, []string{"reason"}),
		nullPooled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pade",
			Subsystem: "engine",
			Name:      "null_values_pooled",
			Help:      "Null statistic values pooled in the last run",
		}),
		duplicates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pade",
			Subsystem: "engine",
			Name:      "duplicate_permutations",
			Help:      "Duplicate permutations accepted in the last run",
		}),
	}
}

func (m *Metrics) observeRun(statistic, status string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(statistic, status).Inc()
	m.runDuration.WithLabelValues(statistic).Observe(seconds)
}

func (m *Metrics) observeIteration(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(mode).Inc()
	m.iterationSeconds.Observe(seconds)
}

func (m *Metrics) observeResult(invalid map[string]int, pooled int64, duplicates int) {
	if m == nil {
		return
	}
	m.invalidFeatures.Reset()
	for reason, n := range invalid {
		m.invalidFeatures.WithLabelValues(reason).Set(float64(n))
	}
	m.nullPooled.Set(float64(pooled))
	m.duplicates.Set(float64(duplicates))
}
