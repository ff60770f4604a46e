// pkg/pipeline/metrics.go
package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pipeline instrumentation to Prometheus. All series carry
// the smi_pipeline namespace.
type Metrics struct {
	runDuration      prometheus.Histogram
	runsTotal        *prometheus.CounterVec
	recordsProcessed prometheus.Counter
	recordsFailed    prometheus.Counter
	recordsFlagged   prometheus.Counter
	factsInserted    prometheus.Counter
	factsUpdated     prometheus.Counter

	completenessRatio prometheus.Gauge
	validityRatio     prometheus.Gauge
	qualityScoreMean  prometheus.Gauge
}

// NewMetrics registers the pipeline metric series with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smi_pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smi_pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		recordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "smi_pipeline",
			Name:      "records_processed_total",
			Help:      "Bronze records read and normalized.",
		}),
		recordsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "smi_pipeline",
			Name:      "records_failed_total",
			Help:      "Records that could not be loaded into the gold layer.",
		}),
		recordsFlagged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "smi_pipeline",
			Name:      "records_flagged_total",
			Help:      "Records carrying anomaly flags after normalization.",
		}),
		factsInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "smi_pipeline",
			Name:      "facts_inserted_total",
			Help:      "Fact rows created for the first time.",
		}),
		factsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "smi_pipeline",
			Name:      "facts_updated_total",
			Help:      "Fact rows overwritten by a replay or correction.",
		}),
		completenessRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "smi_pipeline",
			Name:      "batch_completeness_ratio",
			Help:      "Share of complete records in the last batch.",
		}),
		validityRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "smi_pipeline",
			Name:      "batch_validity_ratio",
			Help:      "Share of valid records in the last batch.",
		}),
		qualityScoreMean: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "smi_pipeline",
			Name:      "batch_quality_score_mean",
			Help:      "Mean composite quality score of the last batch.",
		}),
	}
}

// observeBatch records the quality profile of a normalized batch.
func (m *Metrics) observeBatch(total, complete, valid, flagged int, scoreSum float64) {
	if m == nil || total == 0 {
		return
	}
	m.recordsProcessed.Add(float64(total))
	m.recordsFlagged.Add(float64(flagged))
	m.completenessRatio.Set(float64(complete) / float64(total))
	m.validityRatio.Set(float64(valid) / float64(total))
	m.qualityScoreMean.Set(scoreSum / float64(total))
}

// observeRun records the terminal outcome of a run.
func (m *Metrics) observeRun(status string, seconds float64, inserted, updated, failed int) {
	if m == nil {
		return
	}
	m.runDuration.Observe(seconds)
	m.runsTotal.WithLabelValues(status).Inc()
	m.factsInserted.Add(float64(inserted))
	m.factsUpdated.Add(float64(updated))
	m.recordsFailed.Add(float64(failed))
}
