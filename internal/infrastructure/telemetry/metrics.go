package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instruments.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsExpired   prometheus.Counter
	RunsCancelled prometheus.Counter
	RunsAborted   prometheus.Counter
	RunsDropped   prometheus.Counter

	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	MetricsExcluded     prometheus.Counter
	ModelsTrained       *prometheus.CounterVec
	TrainingFailures    *prometheus.CounterVec
	SignificantFindings prometheus.Gauge
}

// NewMetrics registers the pipeline instruments on the given registerer.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_runs_started_total",
			Help: "Number of pipeline runs started",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_runs_completed_total",
			Help: "Number of pipeline runs that compiled a report",
		}),
		RunsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_runs_expired_total",
			Help: "Number of runs that hit their deadline and checkpointed",
		}),
		RunsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_runs_cancelled_total",
			Help: "Number of runs cancelled by the caller",
		}),
		RunsAborted: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_runs_aborted_total",
			Help: "Number of runs aborted by cache corruption",
		}),
		RunsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_runs_dropped_total",
			Help: "Number of triggers dropped because a run was in flight",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analysis_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_stage_failures_total",
			Help: "Stage-level errors, by stage and error type",
		}, []string{"stage", "error_type"}),
		MetricsExcluded: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_metrics_excluded_total",
			Help: "Metrics excluded from a run because their data was unavailable",
		}),
		ModelsTrained: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_models_trained_total",
			Help: "Model artifacts produced, by model type",
		}, []string{"model_type"}),
		TrainingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_training_failures_total",
			Help: "Training runs that left the model stale, by model type",
		}, []string{"model_type"}),
		SignificantFindings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "analysis_significant_findings",
			Help: "Significant finding count of the latest compiled report",
		}),
	}
}
