// Package analysis implements the per-metric pipeline stages: descriptive
// statistics, trend detection, pattern recognition, and cross-metric
// correlation. All computation here is CPU-bound and deterministic given
// identical input ordering.
package analysis

import (
	"math"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
)

// Analyzer computes per-metric descriptive statistics and flags outliers.
type Analyzer struct {
	cfg    config.AnalysisConfig
	logger *zap.Logger
}

// NewAnalyzer creates a statistical analyzer with the configured outlier
// threshold.
func NewAnalyzer(cfg config.AnalysisConfig, logger *zap.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, logger: logger.Named("statistics")}
}

// Summarize computes the metric's summary over one window. Metrics with
// zero samples are a stage-level skip, not a pipeline failure.
func (a *Analyzer) Summarize(metric health.MetricType, samples []health.HealthSample) (insight.MetricSummary, error) {
	if len(samples) == 0 {
		return insight.MetricSummary{}, errors.NewInsufficientSamplesError(metric.String(), "statistics", 0, 1)
	}

	values := make(stats.Float64Data, len(samples))
	for i := range samples {
		values[i] = samples[i].Value
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return insight.MetricSummary{}, errors.NewInternalError("computing mean").WithCause(err)
	}
	stdDev, err := stats.StandardDeviation(values)
	if err != nil {
		return insight.MetricSummary{}, errors.NewInternalError("computing standard deviation").WithCause(err)
	}
	minVal, err := stats.Min(values)
	if err != nil {
		return insight.MetricSummary{}, errors.NewInternalError("computing min").WithCause(err)
	}
	maxVal, err := stats.Max(values)
	if err != nil {
		return insight.MetricSummary{}, errors.NewInternalError("computing max").WithCause(err)
	}

	summary := insight.MetricSummary{
		Metric:      metric,
		Mean:        mean,
		StdDev:      stdDev,
		Min:         minVal,
		Max:         maxVal,
		SampleCount: len(samples),
	}

	// A flat series has no meaningful z-scores.
	if stdDev > 0 {
		for i := range samples {
			z := (samples[i].Value - mean) / stdDev
			if math.Abs(z) < a.cfg.OutlierZScore {
				continue
			}
			summary.OutlierCount++
			summary.Anomalies = append(summary.Anomalies, insight.Anomaly{
				Timestamp: samples[i].Timestamp,
				Value:     samples[i].Value,
				ZScore:    z,
				Severity:  insight.GradeSeverity(z, a.cfg.OutlierZScore),
			})
		}
	}

	a.logger.Debug("metric summarized",
		zap.String("metric", metric.String()),
		zap.Int("samples", summary.SampleCount),
		zap.Int("outliers", summary.OutlierCount))
	return summary, nil
}
