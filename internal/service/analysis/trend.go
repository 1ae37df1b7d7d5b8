package analysis

import (
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
)

// TrendDetector fits a linear trend per metric within the window.
type TrendDetector struct {
	cfg    config.AnalysisConfig
	logger *zap.Logger
}

// NewTrendDetector creates a trend detector with the configured gates.
func NewTrendDetector(cfg config.AnalysisConfig, logger *zap.Logger) *TrendDetector {
	return &TrendDetector{cfg: cfg, logger: logger.Named("trend")}
}

// Detect fits value against time index and classifies the movement.
//
// A directional (increasing/decreasing) trend requires confidence (the R²
// of the fit) above the confidence gate AND normalized magnitude above the
// magnitude gate; important trends are rare and strong. A poor fit over a
// high-variance series classifies as fluctuating; everything else is
// stable. Fewer than the minimum sample count yields no trend at all.
func (d *TrendDetector) Detect(metric health.MetricType, samples []health.HealthSample, windowStart, windowEnd time.Time) (insight.Trend, error) {
	if len(samples) < d.cfg.MinTrendSamples {
		return insight.Trend{}, errors.NewInsufficientSamplesError(metric.String(), "trend", len(samples), d.cfg.MinTrendSamples)
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i := range samples {
		xs[i] = float64(i)
		ys[i] = samples[i].Value
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) {
		// Perfectly flat series: zero slope at full confidence.
		r2 = 1
		beta = 0
	}

	mean := stat.Mean(ys, nil)
	magnitude := beta * float64(len(samples)-1)
	if math.Abs(mean) > 1e-12 {
		// Normalize to relative change over the window so the gate is
		// scale-free across metrics.
		magnitude /= math.Abs(mean)
	}

	trend := insight.Trend{
		Metric:      metric,
		Magnitude:   magnitude,
		Confidence:  clamp01(r2),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}

	switch {
	case trend.IsSignificant(d.cfg.TrendConfidence, d.cfg.TrendMagnitude):
		if beta > 0 {
			trend.Direction = insight.TrendIncreasing
		} else {
			trend.Direction = insight.TrendDecreasing
		}
	case trend.Confidence < d.cfg.TrendConfidence && coefficientOfVariation(ys, mean) > d.cfg.FluctuationCV:
		trend.Direction = insight.TrendFluctuating
	default:
		trend.Direction = insight.TrendStable
	}

	d.logger.Debug("trend detected",
		zap.String("metric", metric.String()),
		zap.String("direction", string(trend.Direction)),
		zap.Float64("magnitude", trend.Magnitude),
		zap.Float64("confidence", trend.Confidence))
	return trend, nil
}

func coefficientOfVariation(ys []float64, mean float64) float64 {
	if math.Abs(mean) < 1e-12 {
		return 0
	}
	return stat.StdDev(ys, nil) / math.Abs(mean)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
