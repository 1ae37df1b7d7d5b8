package analysis

import (
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
)

// CorrelationEngine computes pairwise Pearson correlations between metrics
// with sufficient time-aligned overlap.
type CorrelationEngine struct {
	cfg    config.AnalysisConfig
	logger *zap.Logger
}

// NewCorrelationEngine creates a correlation engine with the configured
// overlap and significance gates.
func NewCorrelationEngine(cfg config.AnalysisConfig, logger *zap.Logger) *CorrelationEngine {
	return &CorrelationEngine{cfg: cfg, logger: logger.Named("correlation")}
}

// MetricPair is one unit of correlation work.
type MetricPair struct {
	A, B health.MetricType
}

// Pairs enumerates the unordered metric pairs present in the window.
func Pairs(metrics []health.MetricType) []MetricPair {
	var pairs []MetricPair
	for i := 0; i < len(metrics); i++ {
		for j := i + 1; j < len(metrics); j++ {
			pairs = append(pairs, MetricPair{A: metrics[i], B: metrics[j]})
		}
	}
	return pairs
}

// Analyze correlates one metric pair. Pairs without enough aligned overlap
// or below the significance gate return InsufficientSamples; the pair is
// simply absent from the report.
func (e *CorrelationEngine) Analyze(pair MetricPair, samplesA, samplesB []health.HealthSample) (insight.Correlation, error) {
	xs, ys, lag := alignNearest(samplesA, samplesB, e.cfg.AlignmentTolerance)
	if len(xs) < e.cfg.CorrelationMinOverlap {
		return insight.Correlation{}, errors.NewInsufficientSamplesError(
			pair.A.String()+"/"+pair.B.String(), "correlation", len(xs), e.cfg.CorrelationMinOverlap)
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		// One side has zero variance; Pearson is undefined.
		return insight.Correlation{}, errors.NewInsufficientSamplesError(
			pair.A.String()+"/"+pair.B.String(), "correlation", 0, e.cfg.CorrelationMinOverlap)
	}

	significance := pearsonSignificance(r, len(xs))
	if significance <= e.cfg.CorrelationSignificance {
		return insight.Correlation{}, errors.NewInsufficientSamplesError(
			pair.A.String()+"/"+pair.B.String(), "correlation", len(xs), e.cfg.CorrelationMinOverlap)
	}

	c := insight.NewCorrelation(pair.A, pair.B, r, significance, lag, len(xs))
	e.logger.Debug("correlation retained",
		zap.String("metric_a", c.MetricA.String()),
		zap.String("metric_b", c.MetricB.String()),
		zap.Float64("coefficient", c.Coefficient),
		zap.Float64("significance", c.Significance))
	return c, nil
}

// pearsonSignificance estimates 1 - p for the two-sided t-test of the
// coefficient against zero, with n-2 degrees of freedom.
func pearsonSignificance(r float64, n int) float64 {
	if n < 3 {
		return 0
	}
	r2 := r * r
	if r2 >= 1 {
		return 1
	}
	t := math.Abs(r) * math.Sqrt(float64(n-2)/(1-r2))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	p := 2 * (1 - dist.CDF(t))
	sig := 1 - p
	if sig < 0 {
		return 0
	}
	if sig > 1 {
		return 1
	}
	return sig
}

// alignNearest pairs each sample of a with the nearest-in-time sample of b
// within the tolerance window, consuming b monotonically so no sample is
// used twice. The returned lag is the mean signed offset of b relative to
// a over the matched pairs.
func alignNearest(a, b []health.HealthSample, tolerance time.Duration) (xs, ys []float64, lag time.Duration) {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}

	var offsetSum time.Duration
	j := 0
	for i := range a {
		// Advance j to the closest b sample at or after falling behind a[i].
		for j+1 < len(b) && absDuration(b[j+1].Timestamp.Sub(a[i].Timestamp)) <= absDuration(b[j].Timestamp.Sub(a[i].Timestamp)) {
			j++
		}
		if j >= len(b) {
			break
		}
		offset := b[j].Timestamp.Sub(a[i].Timestamp)
		if absDuration(offset) > tolerance {
			continue
		}
		xs = append(xs, a[i].Value)
		ys = append(ys, b[j].Value)
		offsetSum += offset
		j++
		if j >= len(b) {
			break
		}
	}

	if len(xs) > 0 {
		lag = offsetSum / time.Duration(len(xs))
	}
	return xs, ys, lag
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
