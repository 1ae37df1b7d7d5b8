package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

func TestAnalyzePerfectPositiveCorrelation(t *testing.T) {
	e := NewCorrelationEngine(testAnalysisConfig(t), zaptest.NewLogger(t))
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	base := []float64{60, 62, 65, 61, 70, 68, 64, 66, 72, 69, 63, 67, 71, 65, 68, 70, 62, 66, 69, 64}
	scaled := make([]float64, len(base))
	for i, v := range base {
		scaled[i] = 2*v + 5
	}
	a := samplesFromValues(health.MetricHeartRate, start, base...)
	b := samplesFromValues(health.MetricMovement, start, scaled...)

	c, err := e.Analyze(MetricPair{A: health.MetricHeartRate, B: health.MetricMovement}, a, b)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, c.Coefficient, 1e-9)
	assert.Greater(t, c.Significance, 0.7)
	assert.Equal(t, len(base), c.OverlapCount)
	assert.Equal(t, "strong", c.Strength())
}

func TestAnalyzePerfectNegativeCorrelation(t *testing.T) {
	e := NewCorrelationEngine(testAnalysisConfig(t), zaptest.NewLogger(t))
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	base := []float64{40, 55, 48, 62, 51, 58, 45, 60, 53, 47, 56, 50, 44, 59, 52}
	inverted := make([]float64, len(base))
	for i, v := range base {
		inverted[i] = 100 - v
	}
	a := samplesFromValues(health.MetricHRV, start, base...)
	b := samplesFromValues(health.MetricRespiratoryRate, start, inverted...)

	c, err := e.Analyze(MetricPair{A: health.MetricHRV, B: health.MetricRespiratoryRate}, a, b)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, c.Coefficient, 1e-9)
	assert.Greater(t, c.Significance, 0.7)
}

func TestAnalyzeReportsMeanLag(t *testing.T) {
	e := NewCorrelationEngine(testAnalysisConfig(t), zaptest.NewLogger(t))
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	// b trails a by a constant two minutes on a ten minute cadence, well
	// inside the alignment tolerance.
	var a, b []health.HealthSample
	for i := 0; i < 15; i++ {
		ts := start.Add(time.Duration(i) * 10 * time.Minute)
		a = append(a, health.HealthSample{Metric: health.MetricHeartRate, Timestamp: ts, Value: 60 + float64(i)})
		b = append(b, health.HealthSample{Metric: health.MetricHRV, Timestamp: ts.Add(2 * time.Minute), Value: 90 - float64(i)})
	}

	c, err := e.Analyze(MetricPair{A: health.MetricHeartRate, B: health.MetricHRV}, a, b)
	require.NoError(t, err)

	assert.Equal(t, health.MetricHeartRate, c.MetricA)
	assert.Equal(t, 2*time.Minute, c.Lag)
	assert.InDelta(t, -1.0, c.Coefficient, 1e-9)
}

func TestAnalyzeMisalignedBeyondTolerance(t *testing.T) {
	e := NewCorrelationEngine(testAnalysisConfig(t), zaptest.NewLogger(t))
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	// Thirty minute cadence with a twenty minute offset: every candidate
	// match is at least ten minutes away, so nothing aligns.
	var a, b []health.HealthSample
	for i := 0; i < 15; i++ {
		ts := start.Add(time.Duration(i) * 30 * time.Minute)
		a = append(a, health.HealthSample{Metric: health.MetricHeartRate, Timestamp: ts, Value: 60 + float64(i)})
		b = append(b, health.HealthSample{Metric: health.MetricHRV, Timestamp: ts.Add(20 * time.Minute), Value: 40 + float64(i)})
	}

	_, err := e.Analyze(MetricPair{A: health.MetricHeartRate, B: health.MetricHRV}, a, b)
	assert.True(t, errors.IsInsufficientSamples(err))
}

func TestAlignNearestConsumesEachSampleOnce(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	// Three samples all within tolerance of the single b sample; only the
	// nearest pairing survives.
	a := samplesFromValues(health.MetricHeartRate, start, 60, 62, 64)
	b := samplesFromValues(health.MetricMovement, start.Add(time.Minute), 10)

	xs, ys, lag := alignNearest(a, b, 5*time.Minute)

	require.Len(t, xs, 1)
	require.Len(t, ys, 1)
	assert.Equal(t, 60.0, xs[0])
	assert.Equal(t, 10.0, ys[0])
	assert.Equal(t, time.Minute, lag)
}

func TestAlignNearestSparseSeries(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	// Two b samples against four a samples: each b pairs with exactly one
	// a, claimed by the earliest a within tolerance.
	a := samplesFromValues(health.MetricHeartRate, start, 60, 62, 64, 66)
	b := []health.HealthSample{
		{Metric: health.MetricMovement, Timestamp: start, Value: 1},
		{Metric: health.MetricMovement, Timestamp: start.Add(2 * time.Minute), Value: 2},
	}

	xs, ys, _ := alignNearest(a, b, 5*time.Minute)

	require.Len(t, xs, 2)
	assert.Equal(t, []float64{60, 62}, xs)
	assert.Equal(t, []float64{1, 2}, ys)
}

func TestAnalyzeInsufficientOverlap(t *testing.T) {
	e := NewCorrelationEngine(testAnalysisConfig(t), zaptest.NewLogger(t))
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	a := samplesFromValues(health.MetricHeartRate, start, 60, 62, 64, 66, 68)
	b := samplesFromValues(health.MetricHRV, start, 40, 42, 44, 46, 48)

	_, err := e.Analyze(MetricPair{A: health.MetricHeartRate, B: health.MetricHRV}, a, b)
	assert.True(t, errors.IsInsufficientSamples(err))
}

func TestAnalyzeConstantSeries(t *testing.T) {
	e := NewCorrelationEngine(testAnalysisConfig(t), zaptest.NewLogger(t))
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	flat := make([]float64, 12)
	varied := make([]float64, 12)
	for i := range flat {
		flat[i] = 97.5
		varied[i] = 60 + float64(i%5)
	}
	a := samplesFromValues(health.MetricBloodOxygen, start, flat...)
	b := samplesFromValues(health.MetricHeartRate, start, varied...)

	_, err := e.Analyze(MetricPair{A: health.MetricBloodOxygen, B: health.MetricHeartRate}, a, b)
	assert.True(t, errors.IsInsufficientSamples(err))
}

func TestAnalyzeUncorrelatedSeriesFailsSignificance(t *testing.T) {
	e := NewCorrelationEngine(testAnalysisConfig(t), zaptest.NewLogger(t))
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	// ys is symmetric over the ramp, so the Pearson coefficient is zero.
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ys := []float64{1, 2, 3, 4, 5, 5, 4, 3, 2, 1}
	a := samplesFromValues(health.MetricHeartRate, start, xs...)
	b := samplesFromValues(health.MetricMovement, start, ys...)

	_, err := e.Analyze(MetricPair{A: health.MetricHeartRate, B: health.MetricMovement}, a, b)
	assert.True(t, errors.IsInsufficientSamples(err))
}

func TestPairsEnumeration(t *testing.T) {
	metrics := []health.MetricType{
		health.MetricHeartRate, health.MetricHRV,
		health.MetricRespiratoryRate, health.MetricActivity,
	}
	pairs := Pairs(metrics)
	require.Len(t, pairs, 6)

	seen := make(map[MetricPair]bool)
	for _, p := range pairs {
		assert.NotEqual(t, p.A, p.B)
		assert.False(t, seen[p])
		seen[p] = true
	}

	assert.Empty(t, Pairs(metrics[:1]))
}
