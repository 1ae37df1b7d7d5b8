package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

func TestGradeSeverity(t *testing.T) {
	tests := []struct {
		name      string
		zScore    float64
		threshold float64
		want      Severity
	}{
		{"critical at 1.5x threshold", 4.5, 3.0, SeverityCritical},
		{"high at threshold", 3.2, 3.0, SeverityHigh},
		{"medium just below threshold", 2.4, 3.0, SeverityMedium},
		{"low well below threshold", 1.0, 3.0, SeverityLow},
		{"negative z-scores use magnitude", -4.8, 3.0, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GradeSeverity(tt.zScore, tt.threshold))
		})
	}
}

// Canonical regression fixture: two summaries contributing [high, low] and
// [critical] anomalies, one qualifying trend out of two candidates, and one
// qualifying pattern must total exactly 4.
func TestCountSignificantFindingsFixture(t *testing.T) {
	summaries := []MetricSummary{
		{
			Metric: health.MetricHeartRate,
			Anomalies: []Anomaly{
				{ZScore: 3.4, Severity: SeverityHigh},
				{ZScore: 1.1, Severity: SeverityLow},
			},
		},
		{
			Metric: health.MetricHRV,
			Anomalies: []Anomaly{
				{ZScore: 5.0, Severity: SeverityCritical},
			},
		},
	}
	trends := []Trend{
		{Metric: health.MetricHeartRate, Confidence: 0.9, Magnitude: 0.2},
		{Metric: health.MetricHRV, Confidence: 0.5, Magnitude: 0.3},
	}
	patterns := []Pattern{
		{Type: PatternConsistentBedtime, Confidence: 0.85},
	}

	got := CountSignificantFindings(summaries, trends, patterns, 0.8, 0.1, 0.8)
	assert.Equal(t, 4, got)
}

func TestTrendGatingRequiresBothConditions(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		magnitude  float64
		want       bool
	}{
		{"both clear", 0.9, 0.2, true},
		{"confidence at boundary", 0.8, 0.2, false},
		{"magnitude at boundary", 0.9, 0.1, false},
		{"only confidence", 0.95, 0.05, false},
		{"only magnitude", 0.4, 0.5, false},
		{"negative magnitude clears", 0.9, -0.2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Trend{Confidence: tt.confidence, Magnitude: tt.magnitude}
			assert.Equal(t, tt.want, tr.IsSignificant(0.8, 0.1))
		})
	}
}

func TestNewCorrelationCanonicalOrdering(t *testing.T) {
	c := NewCorrelation(health.MetricHRV, health.MetricHeartRate, 0.7, 0.9, 0, 20)
	assert.Equal(t, health.MetricHeartRate, c.MetricA)
	assert.Equal(t, health.MetricHRV, c.MetricB)

	flipped := NewCorrelation(health.MetricHeartRate, health.MetricHRV, 0.7, 0.9, 0, 20)
	assert.Equal(t, c.MetricA, flipped.MetricA)
	assert.Equal(t, c.MetricB, flipped.MetricB)
	assert.Equal(t, c.Coefficient, flipped.Coefficient)
}

func TestCorrelationStrength(t *testing.T) {
	assert.Equal(t, "strong", Correlation{Coefficient: -0.85}.Strength())
	assert.Equal(t, "moderate", Correlation{Coefficient: 0.6}.Strength())
	assert.Equal(t, "weak", Correlation{Coefficient: 0.2}.Strength())
}
