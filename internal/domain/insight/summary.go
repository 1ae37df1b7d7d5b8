// Package insight holds the derived entities the analysis pipeline produces:
// per-metric summaries, trends, behavioral patterns, cross-metric
// correlations, recommendations, and the compiled report.
package insight

import (
	"math"
	"time"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

// Severity grades how far an anomalous sample deviates from the metric's
// distribution within the window.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsSignificant reports whether the severity counts toward the report-level
// significant-finding total.
func (s Severity) IsSignificant() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Anomaly is one sample flagged as an outlier by the statistical analyzer.
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ZScore    float64   `json:"z_score"`
	Severity  Severity  `json:"severity"`
}

// GradeSeverity maps a z-score magnitude to a severity, relative to the
// configured outlier threshold. Scores at 1.5x the threshold grade critical,
// at the threshold high, and anything flagged below it medium.
func GradeSeverity(zScore, threshold float64) Severity {
	z := math.Abs(zScore)
	switch {
	case z >= threshold*1.5:
		return SeverityCritical
	case z >= threshold:
		return SeverityHigh
	case z >= threshold*0.75:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MetricSummary is the per-metric descriptive statistics for one run.
// Created once per run per metric and read-only afterward.
type MetricSummary struct {
	Metric       health.MetricType `json:"metric"`
	Mean         float64           `json:"mean"`
	StdDev       float64           `json:"std_dev"`
	Min          float64           `json:"min"`
	Max          float64           `json:"max"`
	SampleCount  int               `json:"sample_count"`
	OutlierCount int               `json:"outlier_count"`
	Anomalies    []Anomaly         `json:"anomalies,omitempty"`
}

// SignificantAnomalyCount counts high and critical anomalies.
func (s MetricSummary) SignificantAnomalyCount() int {
	n := 0
	for i := range s.Anomalies {
		if s.Anomalies[i].Severity.IsSignificant() {
			n++
		}
	}
	return n
}
