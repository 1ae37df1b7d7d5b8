package insight

import (
	"time"

	"github.com/google/uuid"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

// ReportSchemaVersion is bumped whenever the persisted report layout changes.
const ReportSchemaVersion = 1

// Priority orders recommendations for display.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Recommendation is a derived, prioritized suggestion. Recommendations are
// never hand-edited; they are recomputed on every run.
type Recommendation struct {
	Category   string   `json:"category"`
	Priority   Priority `json:"priority"`
	Message    string   `json:"message"`
	Confidence float64  `json:"confidence"`
}

// ModelRef points at the model artifact version a report was compiled
// against.
type ModelRef struct {
	ModelType string  `json:"model_type"`
	Version   int     `json:"version"`
	Accuracy  float64 `json:"accuracy"`
}

// AnalysisReport aggregates every stage's output for one pipeline run.
// Immutable once compiled; a new run produces a new report and the old one
// stays in the bounded history.
type AnalysisReport struct {
	ID                      uuid.UUID           `json:"id"`
	Timestamp               time.Time           `json:"timestamp"`
	SchemaVersion           int                 `json:"schema_version"`
	Summaries               []MetricSummary     `json:"summaries"`
	Trends                  []Trend             `json:"trends"`
	Patterns                []Pattern           `json:"patterns"`
	Correlations            []Correlation       `json:"correlations"`
	ModelRefs               []ModelRef          `json:"model_refs"`
	Recommendations         []Recommendation    `json:"recommendations"`
	DataTypesAnalyzed       []health.MetricType `json:"data_types_analyzed"`
	ExcludedMetrics         []health.MetricType `json:"excluded_metrics,omitempty"`
	SignificantFindingCount int                 `json:"significant_finding_count"`
	Warnings                []string            `json:"warnings,omitempty"`
}

// CountSignificantFindings computes the report-level importance total:
// high/critical anomalies across all summaries, plus trends clearing both
// the confidence and magnitude gates, plus patterns clearing the confidence
// gate.
func CountSignificantFindings(summaries []MetricSummary, trends []Trend, patterns []Pattern, minTrendConfidence, minTrendMagnitude, minPatternConfidence float64) int {
	n := 0
	for i := range summaries {
		n += summaries[i].SignificantAnomalyCount()
	}
	for i := range trends {
		if trends[i].IsSignificant(minTrendConfidence, minTrendMagnitude) {
			n++
		}
	}
	for i := range patterns {
		if patterns[i].IsSignificant(minPatternConfidence) {
			n++
		}
	}
	return n
}
