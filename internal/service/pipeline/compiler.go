package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/domain/model"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
	"github.com/somnasync/health-insight-engine/internal/service/training"
)

// ReportSaver persists compiled reports durably.
type ReportSaver interface {
	Save(ctx context.Context, report *insight.AnalysisReport) error
}

// LatestCache holds the freshest report for cheap cross-process reads.
type LatestCache interface {
	SetLatest(ctx context.Context, report *insight.AnalysisReport) error
}

// CompilerInputs carries every stage output, partial or complete, into one
// compilation.
type CompilerInputs struct {
	Summaries    []insight.MetricSummary
	Trends       []insight.Trend
	Patterns     []insight.Pattern
	Correlations []insight.Correlation
	Training     training.RunResult
	Analyzed     []health.MetricType
	Excluded     []health.MetricType
	Warnings     []string
}

// Compiler aggregates stage outputs into an immutable report and publishes
// it to the bounded history, the repository, and the latest-report cache.
// Repository and cache are optional; the in-memory history always receives
// the report.
type Compiler struct {
	cfg     config.AnalysisConfig
	history *History
	repo    ReportSaver
	cache   LatestCache
	logger  *zap.Logger
	clock   func() time.Time
}

// NewCompiler creates a compiler. repo and cache may be nil.
func NewCompiler(cfg config.AnalysisConfig, history *History, repo ReportSaver, cache LatestCache, logger *zap.Logger) *Compiler {
	return &Compiler{
		cfg:     cfg,
		history: history,
		repo:    repo,
		cache:   cache,
		logger:  logger.Named("compiler"),
		clock:   time.Now,
	}
}

// Compile builds the report for one run. It never fails: whatever stage
// outputs exist are aggregated, and gaps are already reflected in the
// excluded metrics and warnings.
func (c *Compiler) Compile(in CompilerInputs) insight.AnalysisReport {
	report := insight.AnalysisReport{
		ID:                uuid.New(),
		Timestamp:         c.clock().UTC(),
		SchemaVersion:     insight.ReportSchemaVersion,
		Summaries:         in.Summaries,
		Trends:            in.Trends,
		Patterns:          in.Patterns,
		Correlations:      in.Correlations,
		DataTypesAnalyzed: in.Analyzed,
		ExcludedMetrics:   in.Excluded,
		Warnings:          in.Warnings,
	}

	for _, artifact := range in.Training.Artifacts {
		report.ModelRefs = append(report.ModelRefs, insight.ModelRef{
			ModelType: string(artifact.ModelType),
			Version:   artifact.Version,
			Accuracy:  artifact.Accuracy,
		})
	}
	for mt, err := range in.Training.Failures {
		report.Warnings = append(report.Warnings, fmt.Sprintf("model %s not retrained: %v", mt, err))
	}

	report.SignificantFindingCount = insight.CountSignificantFindings(
		in.Summaries, in.Trends, in.Patterns,
		c.cfg.TrendConfidence, c.cfg.TrendMagnitude, c.cfg.PatternConfidence)
	report.Recommendations = c.recommend(report)
	return report
}

// Publish stores the report everywhere readers look. Repository and cache
// failures degrade to warnings in the log; the in-memory history is the
// source of truth for this process.
func (c *Compiler) Publish(ctx context.Context, report insight.AnalysisReport) {
	c.history.Add(report)

	if c.repo != nil {
		if err := c.repo.Save(ctx, &report); err != nil {
			c.logger.Warn("report not persisted", zap.String("report_id", report.ID.String()), zap.Error(err))
		}
	}
	if c.cache != nil {
		if err := c.cache.SetLatest(ctx, &report); err != nil {
			c.logger.Warn("latest-report cache not refreshed", zap.Error(err))
		}
	}

	c.logger.Info("report compiled",
		zap.String("report_id", report.ID.String()),
		zap.Int("significant_findings", report.SignificantFindingCount),
		zap.Int("summaries", len(report.Summaries)),
		zap.Int("model_refs", len(report.ModelRefs)))
}

// recommend derives prioritized suggestions from the findings. Rules only;
// recommendations are recomputed from scratch on every run.
func (c *Compiler) recommend(report insight.AnalysisReport) []insight.Recommendation {
	var recs []insight.Recommendation

	for _, s := range report.Summaries {
		worst := insight.SeverityLow
		for _, a := range s.Anomalies {
			if severityRank(a.Severity) > severityRank(worst) {
				worst = a.Severity
			}
		}
		switch worst {
		case insight.SeverityCritical:
			recs = append(recs, insight.Recommendation{
				Category:   "anomaly",
				Priority:   insight.PriorityUrgent,
				Message:    fmt.Sprintf("%s readings deviated far outside your normal range; consider reviewing recent %s data", s.Metric, s.Metric),
				Confidence: 0.95,
			})
		case insight.SeverityHigh:
			recs = append(recs, insight.Recommendation{
				Category:   "anomaly",
				Priority:   insight.PriorityHigh,
				Message:    fmt.Sprintf("unusual %s readings were detected this week", s.Metric),
				Confidence: 0.85,
			})
		}
	}

	for _, tr := range report.Trends {
		if !tr.IsSignificant(c.cfg.TrendConfidence, c.cfg.TrendMagnitude) {
			continue
		}
		recs = append(recs, insight.Recommendation{
			Category:   "trend",
			Priority:   trendPriority(tr),
			Message:    fmt.Sprintf("%s is %s by %.0f%% over the window", tr.Metric, tr.Direction, 100*absFloat(tr.Magnitude)),
			Confidence: tr.Confidence,
		})
	}

	for _, p := range report.Patterns {
		priority := insight.PriorityLow
		message := fmt.Sprintf("detected pattern: %s", p.Description)
		if p.Type == insight.PatternConsistentBedtime {
			message = "your bedtime is consistent; keeping it steady supports sleep quality"
		}
		recs = append(recs, insight.Recommendation{
			Category:   "pattern",
			Priority:   priority,
			Message:    message,
			Confidence: p.Confidence,
		})
	}

	for _, co := range report.Correlations {
		if co.Strength() != "strong" {
			continue
		}
		recs = append(recs, insight.Recommendation{
			Category:   "correlation",
			Priority:   insight.PriorityMedium,
			Message:    fmt.Sprintf("%s and %s move together strongly (r=%.2f)", co.MetricA, co.MetricB, co.Coefficient),
			Confidence: co.Significance,
		})
	}

	for _, ref := range report.ModelRefs {
		if ref.ModelType == string(model.ModelSleepQuality) && ref.Accuracy < 0.6 {
			recs = append(recs, insight.Recommendation{
				Category:   "model",
				Priority:   insight.PriorityLow,
				Message:    "sleep quality predictions are low confidence; more consistent wear time would improve them",
				Confidence: 1 - ref.Accuracy,
			})
		}
	}
	return recs
}

// Declining recovery metrics and climbing load metrics are the trends worth
// acting on promptly.
func trendPriority(tr insight.Trend) insight.Priority {
	declineIsBad := tr.Metric == health.MetricHRV || tr.Metric == health.MetricBloodOxygen
	riseIsBad := tr.Metric == health.MetricHeartRate || tr.Metric == health.MetricBodyTemperature ||
		tr.Metric == health.MetricRespiratoryRate
	if (tr.Direction == insight.TrendDecreasing && declineIsBad) ||
		(tr.Direction == insight.TrendIncreasing && riseIsBad) {
		return insight.PriorityHigh
	}
	return insight.PriorityMedium
}

func severityRank(s insight.Severity) int {
	switch s {
	case insight.SeverityCritical:
		return 3
	case insight.SeverityHigh:
		return 2
	case insight.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
