package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
)

// Maximum onset spread that still counts as "consistent": beyond two hours
// of standard deviation the bedtime pattern carries no regularity at all.
const bedtimeMaxSpreadMinutes = 120.0

// PatternRecognizer scans the window for recurring behavioral structures.
// Confidence is always frequency x regularity; patterns at or below the
// configured confidence threshold are discarded before reaching the report.
type PatternRecognizer struct {
	cfg    config.AnalysisConfig
	logger *zap.Logger
}

// NewPatternRecognizer creates a recognizer with the configured gates.
func NewPatternRecognizer(cfg config.AnalysisConfig, logger *zap.Logger) *PatternRecognizer {
	return &PatternRecognizer{cfg: cfg, logger: logger.Named("pattern")}
}

// Recognize runs every detector over the window and keeps only
// high-confidence patterns. The context is checked between detectors; an
// interrupted scan returns the patterns found so far.
func (r *PatternRecognizer) Recognize(ctx context.Context, w *health.AnalysisWindow) []insight.Pattern {
	var out []insight.Pattern
	for _, p := range []func(*health.AnalysisWindow) (insight.Pattern, bool){
		r.consistentBedtime,
		r.weekdayWeekendSplit,
		r.recurringDailyPeak,
	} {
		if ctx.Err() != nil {
			return out
		}
		pattern, ok := p(w)
		if !ok {
			continue
		}
		if !pattern.IsSignificant(r.cfg.PatternConfidence) {
			r.logger.Debug("pattern below confidence gate",
				zap.String("type", string(pattern.Type)),
				zap.Float64("confidence", pattern.Confidence))
			continue
		}
		out = append(out, pattern)
	}
	return out
}

// consistentBedtime measures how regular the first sleep-stage onset of
// each day is. Onset minutes are measured from noon so bedtimes crossing
// midnight stay contiguous.
func (r *PatternRecognizer) consistentBedtime(w *health.AnalysisWindow) (insight.Pattern, bool) {
	samples := w.Samples(health.MetricSleepStage)
	if len(samples) == 0 {
		return insight.Pattern{}, false
	}

	onsets := make(map[string]health.HealthSample)
	for i := range samples {
		// Sleep onset belongs to the evening's date, so day-bucket by the
		// timestamp shifted back twelve hours.
		day := samples[i].Timestamp.Add(-12 * time.Hour).Format("2006-01-02")
		if _, seen := onsets[day]; !seen {
			onsets[day] = samples[i]
		}
	}

	totalDays := daysIn(w)
	if len(onsets) < r.cfg.PatternMinDays || totalDays == 0 {
		return insight.Pattern{}, false
	}

	minutes := make([]float64, 0, len(onsets))
	ids := make([]string, 0, len(onsets))
	for _, s := range onsets {
		m := float64(s.Timestamp.Hour()*60 + s.Timestamp.Minute())
		// Noon-relative: 23:00 -> 660, 01:00 -> 780.
		m = math.Mod(m+720, 1440)
		minutes = append(minutes, m)
		ids = append(ids, s.ID())
	}

	spread := stat.StdDev(minutes, nil)
	regularity := clamp01(1 - spread/bedtimeMaxSpreadMinutes)
	frequency := clamp01(float64(len(onsets)) / float64(totalDays))
	confidence := frequency * regularity

	return insight.Pattern{
		Type:                insight.PatternConsistentBedtime,
		Confidence:          confidence,
		Description:         fmt.Sprintf("sleep onset recurs within ±%.0f minutes across %d of %d days", spread, len(onsets), totalDays),
		SupportingSampleIDs: ids,
	}, true
}

// weekdayWeekendSplit detects a systematic difference between weekday and
// weekend activity levels.
func (r *PatternRecognizer) weekdayWeekendSplit(w *health.AnalysisWindow) (insight.Pattern, bool) {
	samples := w.Samples(health.MetricActivity)
	if len(samples) == 0 {
		return insight.Pattern{}, false
	}

	daily := make(map[string][]float64)
	for i := range samples {
		day := samples[i].Timestamp.Format("2006-01-02")
		daily[day] = append(daily[day], samples[i].Value)
	}

	var weekday, weekend []float64
	var ids []string
	for i := range samples {
		switch samples[i].Timestamp.Weekday() {
		case 0, 6: // Sunday, Saturday
			weekend = append(weekend, samples[i].Value)
		default:
			weekday = append(weekday, samples[i].Value)
		}
		ids = append(ids, samples[i].ID())
	}
	if len(weekday) == 0 || len(weekend) == 0 {
		return insight.Pattern{}, false
	}

	totalDays := daysIn(w)
	if len(daily) < r.cfg.PatternMinDays || totalDays == 0 {
		return insight.Pattern{}, false
	}

	wd := stat.Mean(weekday, nil)
	we := stat.Mean(weekend, nil)
	higher := math.Max(math.Abs(wd), math.Abs(we))
	if higher < 1e-12 {
		return insight.Pattern{}, false
	}

	distinctness := clamp01(math.Abs(wd-we) / higher)
	coverage := clamp01(float64(len(daily)) / float64(totalDays))
	confidence := coverage * distinctness

	kind := "higher weekday"
	if we > wd {
		kind = "higher weekend"
	}
	return insight.Pattern{
		Type:                insight.PatternWeekdayWeekendSplit,
		Confidence:          confidence,
		Description:         fmt.Sprintf("%s activity: weekday mean %.1f vs weekend mean %.1f", kind, wd, we),
		SupportingSampleIDs: ids,
	}, true
}

// recurringDailyPeak detects whether heart rate peaks at a consistent hour
// of the day.
func (r *PatternRecognizer) recurringDailyPeak(w *health.AnalysisWindow) (insight.Pattern, bool) {
	samples := w.Samples(health.MetricHeartRate)
	if len(samples) == 0 {
		return insight.Pattern{}, false
	}

	type peak struct {
		value  float64
		hour   float64
		sample health.HealthSample
	}
	peaks := make(map[string]peak)
	for i := range samples {
		day := samples[i].Timestamp.Format("2006-01-02")
		p, seen := peaks[day]
		if !seen || samples[i].Value > p.value {
			peaks[day] = peak{
				value:  samples[i].Value,
				hour:   float64(samples[i].Timestamp.Hour()) + float64(samples[i].Timestamp.Minute())/60,
				sample: samples[i],
			}
		}
	}

	totalDays := daysIn(w)
	if len(peaks) < r.cfg.PatternMinDays || totalDays == 0 {
		return insight.Pattern{}, false
	}

	hours := make([]float64, 0, len(peaks))
	ids := make([]string, 0, len(peaks))
	for _, p := range peaks {
		hours = append(hours, p.hour)
		ids = append(ids, p.sample.ID())
	}

	// Spread is bucketed against half a day: a 12h standard deviation in
	// peak hours means no recurrence whatsoever.
	spread := stat.StdDev(hours, nil)
	regularity := clamp01(1 - spread/12)
	frequency := clamp01(float64(len(peaks)) / float64(totalDays))
	confidence := frequency * regularity

	return insight.Pattern{
		Type:                insight.PatternRecurringDailyPeak,
		Confidence:          confidence,
		Description:         fmt.Sprintf("heart rate peaks near hour %.0f on %d of %d days", stat.Mean(hours, nil), len(peaks), totalDays),
		SupportingSampleIDs: ids,
	}, true
}

func daysIn(w *health.AnalysisWindow) int {
	return int(math.Ceil(w.End.Sub(w.Start).Hours() / 24))
}
