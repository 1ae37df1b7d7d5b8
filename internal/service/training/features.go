// Package training maintains the predictive models: it engineers feature
// sets from a populated analysis window, runs the per-model-type training
// state machine, and appends immutable versioned artifacts to a registry.
package training

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/domain/model"
)

// FeatureNamesV1 is the engineered-feature layout for schema version 1.
// Order matters; it is the column order of every observation vector.
var FeatureNamesV1 = []string{
	"heart_rate",
	"hrv",
	"movement",
	"blood_oxygen",
	"body_temperature",
	"respiratory_rate",
	"time_of_night",
	"previous_stage",
}

// Observation is one labeled feature vector.
type Observation struct {
	Features []float64
	Label    float64
}

// FeatureSet is the training input for one model type.
type FeatureSet struct {
	ModelType     model.ModelType
	SchemaVersion int
	Names         []string
	Observations  []Observation
}

// FeatureCount returns the width of each observation vector.
func (fs FeatureSet) FeatureCount() int { return len(fs.Names) }

// seriesCursor walks a sorted sample slice and answers nearest-in-time
// lookups for non-decreasing query timestamps.
type seriesCursor struct {
	samples []health.HealthSample
	j       int
}

func (c *seriesCursor) nearest(ts time.Time, tolerance time.Duration) (float64, bool) {
	if len(c.samples) == 0 {
		return 0, false
	}
	for c.j+1 < len(c.samples) &&
		absDuration(c.samples[c.j+1].Timestamp.Sub(ts)) <= absDuration(c.samples[c.j].Timestamp.Sub(ts)) {
		c.j++
	}
	if absDuration(c.samples[c.j].Timestamp.Sub(ts)) > tolerance {
		return 0, false
	}
	return c.samples[c.j].Value, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func seriesMean(samples []health.HealthSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	values := make([]float64, len(samples))
	for i := range samples {
		values[i] = samples[i].Value
	}
	return stat.Mean(values, nil)
}

// SleepQualityFeatures builds one observation per sleep-stage sample: the
// concurrent biometric context, how far through the night the sample falls,
// and the preceding stage. The label is the recorded stage itself. Metrics
// with no reading near the sample fall back to their window mean so a
// sparse sensor does not punch holes in the matrix.
func SleepQualityFeatures(w *health.AnalysisWindow, tolerance time.Duration) FeatureSet {
	fs := FeatureSet{
		ModelType:     model.ModelSleepQuality,
		SchemaVersion: model.FeatureSchemaVersion,
		Names:         FeatureNamesV1,
	}

	stages := w.Samples(health.MetricSleepStage)
	if len(stages) == 0 {
		return fs
	}

	contextMetrics := []health.MetricType{
		health.MetricHeartRate,
		health.MetricHRV,
		health.MetricMovement,
		health.MetricBloodOxygen,
		health.MetricBodyTemperature,
		health.MetricRespiratoryRate,
	}
	cursors := make([]*seriesCursor, len(contextMetrics))
	means := make([]float64, len(contextMetrics))
	for i, m := range contextMetrics {
		samples := w.Samples(m)
		cursors[i] = &seriesCursor{samples: samples}
		means[i] = seriesMean(samples)
	}

	nightStart := stages[0].Timestamp
	nightSpan := stages[len(stages)-1].Timestamp.Sub(nightStart)

	previous := float64(health.SleepStageAwake)
	for _, s := range stages {
		features := make([]float64, 0, len(FeatureNamesV1))
		for i := range contextMetrics {
			v, ok := cursors[i].nearest(s.Timestamp, tolerance)
			if !ok {
				v = means[i]
			}
			features = append(features, v)
		}

		timeOfNight := 0.0
		if nightSpan > 0 {
			timeOfNight = float64(s.Timestamp.Sub(nightStart)) / float64(nightSpan)
		}
		features = append(features, timeOfNight, previous)

		fs.Observations = append(fs.Observations, Observation{Features: features, Label: s.Value})
		previous = s.Value
	}
	return fs
}

// hourlyRows buckets the window into hours and produces one row of
// per-metric hourly means for every hour that has at least one sample.
// Rows come back in chronological order alongside their bucket start times.
func hourlyRows(w *health.AnalysisWindow) (rows [][]float64, hours []time.Time) {
	metrics := health.AllMetrics()
	type bucket struct {
		sums   []float64
		counts []int
	}
	buckets := make(map[time.Time]*bucket)

	for mi, m := range metrics {
		for _, s := range w.Samples(m) {
			h := s.Timestamp.Truncate(time.Hour)
			b, ok := buckets[h]
			if !ok {
				b = &bucket{sums: make([]float64, len(metrics)), counts: make([]int, len(metrics))}
				buckets[h] = b
			}
			b.sums[mi] += s.Value
			b.counts[mi]++
		}
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	// Per-metric window means back-fill hours the metric skipped.
	fill := make([]float64, len(metrics))
	for mi, m := range metrics {
		fill[mi] = seriesMean(w.Samples(m))
	}

	for _, h := range hours {
		b := buckets[h]
		row := make([]float64, len(metrics))
		for mi := range metrics {
			if b.counts[mi] > 0 {
				row[mi] = b.sums[mi] / float64(b.counts[mi])
			} else {
				row[mi] = fill[mi]
			}
		}
		rows = append(rows, row)
	}
	return rows, hours
}

func hourlyNames() []string {
	metrics := health.AllMetrics()
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = "hourly_" + m.String()
	}
	return names
}

// ForecastFeatures trains the trend-forecast model on hourly metric rows
// labeled with the following hour's heart rate.
func ForecastFeatures(w *health.AnalysisWindow) FeatureSet {
	fs := FeatureSet{
		ModelType:     model.ModelTrendForecast,
		SchemaVersion: model.FeatureSchemaVersion,
		Names:         hourlyNames(),
	}
	rows, _ := hourlyRows(w)
	hrIndex := metricIndex(health.MetricHeartRate)
	for i := 0; i+1 < len(rows); i++ {
		fs.Observations = append(fs.Observations, Observation{
			Features: rows[i],
			Label:    rows[i+1][hrIndex],
		})
	}
	return fs
}

// AnomalyFeatures labels each hourly row with whether the statistical
// analyzer flagged an anomaly inside that hour.
func AnomalyFeatures(w *health.AnalysisWindow, summaries []insight.MetricSummary) FeatureSet {
	fs := FeatureSet{
		ModelType:     model.ModelAnomalyDetection,
		SchemaVersion: model.FeatureSchemaVersion,
		Names:         hourlyNames(),
	}

	anomalous := make(map[time.Time]bool)
	for _, s := range summaries {
		for _, a := range s.Anomalies {
			anomalous[a.Timestamp.Truncate(time.Hour)] = true
		}
	}

	rows, hours := hourlyRows(w)
	for i := range rows {
		label := 0.0
		if anomalous[hours[i]] {
			label = 1
		}
		fs.Observations = append(fs.Observations, Observation{Features: rows[i], Label: label})
	}
	return fs
}

// RecommendationFeatures labels hourly rows with the night's sleep quality
// heuristic: the share of that calendar day's sleep-stage samples spent in
// deep or REM sleep.
func RecommendationFeatures(w *health.AnalysisWindow) FeatureSet {
	fs := FeatureSet{
		ModelType:     model.ModelRecommendation,
		SchemaVersion: model.FeatureSchemaVersion,
		Names:         hourlyNames(),
	}

	quality := dailySleepQuality(w)
	rows, hours := hourlyRows(w)
	for i := range rows {
		fs.Observations = append(fs.Observations, Observation{
			Features: rows[i],
			Label:    quality[hours[i].Format("2006-01-02")],
		})
	}
	return fs
}

// dailySleepQuality computes, per calendar day, the fraction of sleep-stage
// samples in deep or REM sleep. Days without sleep data score zero.
func dailySleepQuality(w *health.AnalysisWindow) map[string]float64 {
	total := make(map[string]int)
	restorative := make(map[string]int)
	for _, s := range w.Samples(health.MetricSleepStage) {
		day := s.Timestamp.Format("2006-01-02")
		total[day]++
		if s.Value == float64(health.SleepStageDeep) || s.Value == float64(health.SleepStageREM) {
			restorative[day]++
		}
	}
	quality := make(map[string]float64, len(total))
	for day, n := range total {
		quality[day] = float64(restorative[day]) / float64(n)
	}
	return quality
}

func metricIndex(m health.MetricType) int {
	for i, known := range health.AllMetrics() {
		if known == m {
			return i
		}
	}
	return 0
}
