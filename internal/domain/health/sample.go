package health

import (
	"fmt"
	"time"
)

// MetricType identifies a biometric or contextual time series.
type MetricType string

const (
	MetricHeartRate       MetricType = "heart_rate"
	MetricHRV             MetricType = "hrv"
	MetricRespiratoryRate MetricType = "respiratory_rate"
	MetricBloodOxygen     MetricType = "blood_oxygen"
	MetricBodyTemperature MetricType = "body_temperature"
	MetricMovement        MetricType = "movement"
	MetricSleepStage      MetricType = "sleep_stage"
	MetricActivity        MetricType = "activity"
)

// AllMetrics lists every metric the pipeline knows how to analyze, in the
// order stages iterate over them.
func AllMetrics() []MetricType {
	return []MetricType{
		MetricHeartRate,
		MetricHRV,
		MetricRespiratoryRate,
		MetricBloodOxygen,
		MetricBodyTemperature,
		MetricMovement,
		MetricSleepStage,
		MetricActivity,
	}
}

// IsValid reports whether m is a known metric type.
func (m MetricType) IsValid() bool {
	switch m {
	case MetricHeartRate, MetricHRV, MetricRespiratoryRate, MetricBloodOxygen,
		MetricBodyTemperature, MetricMovement, MetricSleepStage, MetricActivity:
		return true
	}
	return false
}

func (m MetricType) String() string {
	return string(m)
}

// Sleep stage label values carried in sleep_stage samples.
const (
	SleepStageAwake = 0
	SleepStageLight = 1
	SleepStageDeep  = 2
	SleepStageREM   = 3
)

// HealthSample is a single measurement of one metric. Samples are immutable
// once stored; stages never modify them.
type HealthSample struct {
	Metric    MetricType `json:"metric"`
	Timestamp time.Time  `json:"timestamp"`
	Value     float64    `json:"value"`
	Source    string     `json:"source,omitempty"`
}

// NewHealthSample creates a validated sample.
func NewHealthSample(metric MetricType, ts time.Time, value float64, source string) (HealthSample, error) {
	if !metric.IsValid() {
		return HealthSample{}, fmt.Errorf("unknown metric type %q", metric)
	}
	if ts.IsZero() {
		return HealthSample{}, fmt.Errorf("sample timestamp is required")
	}
	return HealthSample{
		Metric:    metric,
		Timestamp: ts,
		Value:     value,
		Source:    source,
	}, nil
}

// ID returns the sample's natural identity within a window. (metric,
// timestamp) pairs are unique per the window invariant.
func (s HealthSample) ID() string {
	return fmt.Sprintf("%s@%d", s.Metric, s.Timestamp.UnixNano())
}
