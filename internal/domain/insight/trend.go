package insight

import (
	"math"
	"time"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

// TrendDirection classifies the movement of a metric within a window.
type TrendDirection string

const (
	TrendIncreasing  TrendDirection = "increasing"
	TrendDecreasing  TrendDirection = "decreasing"
	TrendStable      TrendDirection = "stable"
	TrendFluctuating TrendDirection = "fluctuating"
)

// Trend is a detected linear movement of one metric within the window.
// Magnitude is the regression slope normalized by the window mean, so it
// reads as relative change over the window regardless of the metric's scale.
// Confidence is the R-squared of the fit.
type Trend struct {
	Metric      health.MetricType `json:"metric"`
	Direction   TrendDirection    `json:"direction"`
	Magnitude   float64           `json:"magnitude"`
	Confidence  float64           `json:"confidence"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
}

// IsSignificant reports whether the trend clears both the confidence and
// magnitude gates. Both conditions are required.
func (t Trend) IsSignificant(minConfidence, minMagnitude float64) bool {
	return t.Confidence > minConfidence && math.Abs(t.Magnitude) > minMagnitude
}
