package insight

import (
	"math"
	"time"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

// Correlation is the pairwise relationship between two metrics over the
// window. It is symmetric in the unordered pair; MetricA always orders
// before MetricB so each pair has a single canonical record.
type Correlation struct {
	MetricA      health.MetricType `json:"metric_a"`
	MetricB      health.MetricType `json:"metric_b"`
	Coefficient  float64           `json:"coefficient"`
	Significance float64           `json:"significance"`
	Lag          time.Duration     `json:"lag"`
	OverlapCount int               `json:"overlap_count"`
}

// NewCorrelation builds a correlation with the canonical metric ordering.
// Flipping the pair never changes the coefficient: Pearson is symmetric.
func NewCorrelation(a, b health.MetricType, coefficient, significance float64, lag time.Duration, overlap int) Correlation {
	if b < a {
		a, b = b, a
		lag = -lag
	}
	return Correlation{
		MetricA:      a,
		MetricB:      b,
		Coefficient:  coefficient,
		Significance: significance,
		Lag:          lag,
		OverlapCount: overlap,
	}
}

// Strength buckets the coefficient magnitude for recommendation wording.
func (c Correlation) Strength() string {
	switch abs := math.Abs(c.Coefficient); {
	case abs >= 0.8:
		return "strong"
	case abs >= 0.5:
		return "moderate"
	default:
		return "weak"
	}
}
