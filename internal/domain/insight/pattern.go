package insight

// PatternType names a recurring behavioral structure the recognizer can
// detect.
type PatternType string

const (
	PatternConsistentBedtime    PatternType = "consistent_bedtime"
	PatternWeekdayWeekendSplit  PatternType = "weekday_weekend_split"
	PatternRecurringDailyPeak   PatternType = "recurring_daily_peak"
)

// Pattern is a recurring behavioral structure with a confidence score.
// Confidence is the product of frequency (how often the structure occurs)
// and regularity (how evenly it is spaced).
type Pattern struct {
	Type                PatternType `json:"type"`
	Confidence          float64     `json:"confidence"`
	Description         string      `json:"description"`
	SupportingSampleIDs []string    `json:"supporting_sample_ids,omitempty"`
}

// IsSignificant reports whether the pattern clears the confidence gate.
func (p Pattern) IsSignificant(minConfidence float64) bool {
	return p.Confidence > minConfidence
}
