package health

import (
	"fmt"
	"sort"
	"time"
)

// AnalysisWindow holds the batch of samples under analysis for one pipeline
// run. The window is exclusively owned by the active run and discarded when
// the run ends.
//
// Invariants: samples per metric are sorted ascending by timestamp, and no
// two samples of the same metric share a timestamp.
type AnalysisWindow struct {
	Start   time.Time
	End     time.Time
	samples map[MetricType][]HealthSample
}

// NewAnalysisWindow creates an empty window covering [start, end].
func NewAnalysisWindow(start, end time.Time) (*AnalysisWindow, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("window bounds are required")
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("window start %v must be before end %v", start, end)
	}
	return &AnalysisWindow{
		Start:   start,
		End:     end,
		samples: make(map[MetricType][]HealthSample),
	}, nil
}

// AddSamples merges a batch of samples for one metric into the window,
// restoring sort order and dropping duplicate (metric, timestamp) pairs.
// Samples outside the window bounds are rejected.
func (w *AnalysisWindow) AddSamples(metric MetricType, batch []HealthSample) error {
	for i := range batch {
		s := &batch[i]
		if s.Metric != metric {
			return fmt.Errorf("sample metric %s does not match batch metric %s", s.Metric, metric)
		}
		if s.Timestamp.Before(w.Start) || s.Timestamp.After(w.End) {
			return fmt.Errorf("sample at %v is outside window [%v, %v]", s.Timestamp, w.Start, w.End)
		}
	}

	merged := append(w.samples[metric], batch...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	deduped := merged[:0]
	for i := range merged {
		if i > 0 && merged[i].Timestamp.Equal(merged[i-1].Timestamp) {
			continue
		}
		deduped = append(deduped, merged[i])
	}
	w.samples[metric] = deduped
	return nil
}

// Samples returns the window's samples for one metric, sorted ascending.
// Callers must not mutate the returned slice.
func (w *AnalysisWindow) Samples(metric MetricType) []HealthSample {
	return w.samples[metric]
}

// Metrics returns the metrics present in the window with at least one
// sample, in the canonical metric order.
func (w *AnalysisWindow) Metrics() []MetricType {
	out := make([]MetricType, 0, len(w.samples))
	for _, m := range AllMetrics() {
		if len(w.samples[m]) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// SampleCount returns the total number of samples across all metrics.
func (w *AnalysisWindow) SampleCount() int {
	n := 0
	for _, ss := range w.samples {
		n += len(ss)
	}
	return n
}

// Validate verifies the window invariants. A violation means the cache has
// been corrupted and the current run must be aborted.
func (w *AnalysisWindow) Validate() error {
	for metric, ss := range w.samples {
		for i := range ss {
			if ss[i].Metric != metric {
				return fmt.Errorf("window corrupted: sample metric %s filed under %s", ss[i].Metric, metric)
			}
			if i == 0 {
				continue
			}
			if ss[i].Timestamp.Before(ss[i-1].Timestamp) {
				return fmt.Errorf("window corrupted: %s samples out of order at index %d", metric, i)
			}
			if ss[i].Timestamp.Equal(ss[i-1].Timestamp) {
				return fmt.Errorf("window corrupted: duplicate %s sample at %v", metric, ss[i].Timestamp)
			}
		}
	}
	return nil
}
