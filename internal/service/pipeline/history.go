package pipeline

import (
	"sync"

	"github.com/somnasync/health-insight-engine/internal/domain/insight"
)

// History keeps the most recent reports in memory, newest last. Old runs
// fall off the front once capacity is reached; reports themselves are
// never mutated after Add.
type History struct {
	mu       sync.RWMutex
	capacity int
	reports  []insight.AnalysisReport
}

// NewHistory creates a bounded history. Capacity below one keeps a single
// report.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

// Add appends a report, evicting the oldest beyond capacity.
func (h *History) Add(report insight.AnalysisReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, report)
	if len(h.reports) > h.capacity {
		h.reports = append(h.reports[:0:0], h.reports[len(h.reports)-h.capacity:]...)
	}
}

// Latest returns the newest report, if any run has completed.
func (h *History) Latest() (insight.AnalysisReport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.reports) == 0 {
		return insight.AnalysisReport{}, false
	}
	return h.reports[len(h.reports)-1], true
}

// All returns the retained reports, newest first.
func (h *History) All() []insight.AnalysisReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]insight.AnalysisReport, len(h.reports))
	for i := range h.reports {
		out[i] = h.reports[len(h.reports)-1-i]
	}
	return out
}

// Len reports how many reports are retained.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.reports)
}
