package healthstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

// MemoryStore is an in-memory SampleStore. It backs tests and deployments
// that feed samples directly from the transport layer instead of a
// database.
type MemoryStore struct {
	mu       sync.RWMutex
	samples  map[health.MetricType][]health.HealthSample
	failures map[health.MetricType]error
	pageSize int
}

// NewMemoryStore creates an empty store paging pageSize samples at a time.
func NewMemoryStore(pageSize int) *MemoryStore {
	if pageSize < 1 {
		pageSize = 100
	}
	return &MemoryStore{
		samples:  make(map[health.MetricType][]health.HealthSample),
		failures: make(map[health.MetricType]error),
		pageSize: pageSize,
	}
}

// Put inserts samples, keeping each metric's series sorted.
func (m *MemoryStore) Put(samples ...health.HealthSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		m.samples[s.Metric] = append(m.samples[s.Metric], s)
	}
	for metric := range m.samples {
		ss := m.samples[metric]
		sort.Slice(ss, func(i, j int) bool { return ss[i].Timestamp.Before(ss[j].Timestamp) })
	}
}

// FailMetric makes subsequent fetches for metric return err. Passing nil
// clears the failure.
func (m *MemoryStore) FailMetric(metric health.MetricType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, metric)
		return
	}
	m.failures[metric] = err
}

// FetchSamples implements SampleStore. The page token is the numeric offset
// into the metric's in-range series.
func (m *MemoryStore) FetchSamples(ctx context.Context, metric health.MetricType, start, end time.Time, pageToken string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failures[metric]; err != nil {
		return Page{}, err
	}

	var inRange []health.HealthSample
	for _, s := range m.samples[metric] {
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		inRange = append(inRange, s)
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return Page{}, nil
		}
		offset = n
	}
	if offset >= len(inRange) {
		return Page{}, nil
	}

	endIdx := offset + m.pageSize
	next := ""
	if endIdx < len(inRange) {
		next = strconv.Itoa(endIdx)
	} else {
		endIdx = len(inRange)
	}

	page := make([]health.HealthSample, endIdx-offset)
	copy(page, inRange[offset:endIdx])
	return Page{Samples: page, NextToken: next}, nil
}
