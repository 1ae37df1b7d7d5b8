package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/healthstore"
	"github.com/somnasync/health-insight-engine/internal/service/analysis"
	"github.com/somnasync/health-insight-engine/internal/service/training"
)

func newTestEngine(t *testing.T, store healthstore.SampleStore) *Engine {
	t.Helper()
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	compiler := NewCompiler(cfg.Analysis, NewHistory(cfg.Pipeline.HistoryCapacity), nil, nil, logger)
	deps := EngineDeps{
		Filler:       healthstore.NewPager(store, cfg.Store.PageSize, 10000, 100),
		Analyzer:     analysis.NewAnalyzer(cfg.Analysis, logger),
		Trends:       analysis.NewTrendDetector(cfg.Analysis, logger),
		Patterns:     analysis.NewPatternRecognizer(cfg.Analysis, logger),
		Correlations: analysis.NewCorrelationEngine(cfg.Analysis, logger),
		Trainer:      training.NewTrainer(cfg.Training, training.NewMemoryRegistry(), nil, logger),
		Compiler:     compiler,
	}
	return NewEngine(cfg.Pipeline, deps, logger)
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.state.Load() == engineIdle
	}, 10*time.Second, 10*time.Millisecond, "engine never returned to idle")
}

// seedStore fills the last few days with hourly heart rate (including one
// hard outlier), HRV, and nightly sleep stages.
func seedStore(store *healthstore.MemoryStore) {
	now := time.Now().UTC()
	for h := 0; h < 6*24; h++ {
		ts := now.Add(-time.Duration(h+1) * time.Hour)
		hr := 60 + float64(h%7)
		if h == 30 {
			hr = 160
		}
		store.Put(
			health.HealthSample{Metric: health.MetricHeartRate, Timestamp: ts, Value: hr},
			health.HealthSample{Metric: health.MetricHRV, Timestamp: ts.Add(time.Minute), Value: 45 + float64(h%5)},
		)
	}
	for d := 0; d < 6; d++ {
		night := now.Add(-time.Duration(d+1) * 24 * time.Hour)
		for i := 0; i < 8; i++ {
			store.Put(health.HealthSample{
				Metric:    health.MetricSleepStage,
				Timestamp: night.Add(time.Duration(i) * 30 * time.Minute),
				Value:     float64(i % 4),
			})
		}
	}
}

func TestEngineRunProducesReport(t *testing.T) {
	store := healthstore.NewMemoryStore(500)
	seedStore(store)
	e := newTestEngine(t, store)

	_, ok := e.Results()
	assert.False(t, ok)
	_, ok = e.LastAnalyzedAt()
	assert.False(t, ok)

	require.True(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))
	waitIdle(t, e)

	report, ok := e.Results()
	require.True(t, ok)
	assert.NotEmpty(t, report.Summaries)
	assert.Contains(t, report.DataTypesAnalyzed, health.MetricHeartRate)
	assert.Contains(t, report.DataTypesAnalyzed, health.MetricSleepStage)
	assert.Empty(t, report.ExcludedMetrics)

	// The 160 bpm reading stands far outside the 60-66 band.
	var hrAnomalies int
	for _, s := range report.Summaries {
		if s.Metric == health.MetricHeartRate {
			hrAnomalies = len(s.Anomalies)
		}
	}
	assert.Greater(t, hrAnomalies, 0)

	at, ok := e.LastAnalyzedAt()
	require.True(t, ok)
	assert.Equal(t, report.Timestamp, at)
	assert.Equal(t, StageIdle, e.Progress().Stage)
}

func TestEngineDropsSecondTrigger(t *testing.T) {
	store := &gateStore{
		inner:   healthstore.NewMemoryStore(500),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	seedStore(store.inner)
	e := newTestEngine(t, store)

	require.True(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))
	<-store.started

	assert.False(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))

	close(store.release)
	waitIdle(t, e)

	// Idle again: the next trigger is accepted.
	assert.True(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))
	waitIdle(t, e)
}

func TestEngineExcludesFailingMetric(t *testing.T) {
	store := healthstore.NewMemoryStore(500)
	seedStore(store)
	store.FailMetric(health.MetricHRV, apperrors.NewDataUnavailableError(health.MetricHRV.String()))
	e := newTestEngine(t, store)

	require.True(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))
	waitIdle(t, e)

	report, ok := e.Results()
	require.True(t, ok)
	assert.Contains(t, report.ExcludedMetrics, health.MetricHRV)
	assert.NotContains(t, report.DataTypesAnalyzed, health.MetricHRV)
	assert.NotEmpty(t, report.Warnings)

	// Other metrics still produced summaries.
	var metrics []health.MetricType
	for _, s := range report.Summaries {
		metrics = append(metrics, s.Metric)
	}
	assert.Contains(t, metrics, health.MetricHeartRate)
}

func TestEngineAbortsOnCorruptedWindow(t *testing.T) {
	store := healthstore.NewMemoryStore(500)
	seedStore(store)
	store.FailMetric(health.MetricHeartRate, apperrors.NewCacheCorruptedError("merging fetched samples"))
	e := newTestEngine(t, store)

	require.True(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))
	waitIdle(t, e)

	// An untrustworthy window produces no report at all.
	_, ok := e.Results()
	assert.False(t, ok)
	_, ok = e.LastAnalyzedAt()
	assert.False(t, ok)
}

func TestEngineExpiredRunCheckpointsPartialOutput(t *testing.T) {
	store := healthstore.NewMemoryStore(500)
	seedStore(store)
	e := newTestEngine(t, store)

	// The deadline is already gone, so the run expires before its first
	// stage and checkpoints an empty report with a warning.
	require.True(t, e.OnIdleWindow(time.Now().Add(-time.Second)))
	waitIdle(t, e)

	report, ok := e.Results()
	require.True(t, ok)
	assert.Empty(t, report.Summaries)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "deadline expired")

	_, ok = e.LastAnalyzedAt()
	assert.True(t, ok)
}

func TestEngineCancelDiscardsRun(t *testing.T) {
	store := &gateStore{
		inner:   healthstore.NewMemoryStore(500),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	seedStore(store.inner)
	e := newTestEngine(t, store)

	require.True(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))
	<-store.started
	e.Cancel()
	close(store.release)
	waitIdle(t, e)

	_, ok := e.Results()
	assert.False(t, ok)

	// Cancellation leaves the engine reusable.
	require.True(t, e.OnIdleWindow(time.Now().Add(30*time.Second)))
	waitIdle(t, e)
	_, ok = e.Results()
	assert.True(t, ok)
}

// gateStore blocks the first fetch until released, so tests can observe a
// run mid-flight.
type gateStore struct {
	inner   *healthstore.MemoryStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gateStore) FetchSamples(ctx context.Context, metric health.MetricType, start, end time.Time, pageToken string) (healthstore.Page, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return healthstore.Page{}, ctx.Err()
	}
	return s.inner.FetchSamples(ctx, metric, start, end, pageToken)
}
