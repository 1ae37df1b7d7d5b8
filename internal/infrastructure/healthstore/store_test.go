package healthstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

func seedStore(t *testing.T, store *MemoryStore, metric health.MetricType, start time.Time, n int) {
	t.Helper()
	samples := make([]health.HealthSample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, health.HealthSample{
			Metric:    metric,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Value:     60 + float64(i%5),
		})
	}
	store.Put(samples...)
}

func TestMemoryStorePaging(t *testing.T) {
	store := NewMemoryStore(10)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seedStore(t, store, health.MetricHeartRate, start, 25)

	ctx := context.Background()
	var all []health.HealthSample
	token := ""
	pages := 0
	for {
		page, err := store.FetchSamples(ctx, health.MetricHeartRate, start, start.Add(time.Hour), token)
		require.NoError(t, err)
		all = append(all, page.Samples...)
		pages++
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, all, 25)
}

func TestMemoryStorePagingIsRestartable(t *testing.T) {
	store := NewMemoryStore(10)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seedStore(t, store, health.MetricHeartRate, start, 25)

	ctx := context.Background()
	first, err := store.FetchSamples(ctx, health.MetricHeartRate, start, start.Add(time.Hour), "")
	require.NoError(t, err)

	// Resuming from the same token twice yields the same page.
	a, err := store.FetchSamples(ctx, health.MetricHeartRate, start, start.Add(time.Hour), first.NextToken)
	require.NoError(t, err)
	b, err := store.FetchSamples(ctx, health.MetricHeartRate, start, start.Add(time.Hour), first.NextToken)
	require.NoError(t, err)
	assert.Equal(t, a.Samples, b.Samples)
}

func TestMemoryStoreAbsenceIsNotAnError(t *testing.T) {
	store := NewMemoryStore(10)
	page, err := store.FetchSamples(context.Background(), health.MetricHRV, time.Now().Add(-time.Hour), time.Now(), "")
	require.NoError(t, err)
	assert.Empty(t, page.Samples)
	assert.Empty(t, page.NextToken)
}

func TestPagerFillWindow(t *testing.T) {
	store := NewMemoryStore(7)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seedStore(t, store, health.MetricHeartRate, start, 20)

	w, err := health.NewAnalysisWindow(start, start.Add(time.Hour))
	require.NoError(t, err)

	pager := NewPager(store, 7, 0, 0)
	require.NoError(t, pager.FillWindow(context.Background(), w, health.MetricHeartRate))

	assert.Len(t, w.Samples(health.MetricHeartRate), 20)
	assert.NoError(t, w.Validate())
}

func TestPagerSurfacesDataUnavailable(t *testing.T) {
	store := NewMemoryStore(10)
	store.FailMetric(health.MetricHeartRate, fmt.Errorf("store offline"))

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	w, err := health.NewAnalysisWindow(start, start.Add(time.Hour))
	require.NoError(t, err)

	pager := NewPager(store, 10, 0, 0)
	err = pager.FillWindow(context.Background(), w, health.MetricHeartRate)
	assert.True(t, errors.IsDataUnavailable(err))
}

func TestPagerRespectsContextCancellation(t *testing.T) {
	store := NewMemoryStore(10)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seedStore(t, store, health.MetricHeartRate, start, 5)

	w, err := health.NewAnalysisWindow(start, start.Add(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pager := NewPager(store, 10, 1, 1)
	err = pager.FillWindow(ctx, w, health.MetricHeartRate)
	assert.Error(t, err)
}
