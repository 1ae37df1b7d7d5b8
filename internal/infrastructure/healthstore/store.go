// Package healthstore adapts the external health-data source. It pages
// samples per metric and time range; absence of data is a valid, non-error
// result.
package healthstore

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

// Page is one page of samples plus the token for the next page. An empty
// NextToken means the sequence is exhausted.
type Page struct {
	Samples   []health.HealthSample
	NextToken string
}

// SampleStore is the contract to the external health-data source. Paging is
// resumable: passing a previously returned token continues the sequence.
// Store failures surface as DataUnavailable errors.
type SampleStore interface {
	FetchSamples(ctx context.Context, metric health.MetricType, start, end time.Time, pageToken string) (Page, error)
}

// Pager drives full-range fetches over a SampleStore, throttling page
// requests so a background run cannot saturate the store.
type Pager struct {
	store    SampleStore
	pageSize int
	limiter  *rate.Limiter
}

// NewPager wraps a store. fetchesPerSecond <= 0 disables throttling.
func NewPager(store SampleStore, pageSize int, fetchesPerSecond float64, burst int) *Pager {
	var limiter *rate.Limiter
	if fetchesPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(fetchesPerSecond), burst)
	}
	return &Pager{store: store, pageSize: pageSize, limiter: limiter}
}

// FillWindow fetches every page for one metric into the window. An empty
// sequence leaves the window untouched and returns nil: absence is not an
// error.
func (p *Pager) FillWindow(ctx context.Context, w *health.AnalysisWindow, metric health.MetricType) error {
	token := ""
	for {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return errors.NewDataUnavailableError(metric.String()).WithCause(err)
			}
		}

		page, err := p.store.FetchSamples(ctx, metric, w.Start, w.End, token)
		if err != nil {
			if errors.IsDataUnavailable(err) || errors.IsCacheCorrupted(err) {
				return err
			}
			return errors.NewDataUnavailableError(metric.String()).WithCause(err)
		}

		if len(page.Samples) > 0 {
			if err := w.AddSamples(metric, page.Samples); err != nil {
				return errors.NewCacheCorruptedError("merging fetched samples").WithCause(err)
			}
		}

		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}
