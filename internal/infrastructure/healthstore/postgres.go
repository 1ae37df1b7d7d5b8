package healthstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
)

// PostgresStore reads samples from the health_samples table using keyset
// pagination on the sample timestamp.
type PostgresStore struct {
	pool     *pgxpool.Pool
	pageSize int
	logger   *zap.Logger
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool, pageSize int, logger *zap.Logger) *PostgresStore {
	if pageSize < 1 {
		pageSize = 500
	}
	return &PostgresStore{pool: pool, pageSize: pageSize, logger: logger}
}

// FetchSamples implements SampleStore. The page token is the unix-nano
// timestamp of the last sample on the previous page.
func (s *PostgresStore) FetchSamples(ctx context.Context, metric health.MetricType, start, end time.Time, pageToken string) (Page, error) {
	after := start.Add(-time.Nanosecond)
	if pageToken != "" {
		nanos, err := strconv.ParseInt(pageToken, 10, 64)
		if err != nil {
			return Page{}, errors.NewValidationError("INVALID_PAGE_TOKEN", fmt.Sprintf("bad page token %q", pageToken))
		}
		after = time.Unix(0, nanos)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT metric, recorded_at, value, source
		FROM health_samples
		WHERE metric = $1 AND recorded_at > $2 AND recorded_at <= $3
		ORDER BY recorded_at
		LIMIT $4`,
		metric.String(), after, end, s.pageSize)
	if err != nil {
		s.logger.Warn("sample fetch failed",
			zap.String("metric", metric.String()),
			zap.Error(err))
		return Page{}, errors.NewDataUnavailableError(metric.String()).WithCause(err)
	}
	defer rows.Close()

	samples := make([]health.HealthSample, 0, s.pageSize)
	for rows.Next() {
		var (
			m      string
			ts     time.Time
			value  float64
			source *string
		)
		if err := rows.Scan(&m, &ts, &value, &source); err != nil {
			return Page{}, errors.NewDataUnavailableError(metric.String()).WithCause(err)
		}
		sample := health.HealthSample{
			Metric:    health.MetricType(m),
			Timestamp: ts,
			Value:     value,
		}
		if source != nil {
			sample.Source = *source
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return Page{}, errors.NewDataUnavailableError(metric.String()).WithCause(err)
	}

	next := ""
	if len(samples) == s.pageSize {
		next = strconv.FormatInt(samples[len(samples)-1].Timestamp.UnixNano(), 10)
	}
	return Page{Samples: samples, NextToken: next}, nil
}
