// Package cache keeps the latest compiled report and run progress in Redis
// so other processes can answer "current report" queries without touching
// the report history store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
)

const (
	latestReportKey = "hie:report:latest"
	progressKey     = "hie:run:progress"
)

// ErrCacheMiss is returned when a key is absent. Callers fall through to
// the report repository.
var ErrCacheMiss = errors.New("cache miss")

// ReportCache is the Redis-backed cache for the latest report and the
// in-flight run's progress.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// RunProgress mirrors the engine's progress snapshot for cross-process
// display.
type RunProgress struct {
	Stage            string  `json:"stage"`
	FractionComplete float64 `json:"fraction_complete"`
}

// NewReportCache connects to Redis and verifies connectivity.
func NewReportCache(cfg *config.RedisConfig, logger *zap.Logger) (*ReportCache, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("report cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Duration("report_ttl", cfg.ReportTTL))

	return &ReportCache{
		client: client,
		ttl:    cfg.ReportTTL,
		logger: logger,
	}, nil
}

// SetLatest replaces the cached latest report.
func (c *ReportCache) SetLatest(ctx context.Context, report *insight.AnalysisReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := c.client.Set(ctx, latestReportKey, data, c.ttl).Err(); err != nil {
		c.logger.Error("caching latest report failed", zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Latest returns the cached latest report, or ErrCacheMiss.
func (c *ReportCache) Latest(ctx context.Context) (*insight.AnalysisReport, error) {
	data, err := c.client.Get(ctx, latestReportKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var report insight.AnalysisReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding cached report: %w", err)
	}
	return &report, nil
}

// SetProgress publishes the in-flight run's progress. Short TTL: stale
// progress is worse than none.
func (c *ReportCache) SetProgress(ctx context.Context, p RunProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	if err := c.client.Set(ctx, progressKey, data, time.Minute).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Progress returns the published run progress, or ErrCacheMiss.
func (c *ReportCache) Progress(ctx context.Context) (RunProgress, error) {
	data, err := c.client.Get(ctx, progressKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RunProgress{}, ErrCacheMiss
		}
		return RunProgress{}, fmt.Errorf("redis get failed: %w", err)
	}

	var p RunProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return RunProgress{}, fmt.Errorf("decoding cached progress: %w", err)
	}
	return p, nil
}

// Close releases the Redis client.
func (c *ReportCache) Close() error {
	return c.client.Close()
}
