// Command analyzer runs the background health analysis pipeline: it fills
// an analysis window from the sample store, runs the statistical stages,
// retrains the predictive models, and publishes compiled reports.
//
// With a database URL configured, samples come from Postgres and reports
// and artifacts persist there; without one, the in-memory store and
// registry are used. Redis, when configured, caches the latest report and
// run progress for other processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/infrastructure/cache"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/database"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/healthstore"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/repository"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/telemetry"
	"github.com/somnasync/health-insight-engine/internal/service/analysis"
	"github.com/somnasync/health-insight-engine/internal/service/pipeline"
	"github.com/somnasync/health-insight-engine/internal/service/training"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (optional)")
		metricsAddr = flag.String("metrics-addr", ":9090", "Prometheus metrics listen address (empty to disable)")
		interval    = flag.Duration("interval", time.Hour, "how often to trigger an analysis run")
		once        = flag.Bool("once", false, "run a single analysis and exit")
	)
	flag.Parse()

	if err := run(*configPath, *metricsAddr, *interval, *once); err != nil {
		fmt.Fprintf(os.Stderr, "analyzer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string, interval time.Duration, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("starting analyzer",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		store    healthstore.SampleStore
		repo     pipeline.ReportSaver
		registry training.ArtifactStore
	)
	if cfg.Database.URL != "" {
		pool, err := database.NewPool(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()
		store = healthstore.NewPostgresStore(pool, cfg.Store.PageSize, logger)
		repo = repository.NewReportRepository(pool, cfg.Pipeline.HistoryCapacity, logger)
		registry = repository.NewModelRegistry(pool, logger)
	} else {
		logger.Warn("no database configured, using in-memory sample store and model registry")
		store = healthstore.NewMemoryStore(cfg.Store.PageSize)
		registry = training.NewMemoryRegistry()
	}

	var (
		latestCache pipeline.LatestCache
		progress    pipeline.ProgressSink
	)
	if cfg.Redis.URL != "" {
		reportCache, err := cache.NewReportCache(&cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer reportCache.Close()
		latestCache = reportCache
		progress = cacheProgressSink{cache: reportCache}
	}

	history := pipeline.NewHistory(cfg.Pipeline.HistoryCapacity)
	compiler := pipeline.NewCompiler(cfg.Analysis, history, repo, latestCache, logger)
	engine := pipeline.NewEngine(cfg.Pipeline, pipeline.EngineDeps{
		Filler:       healthstore.NewPager(store, cfg.Store.PageSize, cfg.Store.FetchesPerSecond, cfg.Store.FetchBurst),
		Analyzer:     analysis.NewAnalyzer(cfg.Analysis, logger),
		Trends:       analysis.NewTrendDetector(cfg.Analysis, logger),
		Patterns:     analysis.NewPatternRecognizer(cfg.Analysis, logger),
		Correlations: analysis.NewCorrelationEngine(cfg.Analysis, logger),
		Trainer:      training.NewTrainer(cfg.Training, registry, nil, logger),
		Compiler:     compiler,
		Progress:     progress,
		Metrics:      metrics,
	}, logger)

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	trigger := func() {
		deadline := time.Now().Add(cfg.Pipeline.DefaultDeadline)
		if engine.OnIdleWindow(deadline) {
			logger.Info("analysis run triggered", zap.Time("deadline", deadline))
		}
	}

	trigger()
	if once {
		waitForIdle(ctx, engine)
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			trigger()
		case <-ctx.Done():
			logger.Info("shutting down, cancelling in-flight run")
			engine.Cancel()
			waitForIdle(context.Background(), engine)
			return nil
		}
	}
}

// waitForIdle blocks until the engine finishes its current run.
func waitForIdle(ctx context.Context, engine *pipeline.Engine) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if engine.Idle() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}

// cacheProgressSink forwards engine progress into the Redis cache.
type cacheProgressSink struct {
	cache *cache.ReportCache
}

func (s cacheProgressSink) SetProgress(ctx context.Context, p pipeline.RunProgress) error {
	return s.cache.SetProgress(ctx, cache.RunProgress{
		Stage:            string(p.Stage),
		FractionComplete: p.FractionComplete,
	})
}
