// Package pipeline drives the background analysis run: it schedules work
// into idle windows, dispatches metric-level units across a bounded worker
// pool, and compiles stage outputs into immutable reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/health"
	"github.com/somnasync/health-insight-engine/internal/domain/insight"
	"github.com/somnasync/health-insight-engine/internal/domain/model"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/telemetry"
	"github.com/somnasync/health-insight-engine/internal/service/analysis"
	"github.com/somnasync/health-insight-engine/internal/service/training"
)

// Stage names one phase of the run, in execution order.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageFetch       Stage = "fetch"
	StageStatistics  Stage = "statistics"
	StageTrends      Stage = "trends"
	StagePatterns    Stage = "patterns"
	StageCorrelation Stage = "correlation"
	StageTraining    Stage = "training"
	StageCompile     Stage = "compile"
)

// stageFraction is the cumulative progress once a stage completes.
var stageFraction = map[Stage]float64{
	StageFetch:       0.15,
	StageStatistics:  0.30,
	StageTrends:      0.45,
	StagePatterns:    0.55,
	StageCorrelation: 0.70,
	StageTraining:    0.90,
	StageCompile:     1.00,
}

// StageEvent flows from the run loop to the aggregation loop when a stage
// finishes.
type StageEvent struct {
	Stage            Stage
	FractionComplete float64
}

// RunProgress is the externally visible position of the current run.
type RunProgress struct {
	Stage            Stage
	FractionComplete float64
}

// ProgressSink receives progress updates for out-of-process observers.
type ProgressSink interface {
	SetProgress(ctx context.Context, p RunProgress) error
}

// WindowFiller loads one metric's samples into an analysis window.
type WindowFiller interface {
	FillWindow(ctx context.Context, w *health.AnalysisWindow, metric health.MetricType) error
}

// Engine scheduler states. A second trigger while not idle is dropped.
const (
	engineIdle int32 = iota
	engineScheduled
	engineRunning
)

// EngineDeps bundles the stage implementations the engine drives. Progress
// and Metrics are optional.
type EngineDeps struct {
	Filler       WindowFiller
	Analyzer     *analysis.Analyzer
	Trends       *analysis.TrendDetector
	Patterns     *analysis.PatternRecognizer
	Correlations *analysis.CorrelationEngine
	Trainer      *training.Trainer
	Compiler     *Compiler
	Progress     ProgressSink
	Metrics      *telemetry.Metrics
}

// Engine owns the run lifecycle: Idle -> Scheduled -> Running and back to
// Idle via completion, cancellation, or deadline expiry. At most one run is
// in flight; results are read through ok-form accessors.
type Engine struct {
	cfg    config.PipelineConfig
	deps   EngineDeps
	pool   *Pool
	logger *zap.Logger
	clock  func() time.Time

	state    atomic.Int32
	progress atomic.Value // RunProgress

	mu             sync.Mutex
	cancelRun      context.CancelFunc
	cancelled      bool
	lastAnalyzedAt time.Time
}

// NewEngine creates an idle engine.
func NewEngine(cfg config.PipelineConfig, deps EngineDeps, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		pool:   NewPool(cfg.Workers),
		logger: logger.Named("engine"),
		clock:  time.Now,
	}
	e.progress.Store(RunProgress{Stage: StageIdle})
	return e
}

// OnIdleWindow triggers one analysis run that must finish by deadline. A
// zero deadline uses the configured default. Returns false when a run is
// already in flight; the trigger is dropped, never queued.
func (e *Engine) OnIdleWindow(deadline time.Time) bool {
	if !e.state.CompareAndSwap(engineIdle, engineScheduled) {
		e.logger.Debug("idle window trigger dropped, run in flight")
		if e.deps.Metrics != nil {
			e.deps.Metrics.RunsDropped.Inc()
		}
		return false
	}

	if deadline.IsZero() {
		deadline = e.clock().Add(e.cfg.DefaultDeadline)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)

	e.mu.Lock()
	e.cancelRun = cancel
	e.cancelled = false
	e.mu.Unlock()

	go e.run(ctx, cancel)
	return true
}

// Cancel stops the in-flight run at the next stage boundary. Committed
// model artifacts and previously published reports are untouched. Safe to
// call when idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelRun != nil {
		e.cancelled = true
		e.cancelRun()
	}
}

// Results returns the most recent report, if any run has produced one.
func (e *Engine) Results() (insight.AnalysisReport, bool) {
	return e.deps.Compiler.history.Latest()
}

// Idle reports whether no run is scheduled or in flight.
func (e *Engine) Idle() bool {
	return e.state.Load() == engineIdle
}

// Progress reports where the current run is. Idle when no run is active.
func (e *Engine) Progress() RunProgress {
	return e.progress.Load().(RunProgress)
}

// LastAnalyzedAt returns when the last run published a report.
func (e *Engine) LastAnalyzedAt() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAnalyzedAt, !e.lastAnalyzedAt.IsZero()
}

func (e *Engine) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	e.state.Store(engineRunning)
	if e.deps.Metrics != nil {
		e.deps.Metrics.RunsStarted.Inc()
	}

	events := make(chan StageEvent, e.cfg.EventBuffer)
	aggregated := make(chan struct{})
	go e.aggregate(events, aggregated)

	outcome := e.execute(ctx, events)

	close(events)
	<-aggregated
	e.progress.Store(RunProgress{Stage: StageIdle})

	if e.deps.Metrics != nil {
		switch outcome {
		case "completed":
			e.deps.Metrics.RunsCompleted.Inc()
		case "expired":
			e.deps.Metrics.RunsExpired.Inc()
		case "cancelled":
			e.deps.Metrics.RunsCancelled.Inc()
		default:
			e.deps.Metrics.RunsAborted.Inc()
		}
	}
	e.logger.Info("run finished", zap.String("outcome", outcome))

	e.mu.Lock()
	e.cancelRun = nil
	e.mu.Unlock()
	e.state.Store(engineIdle)
}

// aggregate consumes stage-completion events and republishes them as
// progress, in-process and to the optional sink.
func (e *Engine) aggregate(events <-chan StageEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		p := RunProgress{Stage: ev.Stage, FractionComplete: ev.FractionComplete}
		e.progress.Store(p)
		if e.deps.Progress != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := e.deps.Progress.SetProgress(ctx, p); err != nil {
				e.logger.Debug("progress sink update failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// runState accumulates stage outputs so an expired run can still compile
// whatever finished.
type runState struct {
	window    *health.AnalysisWindow
	in        CompilerInputs
	corrupted error
}

func (e *Engine) execute(ctx context.Context, events chan<- StageEvent) string {
	now := e.clock().UTC()
	window, err := health.NewAnalysisWindow(now.Add(-e.cfg.WindowSpan), now)
	if err != nil {
		e.logger.Error("run aborted", zap.Error(err))
		return "aborted"
	}
	state := &runState{window: window}

	stages := []struct {
		name Stage
		fn   func(context.Context, *runState)
	}{
		{StageFetch, e.fetchStage},
		{StageStatistics, e.statisticsStage},
		{StageTrends, e.trendStage},
		{StagePatterns, e.patternStage},
		{StageCorrelation, e.correlationStage},
		{StageTraining, e.trainingStage},
	}

	for _, stage := range stages {
		if outcome, interrupted := e.checkDeadline(ctx, stage.name, state); interrupted {
			return outcome
		}
		started := e.clock()
		stage.fn(ctx, state)
		if state.corrupted != nil {
			// A corrupted window cannot be trusted for any later stage.
			e.logger.Error("run aborted", zap.String("stage", string(stage.name)), zap.Error(state.corrupted))
			return "aborted"
		}
		if e.deps.Metrics != nil {
			e.deps.Metrics.StageDuration.WithLabelValues(string(stage.name)).
				Observe(e.clock().Sub(started).Seconds())
		}
		events <- StageEvent{Stage: stage.name, FractionComplete: stageFraction[stage.name]}
	}

	if outcome, interrupted := e.checkDeadline(ctx, StageCompile, state); interrupted {
		return outcome
	}
	e.compileAndPublish(state)
	events <- StageEvent{Stage: StageCompile, FractionComplete: stageFraction[StageCompile]}
	return "completed"
}

// checkDeadline decides what an interrupted run does. Expiry checkpoints
// the partial output as a report; explicit cancellation discards it and
// keeps the previous report authoritative.
func (e *Engine) checkDeadline(ctx context.Context, next Stage, state *runState) (string, bool) {
	err := ctx.Err()
	if err == nil {
		return "", false
	}

	e.mu.Lock()
	cancelled := e.cancelled
	e.mu.Unlock()

	if cancelled && !errors.Is(err, context.DeadlineExceeded) {
		e.logger.Info("run cancelled", zap.String("before_stage", string(next)))
		return "cancelled", true
	}

	state.in.Warnings = append(state.in.Warnings,
		fmt.Sprintf("run deadline expired before %s stage; report compiled from partial output", next))
	e.logger.Warn("run expired, checkpointing partial output", zap.String("before_stage", string(next)))
	e.compileAndPublish(state)
	return "expired", true
}

func (e *Engine) compileAndPublish(state *runState) {
	report := e.deps.Compiler.Compile(state.in)

	// Publishing must survive the run deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.deps.Compiler.Publish(ctx, report)

	if e.deps.Metrics != nil {
		e.deps.Metrics.SignificantFindings.Set(float64(report.SignificantFindingCount))
	}
	e.mu.Lock()
	e.lastAnalyzedAt = report.Timestamp
	e.mu.Unlock()
}

// fetchStage pulls every metric's samples through the store adapter, one
// worker per metric, each into a private window so fills never contend.
// Metrics whose fetch fails are excluded from the run with a warning.
func (e *Engine) fetchStage(ctx context.Context, state *runState) {
	metrics := health.AllMetrics()
	partials := make([]*health.AnalysisWindow, len(metrics))

	tasks := make([]Task, len(metrics))
	for i, m := range metrics {
		i, m := i, m
		tasks[i] = func(ctx context.Context) error {
			partial, err := health.NewAnalysisWindow(state.window.Start, state.window.End)
			if err != nil {
				return err
			}
			if err := e.deps.Filler.FillWindow(ctx, partial, m); err != nil {
				return err
			}
			partials[i] = partial
			return nil
		}
	}
	errs := e.pool.Run(ctx, tasks)

	for i, m := range metrics {
		switch {
		case errs[i] == nil:
			samples := partials[i].Samples(m)
			if len(samples) == 0 {
				continue
			}
			if err := state.window.AddSamples(m, samples); err != nil {
				e.excludeMetric(state, m, err)
			}
		case errors.Is(errs[i], context.Canceled) || errors.Is(errs[i], context.DeadlineExceeded):
			// The boundary check decides what an interrupted run does.
		default:
			e.excludeMetric(state, m, errs[i])
		}
	}
	state.in.Analyzed = state.window.Metrics()
}

func (e *Engine) excludeMetric(state *runState, m health.MetricType, err error) {
	if apperrors.IsCacheCorrupted(err) {
		state.corrupted = err
		return
	}
	state.in.Excluded = append(state.in.Excluded, m)
	state.in.Warnings = append(state.in.Warnings, fmt.Sprintf("metric %s excluded: %v", m, err))
	e.logger.Warn("metric excluded from run", zap.String("metric", m.String()), zap.Error(err))
	if e.deps.Metrics != nil {
		e.deps.Metrics.MetricsExcluded.Inc()
		e.deps.Metrics.StageFailures.WithLabelValues(string(StageFetch), errorType(err)).Inc()
	}
}

func (e *Engine) statisticsStage(ctx context.Context, state *runState) {
	metrics := state.window.Metrics()
	results := make([]insight.MetricSummary, len(metrics))

	tasks := make([]Task, len(metrics))
	for i, m := range metrics {
		i, m := i, m
		tasks[i] = func(context.Context) error {
			summary, err := e.deps.Analyzer.Summarize(m, state.window.Samples(m))
			if err != nil {
				return err
			}
			results[i] = summary
			return nil
		}
	}
	errs := e.pool.Run(ctx, tasks)

	for i, m := range metrics {
		switch {
		case errs[i] == nil:
			state.in.Summaries = append(state.in.Summaries, results[i])
		case apperrors.IsInsufficientSamples(errs[i]):
			state.in.Warnings = append(state.in.Warnings,
				fmt.Sprintf("metric %s skipped by statistics: %v", m, errs[i]))
		case errors.Is(errs[i], context.Canceled) || errors.Is(errs[i], context.DeadlineExceeded):
		default:
			e.stageFailure(StageStatistics, m, errs[i], state)
		}
	}
}

func (e *Engine) trendStage(ctx context.Context, state *runState) {
	metrics := state.window.Metrics()
	results := make([]insight.Trend, len(metrics))
	produced := make([]bool, len(metrics))

	tasks := make([]Task, len(metrics))
	for i, m := range metrics {
		i, m := i, m
		tasks[i] = func(context.Context) error {
			trend, err := e.deps.Trends.Detect(m, state.window.Samples(m), state.window.Start, state.window.End)
			if err != nil {
				return err
			}
			results[i] = trend
			produced[i] = true
			return nil
		}
	}
	errs := e.pool.Run(ctx, tasks)

	for i, m := range metrics {
		switch {
		case errs[i] == nil && produced[i]:
			state.in.Trends = append(state.in.Trends, results[i])
		case errs[i] == nil, apperrors.IsInsufficientSamples(errs[i]):
		case errors.Is(errs[i], context.Canceled) || errors.Is(errs[i], context.DeadlineExceeded):
		default:
			e.stageFailure(StageTrends, m, errs[i], state)
		}
	}
}

func (e *Engine) patternStage(ctx context.Context, state *runState) {
	state.in.Patterns = e.deps.Patterns.Recognize(ctx, state.window)
}

func (e *Engine) correlationStage(ctx context.Context, state *runState) {
	pairs := analysis.Pairs(state.window.Metrics())
	results := make([]insight.Correlation, len(pairs))
	produced := make([]bool, len(pairs))

	tasks := make([]Task, len(pairs))
	for i, pair := range pairs {
		i, pair := i, pair
		tasks[i] = func(context.Context) error {
			c, err := e.deps.Correlations.Analyze(pair,
				state.window.Samples(pair.A), state.window.Samples(pair.B))
			if err != nil {
				return err
			}
			results[i] = c
			produced[i] = true
			return nil
		}
	}
	errs := e.pool.Run(ctx, tasks)

	for i, pair := range pairs {
		switch {
		case errs[i] == nil && produced[i]:
			state.in.Correlations = append(state.in.Correlations, results[i])
		case errs[i] == nil, apperrors.IsInsufficientSamples(errs[i]):
		case errors.Is(errs[i], context.Canceled) || errors.Is(errs[i], context.DeadlineExceeded):
		default:
			e.stageFailure(StageCorrelation, pair.A, errs[i], state)
		}
	}
}

func (e *Engine) trainingStage(ctx context.Context, state *runState) {
	tolerance := e.deps.Compiler.cfg.AlignmentTolerance
	sets := map[model.ModelType]training.FeatureSet{
		model.ModelSleepQuality:     training.SleepQualityFeatures(state.window, tolerance),
		model.ModelTrendForecast:    training.ForecastFeatures(state.window),
		model.ModelAnomalyDetection: training.AnomalyFeatures(state.window, state.in.Summaries),
		model.ModelRecommendation:   training.RecommendationFeatures(state.window),
	}

	state.in.Training = e.deps.Trainer.Run(ctx, sets)

	if e.deps.Metrics != nil {
		for _, artifact := range state.in.Training.Artifacts {
			e.deps.Metrics.ModelsTrained.WithLabelValues(string(artifact.ModelType)).Inc()
		}
		for mt := range state.in.Training.Failures {
			e.deps.Metrics.TrainingFailures.WithLabelValues(string(mt)).Inc()
		}
	}
}

func (e *Engine) stageFailure(stage Stage, m health.MetricType, err error, state *runState) {
	if apperrors.IsCacheCorrupted(err) {
		state.corrupted = err
		return
	}
	state.in.Warnings = append(state.in.Warnings, fmt.Sprintf("%s stage failed for %s: %v", stage, m, err))
	e.logger.Error("stage unit failed",
		zap.String("stage", string(stage)),
		zap.String("metric", m.String()),
		zap.Error(err))
	if e.deps.Metrics != nil {
		e.deps.Metrics.StageFailures.WithLabelValues(string(stage), errorType(err)).Inc()
	}
}

func errorType(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Type)
	}
	return "internal"
}
