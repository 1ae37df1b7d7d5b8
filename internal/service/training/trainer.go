package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/model"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
)

// ArtifactStore is where trained artifacts go. Latest must return
// model.ErrNoArtifact for a never-trained model type.
type ArtifactStore interface {
	Append(ctx context.Context, artifact model.Artifact) error
	Latest(ctx context.Context, modelType model.ModelType) (model.Artifact, error)
}

// Model is one fittable predictor. Score reports holdout accuracy; ok is
// false when the model cannot produce a meaningful score, in which case the
// trainer substitutes the feature-count fallback.
type Model interface {
	Fit(train []Observation) error
	Score(holdout []Observation) (accuracy float64, ok bool)
}

// ModelFactory builds a fresh Model for one training run.
type ModelFactory func(modelType model.ModelType, featureCount int) Model

// FallbackAccuracy estimates accuracy from feature richness alone, for
// models that cannot score a holdout set.
func FallbackAccuracy(featureCount int) float64 {
	return clamp01(0.5 + 0.02*float64(featureCount))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Trainer runs the per-model-type training state machine. States move
// Untrained -> Training -> Trained, then Retraining on subsequent runs; any
// failure lands in Stale and leaves the previous registry artifact
// authoritative.
type Trainer struct {
	cfg     config.TrainingConfig
	store   ArtifactStore
	factory ModelFactory
	logger  *zap.Logger
	clock   func() time.Time

	mu     sync.Mutex
	states map[model.ModelType]model.State
}

// NewTrainer creates a trainer over the given artifact store. A nil factory
// uses the built-in linear scorer.
func NewTrainer(cfg config.TrainingConfig, store ArtifactStore, factory ModelFactory, logger *zap.Logger) *Trainer {
	if factory == nil {
		factory = func(model.ModelType, int) Model { return &linearScorer{} }
	}
	return &Trainer{
		cfg:     cfg,
		store:   store,
		factory: factory,
		logger:  logger.Named("trainer"),
		clock:   time.Now,
		states:  make(map[model.ModelType]model.State),
	}
}

// State returns the lifecycle state of one model type.
func (t *Trainer) State(modelType model.ModelType) model.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state(modelType)
}

func (t *Trainer) state(modelType model.ModelType) model.State {
	if s, ok := t.states[modelType]; ok {
		return s
	}
	return model.StateUntrained
}

// begin moves the model into Training or Retraining, rejecting concurrent
// runs for the same model type.
func (t *Trainer) begin(modelType model.ModelType) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.state(modelType)
	next := model.StateRetraining
	if current == model.StateUntrained {
		next = model.StateTraining
	}
	if !current.CanTransition(next) {
		return apperrors.NewTrainingFailureError(string(modelType),
			fmt.Sprintf("cannot start training from state %s", current))
	}
	t.states[modelType] = next
	return nil
}

func (t *Trainer) finish(modelType model.ModelType, outcome model.State) {
	t.mu.Lock()
	t.states[modelType] = outcome
	t.mu.Unlock()
}

// Train fits one model type on a feature set, validates on a holdout split,
// and appends a new artifact version. On any failure the state becomes
// Stale and no artifact is written.
func (t *Trainer) Train(ctx context.Context, fs FeatureSet) (model.Artifact, error) {
	if err := t.begin(fs.ModelType); err != nil {
		return model.Artifact{}, err
	}

	artifact, err := t.train(ctx, fs)
	if err != nil {
		t.finish(fs.ModelType, model.StateStale)
		t.logger.Warn("training failed",
			zap.String("model_type", string(fs.ModelType)),
			zap.Error(err))
		return model.Artifact{}, err
	}

	t.finish(fs.ModelType, model.StateTrained)
	t.logger.Info("model trained",
		zap.String("model_type", string(artifact.ModelType)),
		zap.Int("version", artifact.Version),
		zap.Float64("accuracy", artifact.Accuracy),
		zap.Int("sample_count", artifact.SampleCount))
	return artifact, nil
}

func (t *Trainer) train(ctx context.Context, fs FeatureSet) (model.Artifact, error) {
	n := len(fs.Observations)
	if n < t.cfg.MinSamples {
		return model.Artifact{}, apperrors.NewInsufficientSamplesError(
			string(fs.ModelType), "training", n, t.cfg.MinSamples)
	}

	holdoutLen := int(float64(n) * t.cfg.ValidationSplit)
	train := fs.Observations[:n-holdoutLen]
	holdout := fs.Observations[n-holdoutLen:]

	m := t.factory(fs.ModelType, fs.FeatureCount())
	if err := m.Fit(train); err != nil {
		return model.Artifact{}, apperrors.NewTrainingFailureError(string(fs.ModelType), err.Error()).WithCause(err)
	}

	accuracy, scored := m.Score(holdout)
	if !scored {
		accuracy = FallbackAccuracy(fs.FeatureCount())
	}
	if math.IsNaN(accuracy) {
		return model.Artifact{}, apperrors.NewTrainingFailureError(string(fs.ModelType), "model produced NaN accuracy")
	}

	version := 1
	switch latest, err := t.store.Latest(ctx, fs.ModelType); {
	case err == nil:
		version = latest.Version + 1
	case errors.Is(err, model.ErrNoArtifact):
	default:
		return model.Artifact{}, apperrors.Wrap(err, "reading latest artifact version")
	}

	artifact := model.Artifact{
		ModelType:            fs.ModelType,
		Version:              version,
		Accuracy:             accuracy,
		TrainedAt:            t.clock().UTC(),
		FeatureSchemaVersion: fs.SchemaVersion,
		FeatureCount:         fs.FeatureCount(),
		SampleCount:          n,
	}
	if scored {
		artifact.Precision, artifact.Recall, artifact.F1 = binaryMetrics(m, holdout)
	}

	if err := artifact.Validate(); err != nil {
		return model.Artifact{}, apperrors.NewTrainingFailureError(string(fs.ModelType), err.Error()).WithCause(err)
	}
	if err := t.store.Append(ctx, artifact); err != nil {
		return model.Artifact{}, apperrors.NewTrainingFailureError(string(fs.ModelType), "appending artifact").WithCause(err)
	}
	return artifact, nil
}

// RunResult is the outcome of training every model type once.
type RunResult struct {
	Artifacts    []model.Artifact
	Failures     map[model.ModelType]error
	MeanAccuracy float64
}

// Run trains every feature set in the canonical model order. Individual
// failures do not abort the run. MeanAccuracy averages the accuracies of
// the models that trained.
func (t *Trainer) Run(ctx context.Context, sets map[model.ModelType]FeatureSet) RunResult {
	result := RunResult{Failures: make(map[model.ModelType]error)}
	var sum float64
	for _, mt := range model.AllModelTypes() {
		fs, ok := sets[mt]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Failures[mt] = err
			continue
		}
		artifact, err := t.Train(ctx, fs)
		if err != nil {
			result.Failures[mt] = err
			continue
		}
		result.Artifacts = append(result.Artifacts, artifact)
		sum += artifact.Accuracy
	}
	if len(result.Artifacts) > 0 {
		result.MeanAccuracy = sum / float64(len(result.Artifacts))
	}
	return result
}

// predictor is implemented by models whose point predictions can feed the
// binary precision/recall/F1 metrics.
type predictor interface {
	Predict(features []float64) float64
}

// binaryMetrics computes precision, recall, and F1 over a binary-labeled
// holdout. Non-binary label sets yield zeros and the artifact omits them.
func binaryMetrics(m Model, holdout []Observation) (precision, recall, f1 float64) {
	p, ok := m.(predictor)
	if !ok {
		return 0, 0, 0
	}
	for _, o := range holdout {
		if o.Label != 0 && o.Label != 1 {
			return 0, 0, 0
		}
	}

	var tp, fp, fn float64
	for _, o := range holdout {
		predicted := p.Predict(o.Features) >= 0.5
		actual := o.Label == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// linearScorer is the built-in model: an ensemble of univariate least
// squares fits. Each feature with variance contributes its own slope
// estimate; the prediction averages their contributions around the label
// mean. It is deliberately simple; the pipeline cares about the artifact
// lifecycle, not squeezing accuracy.
type linearScorer struct {
	featureMeans []float64
	weights      []float64
	labelMean    float64
	active       int
}

func (s *linearScorer) Fit(train []Observation) error {
	if len(train) == 0 {
		return fmt.Errorf("empty training split")
	}
	width := len(train[0].Features)

	labels := make([]float64, len(train))
	for i, o := range train {
		if len(o.Features) != width {
			return fmt.Errorf("ragged observation: %d features, want %d", len(o.Features), width)
		}
		labels[i] = o.Label
	}
	s.labelMean = stat.Mean(labels, nil)
	s.featureMeans = make([]float64, width)
	s.weights = make([]float64, width)

	column := make([]float64, len(train))
	for j := 0; j < width; j++ {
		for i, o := range train {
			column[i] = o.Features[j]
		}
		s.featureMeans[j] = stat.Mean(column, nil)
		if variance := stat.Variance(column, nil); variance > 0 {
			s.weights[j] = stat.Covariance(column, labels, nil) / variance
			s.active++
		}
	}
	return nil
}

func (s *linearScorer) Predict(features []float64) float64 {
	if s.active == 0 {
		return s.labelMean
	}
	sum := 0.0
	for j, w := range s.weights {
		if w != 0 && j < len(features) {
			sum += w * (features[j] - s.featureMeans[j])
		}
	}
	return s.labelMean + sum/float64(s.active)
}

// Score counts holdout predictions landing within half a unit of the
// label, which is exact-match accuracy for integer-coded labels.
func (s *linearScorer) Score(holdout []Observation) (float64, bool) {
	if len(holdout) == 0 || s.active == 0 {
		return 0, false
	}
	hits := 0
	for _, o := range holdout {
		if math.Abs(s.Predict(o.Features)-o.Label) <= 0.5 {
			hits++
		}
	}
	return float64(hits) / float64(len(holdout)), true
}
