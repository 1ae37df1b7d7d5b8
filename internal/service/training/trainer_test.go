package training

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/somnasync/health-insight-engine/internal/domain/errors"
	"github.com/somnasync/health-insight-engine/internal/domain/model"
	"github.com/somnasync/health-insight-engine/internal/infrastructure/config"
)

type stubModel struct {
	fitErr   error
	accuracy float64
	scored   bool
}

func (m *stubModel) Fit([]Observation) error            { return m.fitErr }
func (m *stubModel) Score([]Observation) (float64, bool) { return m.accuracy, m.scored }

func testTrainingConfig(t *testing.T) config.TrainingConfig {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg.Training
}

func makeFeatureSet(mt model.ModelType, featureCount, n int) FeatureSet {
	names := make([]string, featureCount)
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i)
	}
	fs := FeatureSet{ModelType: mt, SchemaVersion: model.FeatureSchemaVersion, Names: names}
	for i := 0; i < n; i++ {
		features := make([]float64, featureCount)
		for j := range features {
			features[j] = float64(i + j)
		}
		fs.Observations = append(fs.Observations, Observation{Features: features, Label: float64(i % 2)})
	}
	return fs
}

func stubFactory(models map[model.ModelType]*stubModel) ModelFactory {
	return func(mt model.ModelType, _ int) Model { return models[mt] }
}

func TestTrainAppendsVersionedArtifacts(t *testing.T) {
	registry := NewMemoryRegistry()
	factory := stubFactory(map[model.ModelType]*stubModel{
		model.ModelSleepQuality: {accuracy: 0.85, scored: true},
	})
	tr := NewTrainer(testTrainingConfig(t), registry, factory, zaptest.NewLogger(t))
	fs := makeFeatureSet(model.ModelSleepQuality, 8, 50)

	first, err := tr.Train(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 0.85, first.Accuracy)
	assert.Equal(t, model.FeatureSchemaVersion, first.FeatureSchemaVersion)
	assert.Equal(t, 8, first.FeatureCount)
	assert.Equal(t, 50, first.SampleCount)
	assert.False(t, first.TrainedAt.IsZero())
	assert.Equal(t, model.StateTrained, tr.State(model.ModelSleepQuality))

	second, err := tr.Train(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := registry.Latest(context.Background(), model.ModelSleepQuality)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	versions, err := registry.Versions(context.Background(), model.ModelSleepQuality)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestTrainFallbackAccuracyMean(t *testing.T) {
	registry := NewMemoryRegistry()
	factory := stubFactory(map[model.ModelType]*stubModel{
		model.ModelSleepQuality:  {accuracy: 0.9, scored: true},
		model.ModelTrendForecast: {scored: false},
	})
	tr := NewTrainer(testTrainingConfig(t), registry, factory, zaptest.NewLogger(t))

	// The forecast model cannot score its holdout, so its accuracy is the
	// feature-count fallback: 0.5 + 0.02*4 = 0.58.
	sets := map[model.ModelType]FeatureSet{
		model.ModelSleepQuality:  makeFeatureSet(model.ModelSleepQuality, 8, 40),
		model.ModelTrendForecast: makeFeatureSet(model.ModelTrendForecast, 4, 40),
	}
	result := tr.Run(context.Background(), sets)

	require.Empty(t, result.Failures)
	require.Len(t, result.Artifacts, 2)
	assert.InDelta(t, 0.79, result.MeanAccuracy, 1e-4)

	forecast, err := registry.Latest(context.Background(), model.ModelTrendForecast)
	require.NoError(t, err)
	assert.InDelta(t, 0.58, forecast.Accuracy, 1e-9)
}

func TestFallbackAccuracy(t *testing.T) {
	assert.InDelta(t, 0.5, FallbackAccuracy(0), 1e-9)
	assert.InDelta(t, 0.58, FallbackAccuracy(4), 1e-9)
	assert.InDelta(t, 0.66, FallbackAccuracy(8), 1e-9)
	assert.Equal(t, 1.0, FallbackAccuracy(30))
}

func TestTrainFailureKeepsPreviousArtifact(t *testing.T) {
	registry := NewMemoryRegistry()
	good := &stubModel{accuracy: 0.8, scored: true}
	tr := NewTrainer(testTrainingConfig(t), registry,
		stubFactory(map[model.ModelType]*stubModel{model.ModelSleepQuality: good}),
		zaptest.NewLogger(t))
	fs := makeFeatureSet(model.ModelSleepQuality, 8, 40)

	_, err := tr.Train(context.Background(), fs)
	require.NoError(t, err)

	good.fitErr = fmt.Errorf("singular feature matrix")
	_, err = tr.Train(context.Background(), fs)
	require.Error(t, err)
	assert.True(t, errors.IsTrainingFailure(err))
	assert.Equal(t, model.StateStale, tr.State(model.ModelSleepQuality))

	latest, err := registry.Latest(context.Background(), model.ModelSleepQuality)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, 0.8, latest.Accuracy)
}

func TestTrainRecoversFromStale(t *testing.T) {
	registry := NewMemoryRegistry()
	m := &stubModel{fitErr: fmt.Errorf("diverged")}
	tr := NewTrainer(testTrainingConfig(t), registry,
		stubFactory(map[model.ModelType]*stubModel{model.ModelAnomalyDetection: m}),
		zaptest.NewLogger(t))
	fs := makeFeatureSet(model.ModelAnomalyDetection, 8, 40)

	_, err := tr.Train(context.Background(), fs)
	require.Error(t, err)
	assert.Equal(t, model.StateStale, tr.State(model.ModelAnomalyDetection))

	m.fitErr = nil
	m.accuracy, m.scored = 0.7, true
	artifact, err := tr.Train(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.Version)
	assert.Equal(t, model.StateTrained, tr.State(model.ModelAnomalyDetection))
}

func TestTrainInsufficientSamples(t *testing.T) {
	cfg := testTrainingConfig(t)
	registry := NewMemoryRegistry()
	tr := NewTrainer(cfg, registry, nil, zaptest.NewLogger(t))

	fs := makeFeatureSet(model.ModelRecommendation, 8, cfg.MinSamples-1)
	_, err := tr.Train(context.Background(), fs)
	assert.True(t, errors.IsInsufficientSamples(err))
	assert.Equal(t, model.StateStale, tr.State(model.ModelRecommendation))

	_, err = registry.Latest(context.Background(), model.ModelRecommendation)
	assert.ErrorIs(t, err, model.ErrNoArtifact)
}

func TestTrainRejectsNaNAccuracy(t *testing.T) {
	registry := NewMemoryRegistry()
	tr := NewTrainer(testTrainingConfig(t), registry,
		stubFactory(map[model.ModelType]*stubModel{model.ModelSleepQuality: {accuracy: math.NaN(), scored: true}}),
		zaptest.NewLogger(t))

	_, err := tr.Train(context.Background(), makeFeatureSet(model.ModelSleepQuality, 8, 40))
	require.Error(t, err)
	assert.True(t, errors.IsTrainingFailure(err))

	_, err = registry.Latest(context.Background(), model.ModelSleepQuality)
	assert.ErrorIs(t, err, model.ErrNoArtifact)
}

func TestRunPartialFailure(t *testing.T) {
	registry := NewMemoryRegistry()
	factory := stubFactory(map[model.ModelType]*stubModel{
		model.ModelSleepQuality:     {accuracy: 0.9, scored: true},
		model.ModelAnomalyDetection: {fitErr: fmt.Errorf("diverged")},
	})
	tr := NewTrainer(testTrainingConfig(t), registry, factory, zaptest.NewLogger(t))

	result := tr.Run(context.Background(), map[model.ModelType]FeatureSet{
		model.ModelSleepQuality:     makeFeatureSet(model.ModelSleepQuality, 8, 40),
		model.ModelAnomalyDetection: makeFeatureSet(model.ModelAnomalyDetection, 8, 40),
	})

	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, model.ModelSleepQuality, result.Artifacts[0].ModelType)
	require.Contains(t, result.Failures, model.ModelAnomalyDetection)
	assert.True(t, errors.IsTrainingFailure(result.Failures[model.ModelAnomalyDetection]))
	assert.InDelta(t, 0.9, result.MeanAccuracy, 1e-9)
}

func TestLinearScorerLearnsLinearLabel(t *testing.T) {
	s := &linearScorer{}
	var train, holdout []Observation
	for i := 0; i < 40; i++ {
		o := Observation{Features: []float64{float64(i), 5}, Label: float64(i % 4)}
		o.Features[0] = float64(i % 4) // label is exactly the first feature
		if i < 32 {
			train = append(train, o)
		} else {
			holdout = append(holdout, o)
		}
	}
	require.NoError(t, s.Fit(train))

	accuracy, ok := s.Score(holdout)
	require.True(t, ok)
	assert.Equal(t, 1.0, accuracy)
}

func TestLinearScorerConstantFeaturesCannotScore(t *testing.T) {
	s := &linearScorer{}
	var obs []Observation
	for i := 0; i < 30; i++ {
		obs = append(obs, Observation{Features: []float64{7, 7}, Label: float64(i % 2)})
	}
	require.NoError(t, s.Fit(obs))

	_, ok := s.Score(obs)
	assert.False(t, ok)
}
