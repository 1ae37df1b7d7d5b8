// Package model defines the predictive model types, the per-model training
// state machine, and the immutable versioned artifacts the trainer produces.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoArtifact is returned by registries when a model type has never been
// trained. Callers start the version sequence at 1 when they see it.
var ErrNoArtifact = errors.New("no artifact for model type")

// ModelType identifies one of the predictive models the trainer maintains.
type ModelType string

const (
	ModelSleepQuality     ModelType = "sleep_quality"
	ModelTrendForecast    ModelType = "trend_forecast"
	ModelAnomalyDetection ModelType = "anomaly_detection"
	ModelRecommendation   ModelType = "recommendation"
)

// AllModelTypes lists the models trained on every run, in training order.
func AllModelTypes() []ModelType {
	return []ModelType{ModelSleepQuality, ModelTrendForecast, ModelAnomalyDetection, ModelRecommendation}
}

// State is the lifecycle state of one model type.
type State string

const (
	StateUntrained  State = "untrained"
	StateTraining   State = "training"
	StateTrained    State = "trained"
	StateRetraining State = "retraining"
	StateStale      State = "stale"
)

// CanTransition reports whether the state machine permits moving to next.
//
//	Untrained -> Training
//	Training  -> Trained | Stale
//	Trained   -> Retraining | Stale
//	Retraining -> Trained | Stale
//	Stale     -> Retraining
func (s State) CanTransition(next State) bool {
	switch s {
	case StateUntrained:
		return next == StateTraining
	case StateTraining:
		return next == StateTrained || next == StateStale
	case StateTrained:
		return next == StateRetraining || next == StateStale
	case StateRetraining:
		return next == StateTrained || next == StateStale
	case StateStale:
		return next == StateRetraining
	}
	return false
}

// FeatureSchemaVersion is the current engineered-feature layout. Version 1
// covers heart rate, HRV, movement, blood oxygen, body temperature,
// respiratory rate, time of night, and previous sleep stage.
const FeatureSchemaVersion = 1

// Artifact is one trained, versioned, immutable snapshot of a model. A new
// version supersedes but never mutates the prior one; the registry is
// append-only.
type Artifact struct {
	ModelType            ModelType `json:"model_type"`
	Version              int       `json:"version"`
	Accuracy             float64   `json:"accuracy"`
	Precision            float64   `json:"precision,omitempty"`
	Recall               float64   `json:"recall,omitempty"`
	F1                   float64   `json:"f1,omitempty"`
	TrainedAt            time.Time `json:"trained_at"`
	FeatureSchemaVersion int       `json:"feature_schema_version"`
	FeatureCount         int       `json:"feature_count"`
	SampleCount          int       `json:"sample_count"`
}

// Validate checks the artifact is well-formed before it is appended to the
// registry. Accuracy must be a real number in [0,1]; an undefined accuracy
// would poison every downstream average.
func (a Artifact) Validate() error {
	if a.ModelType == "" {
		return fmt.Errorf("artifact model type is required")
	}
	if a.Version < 1 {
		return fmt.Errorf("artifact version must be >= 1, got %d", a.Version)
	}
	if a.Accuracy != a.Accuracy { // NaN
		return fmt.Errorf("artifact accuracy is NaN")
	}
	if a.Accuracy < 0 || a.Accuracy > 1 {
		return fmt.Errorf("artifact accuracy %f outside [0,1]", a.Accuracy)
	}
	if a.TrainedAt.IsZero() {
		return fmt.Errorf("artifact trained_at is required")
	}
	return nil
}
