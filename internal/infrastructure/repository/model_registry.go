package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/domain/model"
)

// ModelRegistry is the Postgres-backed append-only registry of model
// artifacts, keyed by (model_type, version). Rows are never updated or
// deleted; a new version supersedes the prior one.
type ModelRegistry struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewModelRegistry wraps a connection pool.
func NewModelRegistry(pool *pgxpool.Pool, logger *zap.Logger) *ModelRegistry {
	return &ModelRegistry{pool: pool, logger: logger}
}

// Append inserts a new artifact version. The primary key on
// (model_type, version) makes concurrent duplicate appends fail loudly
// instead of silently overwriting.
func (r *ModelRegistry) Append(ctx context.Context, artifact model.Artifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO model_artifacts
			(model_type, version, accuracy, precision_score, recall, f1,
			 trained_at, feature_schema_version, feature_count, sample_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		artifact.ModelType, artifact.Version, artifact.Accuracy,
		artifact.Precision, artifact.Recall, artifact.F1,
		artifact.TrainedAt, artifact.FeatureSchemaVersion,
		artifact.FeatureCount, artifact.SampleCount)
	if err != nil {
		return fmt.Errorf("appending artifact %s v%d: %w", artifact.ModelType, artifact.Version, err)
	}

	r.logger.Info("model artifact appended",
		zap.String("model_type", string(artifact.ModelType)),
		zap.Int("version", artifact.Version),
		zap.Float64("accuracy", artifact.Accuracy))
	return nil
}

// Latest returns the highest version for a model type, or
// model.ErrNoArtifact for a never-trained model.
func (r *ModelRegistry) Latest(ctx context.Context, modelType model.ModelType) (model.Artifact, error) {
	var a model.Artifact
	err := r.pool.QueryRow(ctx, `
		SELECT model_type, version, accuracy, precision_score, recall, f1,
		       trained_at, feature_schema_version, feature_count, sample_count
		FROM model_artifacts
		WHERE model_type = $1
		ORDER BY version DESC
		LIMIT 1`, modelType).Scan(
		&a.ModelType, &a.Version, &a.Accuracy, &a.Precision, &a.Recall, &a.F1,
		&a.TrainedAt, &a.FeatureSchemaVersion, &a.FeatureCount, &a.SampleCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Artifact{}, model.ErrNoArtifact
		}
		return model.Artifact{}, fmt.Errorf("querying latest artifact for %s: %w", modelType, err)
	}
	return a, nil
}

// Versions returns every artifact for a model type, oldest first.
func (r *ModelRegistry) Versions(ctx context.Context, modelType model.ModelType) ([]model.Artifact, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT model_type, version, accuracy, precision_score, recall, f1,
		       trained_at, feature_schema_version, feature_count, sample_count
		FROM model_artifacts
		WHERE model_type = $1
		ORDER BY version`, modelType)
	if err != nil {
		return nil, fmt.Errorf("querying artifact versions for %s: %w", modelType, err)
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(
			&a.ModelType, &a.Version, &a.Accuracy, &a.Precision, &a.Recall, &a.F1,
			&a.TrainedAt, &a.FeatureSchemaVersion, &a.FeatureCount, &a.SampleCount); err != nil {
			return nil, fmt.Errorf("scanning artifact row: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
