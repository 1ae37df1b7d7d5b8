package training

import (
	"context"
	"fmt"
	"sync"

	"github.com/somnasync/health-insight-engine/internal/domain/model"
)

// MemoryRegistry is an in-process append-only artifact store. It backs
// deployments without Postgres and every trainer test. Writes are
// serialized; reads share an RWMutex.
type MemoryRegistry struct {
	mu        sync.RWMutex
	artifacts map[model.ModelType][]model.Artifact
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{artifacts: make(map[model.ModelType][]model.Artifact)}
}

// Append adds a new artifact version. Versions must be strictly
// increasing; re-appending an existing version is an error, never an
// overwrite.
func (r *MemoryRegistry) Append(_ context.Context, artifact model.Artifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.artifacts[artifact.ModelType]
	if len(existing) > 0 && artifact.Version <= existing[len(existing)-1].Version {
		return fmt.Errorf("artifact %s v%d already registered", artifact.ModelType, artifact.Version)
	}
	r.artifacts[artifact.ModelType] = append(existing, artifact)
	return nil
}

// Latest returns the newest artifact for a model type.
func (r *MemoryRegistry) Latest(_ context.Context, modelType model.ModelType) (model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.artifacts[modelType]
	if len(versions) == 0 {
		return model.Artifact{}, model.ErrNoArtifact
	}
	return versions[len(versions)-1], nil
}

// Versions returns every artifact for a model type, oldest first.
func (r *MemoryRegistry) Versions(_ context.Context, modelType model.ModelType) ([]model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Artifact(nil), r.artifacts[modelType]...), nil
}
