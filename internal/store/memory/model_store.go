package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

// ModelStore implements store.ModelStore using in-memory storage.
// A single mutex stands in for the transaction used by the postgres implementation.
type ModelStore struct {
	mu sync.RWMutex

	models map[uuid.UUID]*models.ModelMetadata // model_id -> ModelMetadata
	active map[uuid.UUID]*models.ActiveModel   // org_id -> ActiveModel
}

// NewModelStore creates a new in-memory model store.
func NewModelStore() *ModelStore {
	return &ModelStore{
		models: make(map[uuid.UUID]*models.ModelMetadata),
		active: make(map[uuid.UUID]*models.ActiveModel),
	}
}

// CreateTrainingModel records a new training run, rejecting it if one is already in flight.
func (s *ModelStore) CreateTrainingModel(ctx context.Context, meta *models.ModelMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.models {
		if m.OrgID == meta.OrgID && m.Status == models.ModelStatusTraining {
			return store.ErrTrainingInProgress
		}
	}

	meta.Status = models.ModelStatusTraining
	s.models[meta.ModelID] = cloneModel(meta)
	return nil
}

// GetModel returns a model owned by orgID.
func (s *ModelStore) GetModel(ctx context.Context, orgID, modelID uuid.UUID) (*models.ModelMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[modelID]
	if !ok || m.OrgID != orgID {
		return nil, store.ErrModelNotFound
	}
	return cloneModel(m), nil
}

// LatestModel returns the most recently created run for the organization.
func (s *ModelStore) LatestModel(ctx context.Context, orgID uuid.UUID) (*models.ModelMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.ModelMetadata
	for _, m := range s.models {
		if m.OrgID != orgID {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) ||
			(m.CreatedAt.Equal(latest.CreatedAt) && m.ModelID.String() > latest.ModelID.String()) {
			latest = m
		}
	}
	if latest == nil {
		return nil, store.ErrModelNotFound
	}
	return cloneModel(latest), nil
}

// GetActiveModel returns the organization's active model pointer.
func (s *ModelStore) GetActiveModel(ctx context.Context, orgID uuid.UUID) (*models.ActiveModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.active[orgID]
	if !ok {
		return nil, store.ErrNoActiveModel
	}
	clone := *a
	return &clone, nil
}

// CompleteModel marks the run completed and advances the active pointer if its version matches.
func (s *ModelStore) CompleteModel(ctx context.Context, meta *models.ModelMetadata, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.models[meta.ModelID]
	if !ok || existing.OrgID != meta.OrgID {
		return false, store.ErrModelNotFound
	}
	if existing.Status != models.ModelStatusTraining {
		return false, store.ErrModelNotTraining
	}

	now := time.Now()
	meta.Status = models.ModelStatusCompleted
	meta.CreatedAt = existing.CreatedAt
	if meta.TrainedAt == nil {
		meta.TrainedAt = &now
	}
	s.models[meta.ModelID] = cloneModel(meta)

	var currentVersion int64
	if a, ok := s.active[meta.OrgID]; ok {
		currentVersion = a.Version
	}
	if currentVersion != expectedVersion {
		log.Warn().
			Str("org_id", meta.OrgID.String()).
			Str("model_id", meta.ModelID.String()).
			Int64("expected_version", expectedVersion).
			Int64("current_version", currentVersion).
			Msg("Active model advanced by another run, leaving pointer unchanged")
		return false, nil
	}

	s.active[meta.OrgID] = &models.ActiveModel{
		OrgID:     meta.OrgID,
		ModelID:   meta.ModelID,
		Version:   currentVersion + 1,
		UpdatedAt: now,
	}
	return true, nil
}

// FailModel marks the run failed.
func (s *ModelStore) FailModel(ctx context.Context, orgID, modelID uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[modelID]
	if !ok || m.OrgID != orgID {
		return store.ErrModelNotFound
	}
	if m.IsTerminal() {
		return store.ErrModelNotTraining
	}

	now := time.Now()
	m.Status = models.ModelStatusFailed
	m.ErrorMessage = errorMessage
	m.TrainedAt = &now
	return nil
}

func cloneModel(m *models.ModelMetadata) *models.ModelMetadata {
	clone := *m
	if m.Metrics != nil {
		metrics := *m.Metrics
		clone.Metrics = &metrics
	}
	return &clone
}
