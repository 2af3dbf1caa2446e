package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// Sentinel errors for model store operations
var (
	ErrModelNotFound      = fmt.Errorf("model not found: %w", apperrors.ErrNotFound)
	ErrNoActiveModel      = fmt.Errorf("no completed model for organization: %w", apperrors.ErrNotFound)
	ErrTrainingInProgress = fmt.Errorf("training already in progress: %w", apperrors.ErrConflict)
	ErrModelNotTraining   = fmt.Errorf("model is not in training state: %w", apperrors.ErrConflict)
)

// ModelStore is the model registry: training runs plus the per-organization active model pointer.
type ModelStore interface {
	// CreateTrainingModel records a new run in the training state.
	// Returns ErrTrainingInProgress if the organization already has a run in training.
	CreateTrainingModel(ctx context.Context, meta *models.ModelMetadata) error

	// GetModel returns a model owned by orgID.
	GetModel(ctx context.Context, orgID, modelID uuid.UUID) (*models.ModelMetadata, error)

	// LatestModel returns the most recently created run regardless of status.
	// Returns ErrModelNotFound if the organization has never trained.
	LatestModel(ctx context.Context, orgID uuid.UUID) (*models.ModelMetadata, error)

	// GetActiveModel returns the organization's active model pointer.
	// Returns ErrNoActiveModel if no run has completed.
	GetActiveModel(ctx context.Context, orgID uuid.UUID) (*models.ActiveModel, error)

	// CompleteModel records a run as completed and, in the same transaction, advances the
	// active model pointer if its version still equals expectedVersion. It reports whether
	// the pointer advanced.
	CompleteModel(ctx context.Context, meta *models.ModelMetadata, expectedVersion int64) (bool, error)

	// FailModel records a run as failed. The active model pointer is not touched.
	FailModel(ctx context.Context, orgID, modelID uuid.UUID, errorMessage string) error
}
