package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// Sentinel errors for prediction store operations
var (
	ErrBatchNotFound    = fmt.Errorf("prediction batch not found: %w", apperrors.ErrNotFound)
	ErrPredictionExists = fmt.Errorf("customer already scored in batch: %w", apperrors.ErrConflict)
)

// PredictionStore persists prediction batches and their per-customer results.
type PredictionStore interface {
	CreateBatch(ctx context.Context, batch *models.PredictionBatch) error
	GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*models.PredictionBatch, error)

	// ListBatches returns a page of batches, newest first, and the total number of batches.
	ListBatches(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.PredictionBatch, int, error)

	// SavePredictions inserts predictions. A customer can be scored once per batch;
	// a repeat fails with ErrPredictionExists.
	SavePredictions(ctx context.Context, predictions []*models.CustomerPrediction) error

	// ResetPredictions removes every prediction saved for a batch so a redelivered
	// batch job can score it again.
	ResetPredictions(ctx context.Context, orgID, batchID uuid.UUID) error

	// ListPredictions returns a page of a batch's predictions ordered by customer id,
	// and the total number of predictions in the batch.
	ListPredictions(ctx context.Context, orgID, batchID uuid.UUID, limit, offset int) ([]*models.CustomerPrediction, int, error)

	// CompleteBatch stores the summary fields of batch and marks it completed.
	CompleteBatch(ctx context.Context, batch *models.PredictionBatch) error

	// FailBatch marks a batch failed with a message.
	FailBatch(ctx context.Context, orgID, batchID uuid.UUID, errorMessage string) error
}
