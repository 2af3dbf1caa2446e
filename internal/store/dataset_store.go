package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// Sentinel errors for dataset store operations
var (
	ErrDatasetNotFound  = fmt.Errorf("dataset not found: %w", apperrors.ErrNotFound)
	ErrDatasetImmutable = fmt.Errorf("dataset is ready and can no longer change: %w", apperrors.ErrConflict)
)

// DatasetStore persists dataset metadata rows. Content lives in blob storage.
type DatasetStore interface {
	// CreateDataset inserts a new dataset row.
	CreateDataset(ctx context.Context, ds *models.Dataset) error

	// GetDataset returns a dataset owned by orgID.
	// Returns ErrDatasetNotFound if it does not exist or belongs to another organization.
	GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error)

	// ListDatasets returns the organization's datasets, newest first.
	// An empty dsType returns every type.
	ListDatasets(ctx context.Context, orgID uuid.UUID, dsType models.DatasetType) ([]*models.Dataset, error)

	// LatestReadyFeatures returns the most recently created ready features dataset.
	LatestReadyFeatures(ctx context.Context, orgID uuid.UUID) (*models.Dataset, error)

	// UpdateDatasetStatus moves a dataset that is not yet ready to a new status.
	// Returns ErrDatasetImmutable if the dataset is already ready.
	UpdateDatasetStatus(ctx context.Context, orgID, datasetID uuid.UUID, status models.DatasetStatus, errorMessage string) error

	// MarkDatasetReady marks the dataset ready, records its row count and pins the
	// reference date if none is pinned yet. The effective reference date is returned.
	MarkDatasetReady(ctx context.Context, orgID, datasetID uuid.UUID, rowCount int, referenceDate time.Time) (time.Time, error)
}
