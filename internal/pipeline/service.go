// Package pipeline orchestrates the dataset to model workflow: feature engineering,
// auto-labeling, training with model selection, and single and batch inference. Long
// running steps are enqueued as jobs and observed by polling the entities they update.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/dataset"
	"github.com/wolfeidau/churnrunner/internal/features"
	"github.com/wolfeidau/churnrunner/internal/ml"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
	"github.com/wolfeidau/churnrunner/internal/worker"
)

// Service exposes the pipeline operations. It holds no per-organization state; everything
// mutable lives in the stores.
type Service struct {
	cfg      Config
	stores   store.Stores
	datasets *dataset.Service
	engine   *features.Engine
	trainer  *ml.Trainer
	now      func() time.Time
}

// New creates a pipeline service. cfg is expected to have defaults applied.
func New(cfg Config, stores store.Stores, blobs *blob.Store) *Service {
	return &Service{
		cfg:      cfg,
		stores:   stores,
		datasets: dataset.NewService(stores.Datasets, blobs),
		engine:   features.NewEngine(cfg.Features),
		trainer:  ml.NewTrainer(cfg.Training.trainerConfig()),
		now:      time.Now,
	}
}

// Register installs the job handlers on w.
func (s *Service) Register(w *worker.Worker) {
	w.Handle(models.JobKindFeatureEngineering, s.handleFeatureEngineering)
	w.Handle(models.JobKindTraining, s.handleTraining)
	w.Handle(models.JobKindBatchPrediction, s.handleBatchPrediction)
}

// CreateOrganization registers a tenant. A zero threshold selects the default.
func (s *Service) CreateOrganization(ctx context.Context, name string, churnThresholdDays int) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("organization name is required")
	}
	if churnThresholdDays < 0 {
		return nil, apperrors.Validation("churn_threshold_days must not be negative")
	}
	if churnThresholdDays == 0 {
		churnThresholdDays = models.DefaultChurnThresholdDays
	}

	now := s.now().UTC()
	org := &models.Organization{
		OrgID:              uuid.Must(uuid.NewV7()),
		Name:               name,
		ChurnThresholdDays: churnThresholdDays,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.stores.Organizations.Create(ctx, org); err != nil {
		return nil, apperrors.Storage("create organization", err)
	}

	log.Info().Str("org_id", org.OrgID.String()).Str("name", org.Name).Msg("Created organization")
	return org, nil
}

// GetOrganization returns an organization.
func (s *Service) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	org, err := s.stores.Organizations.Get(ctx, orgID)
	if err != nil {
		return nil, apperrors.Storage("get organization", err)
	}
	return org, nil
}

// UploadDataset validates and stores a raw dataset for an existing organization.
func (s *Service) UploadDataset(ctx context.Context, req dataset.UploadRequest) (*models.Dataset, error) {
	if _, err := s.GetOrganization(ctx, req.OrgID); err != nil {
		return nil, err
	}
	ds, err := s.datasets.Upload(ctx, req)
	if err != nil {
		return nil, err
	}
	telemetry.GetMetrics().DatasetsUploadedTotal.Add(ctx, 1)
	return ds, nil
}

// GetDataset returns dataset metadata.
func (s *Service) GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error) {
	ds, err := s.datasets.Get(ctx, orgID, datasetID)
	if err != nil {
		return nil, apperrors.Storage("get dataset", err)
	}
	return ds, nil
}

// ListDatasets returns the organization's datasets, newest first, optionally by type.
func (s *Service) ListDatasets(ctx context.Context, orgID uuid.UUID, dsType models.DatasetType) ([]*models.Dataset, error) {
	list, err := s.datasets.List(ctx, orgID, dsType)
	if err != nil {
		return nil, apperrors.Storage("list datasets", err)
	}
	return list, nil
}

// DownloadDataset returns a dataset's metadata and tabular content.
func (s *Service) DownloadDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, []byte, error) {
	ds, data, err := s.datasets.Download(ctx, orgID, datasetID)
	if err != nil {
		return nil, nil, apperrors.Storage("download dataset", err)
	}
	return ds, data, nil
}

// GetJob returns a background job for status polling.
func (s *Service) GetJob(ctx context.Context, orgID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.stores.Jobs.GetJob(ctx, orgID, jobID)
	if err != nil {
		return nil, apperrors.Storage("get job", err)
	}
	return job, nil
}

// activeVersion returns the organization's active model pointer version, 0 when none.
func (s *Service) activeVersion(ctx context.Context, orgID uuid.UUID) (int64, error) {
	active, err := s.stores.Models.GetActiveModel(ctx, orgID)
	if errors.Is(err, store.ErrNoActiveModel) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return active.Version, nil
}
