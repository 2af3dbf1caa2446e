// Package dataset is the dataset store: it validates and persists raw event CSVs and
// derived feature tables as immutable blobs with relational metadata rows.
package dataset

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

// Service coordinates dataset metadata and content.
type Service struct {
	datasets store.DatasetStore
	blobs    *blob.Store
	now      func() time.Time
}

// NewService creates a dataset service.
func NewService(datasets store.DatasetStore, blobs *blob.Store) *Service {
	return &Service{
		datasets: datasets,
		blobs:    blobs,
		now:      time.Now,
	}
}

// UploadRequest describes a dataset upload.
type UploadRequest struct {
	OrgID         uuid.UUID
	Filename      string
	Type          models.DatasetType
	HasChurnLabel bool
	Content       []byte
}

// Upload validates and stores a raw dataset. Nothing is written if validation fails.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.Dataset, error) {
	if req.Type == "" {
		req.Type = models.DatasetTypeRaw
	}
	if req.Type != models.DatasetTypeRaw {
		return nil, apperrors.Validation("only %s datasets can be uploaded, got %q", models.DatasetTypeRaw, req.Type)
	}

	parsed, err := ValidateRaw(req.Content, req.HasChurnLabel)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ds := &models.Dataset{
		DatasetID:     uuid.Must(uuid.NewV7()),
		OrgID:         req.OrgID,
		Type:          models.DatasetTypeRaw,
		Bucket:        string(blob.AreaRawDatasets),
		Filename:      req.Filename,
		FileSize:      int64(len(req.Content)),
		Checksum:      blob.Checksum(req.Content),
		RowCount:      len(parsed.Transactions),
		HasChurnLabel: req.HasChurnLabel,
		Status:        models.DatasetStatusUploaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ds.Location = blob.Key(blob.AreaRawDatasets, req.OrgID, string(ds.Type), ds.DatasetID.String()+".csv")

	if err := s.blobs.Put(ctx, ds.Location, req.Content); err != nil {
		return nil, err
	}

	if err := s.datasets.CreateDataset(ctx, ds); err != nil {
		return nil, apperrors.Storage("create dataset", err)
	}

	log.Info().
		Str("org_id", ds.OrgID.String()).
		Str("dataset_id", ds.DatasetID.String()).
		Int("rows", ds.RowCount).
		Bool("has_churn_label", ds.HasChurnLabel).
		Msg("Uploaded dataset")

	return ds, nil
}

// Get returns dataset metadata.
func (s *Service) Get(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error) {
	return s.datasets.GetDataset(ctx, orgID, datasetID)
}

// List returns the organization's datasets, newest first.
func (s *Service) List(ctx context.Context, orgID uuid.UUID, dsType models.DatasetType) ([]*models.Dataset, error) {
	switch dsType {
	case "", models.DatasetTypeRaw, models.DatasetTypeFeatures:
	default:
		return nil, apperrors.Validation("unknown dataset type %q", dsType)
	}
	return s.datasets.ListDatasets(ctx, orgID, dsType)
}

// Download returns a dataset and its tabular content.
func (s *Service) Download(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, []byte, error) {
	ds, err := s.datasets.GetDataset(ctx, orgID, datasetID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Get(ctx, ds.Location)
	if err != nil {
		return nil, nil, err
	}
	return ds, data, nil
}

// LoadTransactions reads and parses a raw dataset, honoring its has_churn_label flag.
func (s *Service) LoadTransactions(ctx context.Context, ds *models.Dataset) (*ParseResult, error) {
	data, err := s.blobs.Get(ctx, ds.Location)
	if err != nil {
		return nil, err
	}
	return ParseRaw(data, ds.HasChurnLabel)
}

// SaveFeatures stores a new features dataset derived from raw. A new dataset is created on
// every call; existing features datasets are never replaced.
func (s *Service) SaveFeatures(ctx context.Context, raw *models.Dataset, records []*models.FeatureRecord, monetaryReference float64, referenceDate time.Time) (*models.Dataset, error) {
	content, err := EncodeFeatures(records)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sourceID := raw.DatasetID
	ref := referenceDate
	hasLabel := false
	for _, r := range records {
		if r.ChurnLabel != nil {
			hasLabel = true
			break
		}
	}

	ds := &models.Dataset{
		DatasetID:         uuid.Must(uuid.NewV7()),
		OrgID:             raw.OrgID,
		Type:              models.DatasetTypeFeatures,
		Bucket:            string(blob.AreaFeatureDatasets),
		Filename:          raw.Filename,
		FileSize:          int64(len(content)),
		Checksum:          blob.Checksum(content),
		RowCount:          len(records),
		HasChurnLabel:     hasLabel,
		Status:            models.DatasetStatusReady,
		ReferenceDate:     &ref,
		SourceDatasetID:   &sourceID,
		MonetaryReference: monetaryReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	ds.Location = blob.Key(blob.AreaFeatureDatasets, raw.OrgID, string(ds.Type), ds.DatasetID.String()+".csv")

	if err := s.blobs.Put(ctx, ds.Location, content); err != nil {
		return nil, err
	}
	if err := s.datasets.CreateDataset(ctx, ds); err != nil {
		return nil, apperrors.Storage("create features dataset", err)
	}

	log.Info().
		Str("org_id", ds.OrgID.String()).
		Str("dataset_id", ds.DatasetID.String()).
		Str("source_dataset_id", sourceID.String()).
		Int("rows", ds.RowCount).
		Msg("Saved features dataset")

	return ds, nil
}

// LoadFeatures reads the records of a features dataset.
func (s *Service) LoadFeatures(ctx context.Context, ds *models.Dataset) ([]*models.FeatureRecord, error) {
	if ds.Type != models.DatasetTypeFeatures {
		return nil, apperrors.Validation("dataset %s is not a features dataset", ds.DatasetID)
	}
	data, err := s.blobs.Get(ctx, ds.Location)
	if err != nil {
		return nil, err
	}
	return DecodeFeatures(data)
}

// PutObject stores an auxiliary object, such as a batch input or output, under key.
func (s *Service) PutObject(ctx context.Context, key string, data []byte) error {
	return s.blobs.Put(ctx, key, data)
}

// GetObject reads an auxiliary object.
func (s *Service) GetObject(ctx context.Context, key string) ([]byte, error) {
	return s.blobs.Get(ctx, key)
}
