package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

// DatasetStore implements store.DatasetStore using in-memory storage.
type DatasetStore struct {
	mu sync.RWMutex

	datasets map[uuid.UUID]*models.Dataset // dataset_id -> Dataset
}

// NewDatasetStore creates a new in-memory dataset store.
func NewDatasetStore() *DatasetStore {
	return &DatasetStore{
		datasets: make(map[uuid.UUID]*models.Dataset),
	}
}

// CreateDataset inserts a new dataset.
func (s *DatasetStore) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasets[ds.DatasetID] = cloneDataset(ds)
	return nil
}

// GetDataset returns a dataset owned by orgID.
func (s *DatasetStore) GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.datasets[datasetID]
	if !ok || ds.OrgID != orgID {
		return nil, store.ErrDatasetNotFound
	}
	return cloneDataset(ds), nil
}

// ListDatasets returns the organization's datasets, newest first.
func (s *DatasetStore) ListDatasets(ctx context.Context, orgID uuid.UUID, dsType models.DatasetType) ([]*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Dataset
	for _, ds := range s.datasets {
		if ds.OrgID != orgID {
			continue
		}
		if dsType != "" && ds.Type != dsType {
			continue
		}
		out = append(out, cloneDataset(ds))
	}
	sortNewestFirst(out)
	return out, nil
}

// LatestReadyFeatures returns the most recent ready features dataset.
func (s *DatasetStore) LatestReadyFeatures(ctx context.Context, orgID uuid.UUID) (*models.Dataset, error) {
	all, _ := s.ListDatasets(ctx, orgID, models.DatasetTypeFeatures)
	for _, ds := range all {
		if ds.IsReady() {
			return ds, nil
		}
	}
	return nil, store.ErrDatasetNotFound
}

// UpdateDatasetStatus changes the status of a dataset that is not ready yet.
func (s *DatasetStore) UpdateDatasetStatus(ctx context.Context, orgID, datasetID uuid.UUID, status models.DatasetStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[datasetID]
	if !ok || ds.OrgID != orgID {
		return store.ErrDatasetNotFound
	}
	if ds.IsReady() {
		return store.ErrDatasetImmutable
	}

	ds.Status = status
	ds.ErrorMessage = errorMessage
	ds.UpdatedAt = time.Now()
	return nil
}

// MarkDatasetReady marks a dataset ready and pins its reference date on first use.
func (s *DatasetStore) MarkDatasetReady(ctx context.Context, orgID, datasetID uuid.UUID, rowCount int, referenceDate time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[datasetID]
	if !ok || ds.OrgID != orgID {
		return time.Time{}, store.ErrDatasetNotFound
	}

	if ds.ReferenceDate == nil {
		ref := referenceDate
		ds.ReferenceDate = &ref
	}
	if !ds.IsReady() {
		ds.Status = models.DatasetStatusReady
		ds.RowCount = rowCount
		ds.ErrorMessage = ""
		ds.UpdatedAt = time.Now()
	}

	return *ds.ReferenceDate, nil
}

func cloneDataset(ds *models.Dataset) *models.Dataset {
	clone := *ds
	if ds.ReferenceDate != nil {
		ref := *ds.ReferenceDate
		clone.ReferenceDate = &ref
	}
	if ds.SourceDatasetID != nil {
		src := *ds.SourceDatasetID
		clone.SourceDatasetID = &src
	}
	return &clone
}

// sortNewestFirst orders datasets by creation time, using the time ordered UUIDv7 id as a tie breaker.
func sortNewestFirst(list []*models.Dataset) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].DatasetID.String() > list[j].DatasetID.String()
	})
}
