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

// PredictionStore implements store.PredictionStore using in-memory storage.
type PredictionStore struct {
	mu sync.RWMutex

	batches     map[uuid.UUID]*models.PredictionBatch      // batch_id -> PredictionBatch
	predictions map[uuid.UUID][]*models.CustomerPrediction // batch_id -> predictions
}

// NewPredictionStore creates a new in-memory prediction store.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{
		batches:     make(map[uuid.UUID]*models.PredictionBatch),
		predictions: make(map[uuid.UUID][]*models.CustomerPrediction),
	}
}

// CreateBatch inserts a new batch.
func (s *PredictionStore) CreateBatch(ctx context.Context, batch *models.PredictionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches[batch.BatchID] = cloneBatch(batch)
	return nil
}

// GetBatch returns a batch owned by orgID.
func (s *PredictionStore) GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*models.PredictionBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok || b.OrgID != orgID {
		return nil, store.ErrBatchNotFound
	}
	return cloneBatch(b), nil
}

// ListBatches returns a page of batches, newest first.
func (s *PredictionStore) ListBatches(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.PredictionBatch, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.PredictionBatch
	for _, b := range s.batches {
		if b.OrgID == orgID {
			all = append(all, b)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].BatchID.String() > all[j].BatchID.String()
	})

	start, end := pageBounds(len(all), limit, offset)
	out := make([]*models.PredictionBatch, 0, end-start)
	for _, b := range all[start:end] {
		out = append(out, cloneBatch(b))
	}
	return out, len(all), nil
}

// SavePredictions appends predictions to their batches. Nothing is saved if any
// customer is already scored in its batch.
func (s *PredictionStore) SavePredictions(ctx context.Context, predictions []*models.CustomerPrediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		batchID    uuid.UUID
		customerID string
	}
	seen := make(map[key]bool)
	for _, p := range predictions {
		b, ok := s.batches[p.BatchID]
		if !ok || b.OrgID != p.OrgID {
			return store.ErrBatchNotFound
		}
		k := key{p.BatchID, p.ExternalCustomerID}
		if seen[k] {
			return store.ErrPredictionExists
		}
		seen[k] = true
	}
	checked := make(map[uuid.UUID]bool)
	for k := range seen {
		if checked[k.batchID] {
			continue
		}
		checked[k.batchID] = true
		for _, existing := range s.predictions[k.batchID] {
			if seen[key{k.batchID, existing.ExternalCustomerID}] {
				return store.ErrPredictionExists
			}
		}
	}
	for _, p := range predictions {
		clone := *p
		s.predictions[p.BatchID] = append(s.predictions[p.BatchID], &clone)
	}
	return nil
}

// ResetPredictions drops the predictions of a batch owned by orgID.
func (s *PredictionStore) ResetPredictions(ctx context.Context, orgID, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok || b.OrgID != orgID {
		return store.ErrBatchNotFound
	}
	delete(s.predictions, batchID)
	return nil
}

// ListPredictions returns a page of a batch's predictions ordered by customer id.
func (s *PredictionStore) ListPredictions(ctx context.Context, orgID, batchID uuid.UUID, limit, offset int) ([]*models.CustomerPrediction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok || b.OrgID != orgID {
		return nil, 0, store.ErrBatchNotFound
	}

	all := append([]*models.CustomerPrediction(nil), s.predictions[batchID]...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].ExternalCustomerID < all[j].ExternalCustomerID
	})

	start, end := pageBounds(len(all), limit, offset)
	out := make([]*models.CustomerPrediction, 0, end-start)
	for _, p := range all[start:end] {
		clone := *p
		out = append(out, &clone)
	}
	return out, len(all), nil
}

// CompleteBatch stores the batch summary and marks it completed.
func (s *PredictionStore) CompleteBatch(ctx context.Context, batch *models.PredictionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.batches[batch.BatchID]
	if !ok || existing.OrgID != batch.OrgID {
		return store.ErrBatchNotFound
	}

	now := time.Now()
	batch.Status = models.BatchStatusCompleted
	batch.CreatedAt = existing.CreatedAt
	batch.CompletedAt = &now
	s.batches[batch.BatchID] = cloneBatch(batch)
	return nil
}

// FailBatch marks a batch failed.
func (s *PredictionStore) FailBatch(ctx context.Context, orgID, batchID uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok || b.OrgID != orgID {
		return store.ErrBatchNotFound
	}

	now := time.Now()
	b.Status = models.BatchStatusFailed
	b.ErrorMessage = errorMessage
	b.CompletedAt = &now
	return nil
}

func cloneBatch(b *models.PredictionBatch) *models.PredictionBatch {
	clone := *b
	if b.RiskDistribution != nil {
		clone.RiskDistribution = make(map[models.RiskSegment]int, len(b.RiskDistribution))
		for k, v := range b.RiskDistribution {
			clone.RiskDistribution[k] = v
		}
	}
	clone.Errors = append([]models.CustomerError(nil), b.Errors...)
	return &clone
}

// pageBounds clamps limit/offset paging to a slice of length n. A non-positive limit returns everything.
func pageBounds(n, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
