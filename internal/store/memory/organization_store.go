package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

var _ store.OrganizationStore = (*OrganizationStore)(nil)

// OrganizationStore is an in-memory organization directory. Records are copied on the way
// in and out so callers never share state with the store.
type OrganizationStore struct {
	mu   sync.RWMutex
	orgs map[uuid.UUID]models.Organization
	now  func() time.Time
}

func NewOrganizationStore() *OrganizationStore {
	return &OrganizationStore{
		orgs: make(map[uuid.UUID]models.Organization),
		now:  time.Now,
	}
}

func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[org.OrgID]; ok {
		return store.ErrOrganizationAlreadyExists
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = s.now().UTC()
	}
	if org.UpdatedAt.IsZero() {
		org.UpdatedAt = org.CreatedAt
	}
	s.orgs[org.OrgID] = *org
	return nil
}

func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}
	return &org, nil
}

// Update replaces the name and churn threshold. The creation time is preserved.
func (s *OrganizationStore) Update(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orgs[org.OrgID]
	if !ok {
		return store.ErrOrganizationNotFound
	}
	existing.Name = org.Name
	existing.ChurnThresholdDays = org.ChurnThresholdDays
	existing.UpdatedAt = s.now().UTC()
	s.orgs[org.OrgID] = existing

	*org = existing
	return nil
}
