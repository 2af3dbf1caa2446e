package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// Sentinel errors for organization store operations
var (
	ErrOrganizationNotFound      = fmt.Errorf("organization not found: %w", apperrors.ErrNotFound)
	ErrOrganizationAlreadyExists = fmt.Errorf("organization already exists: %w", apperrors.ErrConflict)
)

// OrganizationStore is the organization directory. It supplies the churn threshold
// used when labeling an organization's customers.
type OrganizationStore interface {
	// Create creates a new organization in the store.
	// Returns ErrOrganizationAlreadyExists if an organization with the same ID already exists.
	Create(ctx context.Context, org *models.Organization) error

	// Get retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// Update updates the name and churn threshold of an existing organization.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Update(ctx context.Context, org *models.Organization) error
}
