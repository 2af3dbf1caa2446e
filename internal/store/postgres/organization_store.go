package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

var _ store.OrganizationStore = (*OrganizationStore)(nil)

// OrganizationStore implements store.OrganizationStore using PostgreSQL.
type OrganizationStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationStore creates a new PostgreSQL-backed organization store.
// It shares the connection pool with other stores.
func NewOrganizationStore(pool *pgxpool.Pool) *OrganizationStore {
	return &OrganizationStore{pool: pool}
}

// Create creates a new organization in the database.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (org_id, name, churn_threshold_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, org.OrgID, org.Name, org.Threshold(), org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("name", org.Name).
		Int("churn_threshold_days", org.Threshold()).
		Msg("Created organization")

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	err := s.pool.QueryRow(ctx, `
		SELECT org_id, name, churn_threshold_days, created_at, updated_at
		FROM organizations
		WHERE org_id = $1
	`, orgID).Scan(&org.OrgID, &org.Name, &org.ChurnThresholdDays, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	return &org, nil
}

// Update updates the name and churn threshold of an existing organization.
func (s *OrganizationStore) Update(ctx context.Context, org *models.Organization) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE organizations
		SET name = $2, churn_threshold_days = $3, updated_at = $4
		WHERE org_id = $1
	`, org.OrgID, org.Name, org.Threshold(), org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrOrganizationNotFound
	}

	log.Debug().Str("org_id", org.OrgID.String()).Msg("Updated organization")
	return nil
}
