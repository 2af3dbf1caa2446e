package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

var _ store.DatasetStore = (*DatasetStore)(nil)

// DatasetStore implements store.DatasetStore using PostgreSQL.
type DatasetStore struct {
	pool *pgxpool.Pool
}

// NewDatasetStore creates a dataset store sharing pool.
func NewDatasetStore(pool *pgxpool.Pool) *DatasetStore {
	return &DatasetStore{pool: pool}
}

const datasetColumns = `dataset_id, org_id, type, bucket, location, filename, file_size, checksum,
	row_count, has_churn_label, status, error_message, reference_date, source_dataset_id,
	monetary_reference, created_at, updated_at`

func scanDataset(row pgx.Row) (*models.Dataset, error) {
	var (
		ds     models.Dataset
		dsType string
		status string
	)
	err := row.Scan(&ds.DatasetID, &ds.OrgID, &dsType, &ds.Bucket, &ds.Location, &ds.Filename,
		&ds.FileSize, &ds.Checksum, &ds.RowCount, &ds.HasChurnLabel, &status, &ds.ErrorMessage,
		&ds.ReferenceDate, &ds.SourceDatasetID, &ds.MonetaryReference, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ds.Type = models.DatasetType(dsType)
	ds.Status = models.DatasetStatus(status)
	return &ds, nil
}

// CreateDataset inserts a new dataset row.
func (s *DatasetStore) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		ds.DatasetID, ds.OrgID, string(ds.Type), ds.Bucket, ds.Location, ds.Filename,
		ds.FileSize, ds.Checksum, ds.RowCount, ds.HasChurnLabel, string(ds.Status), ds.ErrorMessage,
		ds.ReferenceDate, ds.SourceDatasetID, ds.MonetaryReference, ds.CreatedAt, ds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("dataset_id", ds.DatasetID.String()).
		Str("org_id", ds.OrgID.String()).
		Str("type", string(ds.Type)).
		Msg("Created dataset")

	return nil
}

// GetDataset returns a dataset owned by orgID.
func (s *DatasetStore) GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error) {
	ds, err := scanDataset(s.pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE dataset_id = $1 AND org_id = $2`, datasetID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrDatasetNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", mapPostgresError(err))
	}
	return ds, nil
}

// ListDatasets returns the organization's datasets, newest first.
func (s *DatasetStore) ListDatasets(ctx context.Context, orgID uuid.UUID, dsType models.DatasetType) ([]*models.Dataset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+datasetColumns+`
		FROM datasets
		WHERE org_id = $1 AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC, dataset_id DESC
	`, orgID, string(dsType))
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*models.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return out, nil
}

// LatestReadyFeatures returns the most recently created ready features dataset.
func (s *DatasetStore) LatestReadyFeatures(ctx context.Context, orgID uuid.UUID) (*models.Dataset, error) {
	ds, err := scanDataset(s.pool.QueryRow(ctx, `
		SELECT `+datasetColumns+`
		FROM datasets
		WHERE org_id = $1 AND type = 'features' AND status = 'ready'
		ORDER BY created_at DESC, dataset_id DESC
		LIMIT 1
	`, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrDatasetNotFound
		}
		return nil, fmt.Errorf("failed to get latest features dataset: %w", mapPostgresError(err))
	}
	return ds, nil
}

// UpdateDatasetStatus changes the status of a dataset that is not ready yet.
func (s *DatasetStore) UpdateDatasetStatus(ctx context.Context, orgID, datasetID uuid.UUID, status models.DatasetStatus, errorMessage string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE datasets
		SET status = $3, error_message = $4, updated_at = NOW()
		WHERE dataset_id = $1 AND org_id = $2 AND status <> 'ready'
	`, datasetID, orgID, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update dataset status: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	// distinguish a missing dataset from one that is already ready
	if _, err := s.GetDataset(ctx, orgID, datasetID); err != nil {
		return err
	}
	return store.ErrDatasetImmutable
}

// MarkDatasetReady marks the dataset ready and pins the reference date if none is pinned.
// A dataset that is already ready keeps its row count.
func (s *DatasetStore) MarkDatasetReady(ctx context.Context, orgID, datasetID uuid.UUID, rowCount int, referenceDate time.Time) (time.Time, error) {
	var pinned time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE datasets
		SET
			reference_date = COALESCE(reference_date, $3::DATE),
			row_count = CASE WHEN status = 'ready' THEN row_count ELSE $4 END,
			error_message = CASE WHEN status = 'ready' THEN error_message ELSE '' END,
			status = 'ready',
			updated_at = NOW()
		WHERE dataset_id = $1 AND org_id = $2
		RETURNING reference_date
	`, datasetID, orgID, referenceDate.UTC(), rowCount).Scan(&pinned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, store.ErrDatasetNotFound
		}
		return time.Time{}, fmt.Errorf("failed to mark dataset ready: %w", mapPostgresError(err))
	}

	return time.Date(pinned.Year(), pinned.Month(), pinned.Day(), 0, 0, 0, 0, time.UTC), nil
}
