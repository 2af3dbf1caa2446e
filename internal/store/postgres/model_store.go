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
	"github.com/wolfeidau/churnrunner/internal/util"
)

var _ store.ModelStore = (*ModelStore)(nil)

// ModelStore implements store.ModelStore using PostgreSQL. The partial unique index
// idx_models_one_training enforces a single training run per organization.
type ModelStore struct {
	pool *pgxpool.Pool
}

// NewModelStore creates a model store sharing pool.
func NewModelStore(pool *pgxpool.Pool) *ModelStore {
	return &ModelStore{pool: pool}
}

const modelColumns = `model_id, org_id, location, model_type, tune, status, metrics, training_samples,
	churn_rate, features_dataset_id, error_message, created_at, trained_at`

func scanModel(row pgx.Row) (*models.ModelMetadata, error) {
	var (
		m           models.ModelMetadata
		status      string
		metricsJSON []byte
	)
	err := row.Scan(&m.ModelID, &m.OrgID, &m.Location, &m.ModelType, &m.Tune, &status, &metricsJSON,
		&m.TrainingSamples, &m.ChurnRate, &m.FeaturesDatasetID, &m.ErrorMessage, &m.CreatedAt, &m.TrainedAt)
	if err != nil {
		return nil, err
	}
	m.Status = models.ModelStatus(status)

	if len(metricsJSON) > 0 {
		var metrics models.ModelMetrics
		if err := util.UnmarshalJSON(metricsJSON, &metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal model metrics: %w", err)
		}
		m.Metrics = &metrics
	}
	return &m, nil
}

func marshalMetrics(metrics *models.ModelMetrics) ([]byte, error) {
	if metrics == nil {
		return nil, nil
	}
	return util.MarshalJSON(metrics)
}

// CreateTrainingModel records a new run in the training state.
func (s *ModelStore) CreateTrainingModel(ctx context.Context, meta *models.ModelMetadata) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO models (model_id, org_id, model_type, tune, status, features_dataset_id, created_at)
		VALUES ($1, $2, $3, $4, 'training', $5, $6)
	`, meta.ModelID, meta.OrgID, meta.ModelType, meta.Tune, meta.FeaturesDatasetID, meta.CreatedAt)
	if err != nil {
		return mapPostgresError(err)
	}
	meta.Status = models.ModelStatusTraining

	log.Debug().
		Str("model_id", meta.ModelID.String()).
		Str("org_id", meta.OrgID.String()).
		Str("model_type", meta.ModelType).
		Msg("Created training run")

	return nil
}

// GetModel returns a model owned by orgID.
func (s *ModelStore) GetModel(ctx context.Context, orgID, modelID uuid.UUID) (*models.ModelMetadata, error) {
	m, err := scanModel(s.pool.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM models WHERE model_id = $1 AND org_id = $2`, modelID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", mapPostgresError(err))
	}
	return m, nil
}

// LatestModel returns the most recently created run regardless of status.
func (s *ModelStore) LatestModel(ctx context.Context, orgID uuid.UUID) (*models.ModelMetadata, error) {
	m, err := scanModel(s.pool.QueryRow(ctx, `
		SELECT `+modelColumns+`
		FROM models
		WHERE org_id = $1
		ORDER BY created_at DESC, model_id DESC
		LIMIT 1
	`, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get latest model: %w", mapPostgresError(err))
	}
	return m, nil
}

// GetActiveModel returns the organization's active model pointer.
func (s *ModelStore) GetActiveModel(ctx context.Context, orgID uuid.UUID) (*models.ActiveModel, error) {
	var a models.ActiveModel
	err := s.pool.QueryRow(ctx, `
		SELECT org_id, model_id, version, updated_at FROM active_models WHERE org_id = $1
	`, orgID).Scan(&a.OrgID, &a.ModelID, &a.Version, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoActiveModel
		}
		return nil, fmt.Errorf("failed to get active model: %w", mapPostgresError(err))
	}
	return &a, nil
}

// CompleteModel marks the run completed and, in the same transaction, advances the
// active pointer when its version still equals expectedVersion.
func (s *ModelStore) CompleteModel(ctx context.Context, meta *models.ModelMetadata, expectedVersion int64) (bool, error) {
	metricsJSON, err := marshalMetrics(meta.Metrics)
	if err != nil {
		return false, fmt.Errorf("failed to marshal model metrics: %w", err)
	}

	now := time.Now().UTC()
	if meta.TrainedAt == nil {
		meta.TrainedAt = &now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		UPDATE models
		SET
			status = 'completed',
			location = $3,
			model_type = $4,
			metrics = $5,
			training_samples = $6,
			churn_rate = $7,
			features_dataset_id = COALESCE($8, features_dataset_id),
			error_message = '',
			trained_at = $9
		WHERE model_id = $1 AND org_id = $2 AND status = 'training'
		RETURNING created_at
	`, meta.ModelID, meta.OrgID, meta.Location, meta.ModelType, metricsJSON,
		meta.TrainingSamples, meta.ChurnRate, meta.FeaturesDatasetID, meta.TrainedAt,
	).Scan(&meta.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, s.notTrainingError(ctx, tx, meta.OrgID, meta.ModelID)
		}
		return false, fmt.Errorf("failed to complete model: %w", mapPostgresError(err))
	}
	meta.Status = models.ModelStatusCompleted

	var advance pgx.Rows
	if expectedVersion == 0 {
		advance, err = tx.Query(ctx, `
			INSERT INTO active_models (org_id, model_id, version, updated_at)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (org_id) DO NOTHING
			RETURNING version
		`, meta.OrgID, meta.ModelID, now)
	} else {
		advance, err = tx.Query(ctx, `
			UPDATE active_models
			SET model_id = $2, version = version + 1, updated_at = $3
			WHERE org_id = $1 AND version = $4
			RETURNING version
		`, meta.OrgID, meta.ModelID, now, expectedVersion)
	}
	if err != nil {
		return false, fmt.Errorf("failed to advance active model: %w", mapPostgresError(err))
	}
	newVersions, err := pgx.CollectRows(advance, pgx.RowTo[int64])
	if err != nil {
		return false, fmt.Errorf("failed to advance active model: %w", mapPostgresError(err))
	}
	advanced := len(newVersions) == 1

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit model completion: %w", mapPostgresError(err))
	}

	if !advanced {
		log.Warn().
			Str("org_id", meta.OrgID.String()).
			Str("model_id", meta.ModelID.String()).
			Int64("expected_version", expectedVersion).
			Msg("Active model advanced by another run, leaving pointer unchanged")
		return false, nil
	}

	log.Info().
		Str("org_id", meta.OrgID.String()).
		Str("model_id", meta.ModelID.String()).
		Int64("version", newVersions[0]).
		Msg("Advanced active model")

	return true, nil
}

// FailModel records a training run as failed.
func (s *ModelStore) FailModel(ctx context.Context, orgID, modelID uuid.UUID, errorMessage string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE models
		SET status = 'failed', error_message = $3, trained_at = NOW()
		WHERE model_id = $1 AND org_id = $2 AND status = 'training'
	`, modelID, orgID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to fail model: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return s.notTrainingError(ctx, s.pool, orgID, modelID)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notTrainingError explains why an update scoped to status='training' touched no rows.
func (s *ModelStore) notTrainingError(ctx context.Context, q querier, orgID, modelID uuid.UUID) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM models WHERE model_id = $1 AND org_id = $2)`,
		modelID, orgID).Scan(&exists)
	if err != nil {
		return mapPostgresError(err)
	}
	if !exists {
		return store.ErrModelNotFound
	}
	return store.ErrModelNotTraining
}
