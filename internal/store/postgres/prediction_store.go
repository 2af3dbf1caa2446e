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

var _ store.PredictionStore = (*PredictionStore)(nil)

// PredictionStore implements store.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a prediction store sharing pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const batchColumns = `batch_id, org_id, name, total_customers, input_location, output_location, status,
	avg_churn_probability, risk_distribution, errors, skipped_rows, error_message, model_id, created_at, completed_at`

func scanBatch(row pgx.Row) (*models.PredictionBatch, error) {
	var (
		b          models.PredictionBatch
		status     string
		riskJSON   []byte
		errorsJSON []byte
	)
	err := row.Scan(&b.BatchID, &b.OrgID, &b.Name, &b.TotalCustomers, &b.InputLocation, &b.OutputLocation,
		&status, &b.AvgChurnProbability, &riskJSON, &errorsJSON, &b.SkippedRows, &b.ErrorMessage, &b.ModelID,
		&b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)

	if err := util.UnmarshalJSON(riskJSON, &b.RiskDistribution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk distribution: %w", err)
	}
	if err := util.UnmarshalJSON(errorsJSON, &b.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch errors: %w", err)
	}
	return &b, nil
}

// CreateBatch inserts a new batch.
func (s *PredictionStore) CreateBatch(ctx context.Context, batch *models.PredictionBatch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prediction_batches (batch_id, org_id, name, total_customers, input_location, status, model_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, batch.BatchID, batch.OrgID, batch.Name, batch.TotalCustomers, batch.InputLocation,
		string(batch.Status), batch.ModelID, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("batch_id", batch.BatchID.String()).
		Str("org_id", batch.OrgID.String()).
		Msg("Created prediction batch")

	return nil
}

// GetBatch returns a batch owned by orgID.
func (s *PredictionStore) GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*models.PredictionBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM prediction_batches WHERE batch_id = $1 AND org_id = $2`, batchID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", mapPostgresError(err))
	}
	return b, nil
}

// pageLimit converts a non-positive limit into SQL NULL, which LIMIT treats as no limit.
func pageLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// ListBatches returns a page of batches, newest first, and the total count.
func (s *PredictionStore) ListBatches(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.PredictionBatch, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM prediction_batches WHERE org_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", mapPostgresError(err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM prediction_batches
		WHERE org_id = $1
		ORDER BY created_at DESC, batch_id DESC
		LIMIT $2 OFFSET $3
	`, orgID, pageLimit(limit), max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*models.PredictionBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, mapPostgresError(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapPostgresError(err)
	}
	return out, total, nil
}

// SavePredictions bulk inserts predictions with COPY after checking every batch
// belongs to the organization recorded on its predictions.
func (s *PredictionStore) SavePredictions(ctx context.Context, predictions []*models.CustomerPrediction) error {
	if len(predictions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	checked := make(map[uuid.UUID]bool)
	for _, p := range predictions {
		if checked[p.BatchID] {
			continue
		}
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM prediction_batches WHERE batch_id = $1 AND org_id = $2)`,
			p.BatchID, p.OrgID).Scan(&exists)
		if err != nil {
			return mapPostgresError(err)
		}
		if !exists {
			return store.ErrBatchNotFound
		}
		checked[p.BatchID] = true
	}

	rows := make([][]any, 0, len(predictions))
	for _, p := range predictions {
		featuresJSON, err := util.MarshalJSON(p.Features)
		if err != nil {
			return fmt.Errorf("failed to marshal prediction features: %w", err)
		}
		rows = append(rows, []any{
			p.PredictionID, p.BatchID, p.OrgID, p.ExternalCustomerID, p.ChurnProbability,
			string(p.RiskSegment), featuresJSON, p.ModelID, p.PredictedAt,
		})
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"customer_predictions"},
		[]string{"prediction_id", "batch_id", "org_id", "external_customer_id", "churn_probability",
			"risk_segment", "features", "model_id", "predicted_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to save predictions: %w", mapPostgresError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit predictions: %w", mapPostgresError(err))
	}

	log.Debug().Int64("rows", copied).Msg("Saved customer predictions")
	return nil
}

// ResetPredictions deletes the predictions of a batch owned by orgID.
func (s *PredictionStore) ResetPredictions(ctx context.Context, orgID, batchID uuid.UUID) error {
	if _, err := s.GetBatch(ctx, orgID, batchID); err != nil {
		return err
	}
	result, err := s.pool.Exec(ctx, `DELETE FROM customer_predictions WHERE batch_id = $1 AND org_id = $2`, batchID, orgID)
	if err != nil {
		return fmt.Errorf("failed to reset predictions: %w", mapPostgresError(err))
	}
	if n := result.RowsAffected(); n > 0 {
		log.Debug().Str("batch_id", batchID.String()).Int64("rows", n).Msg("Removed predictions from earlier attempt")
	}
	return nil
}

// ListPredictions returns a page of a batch's predictions ordered by customer id.
func (s *PredictionStore) ListPredictions(ctx context.Context, orgID, batchID uuid.UUID, limit, offset int) ([]*models.CustomerPrediction, int, error) {
	if _, err := s.GetBatch(ctx, orgID, batchID); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customer_predictions WHERE batch_id = $1`, batchID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count predictions: %w", mapPostgresError(err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT prediction_id, batch_id, org_id, external_customer_id, churn_probability,
		       risk_segment, features, model_id, predicted_at
		FROM customer_predictions
		WHERE batch_id = $1 AND org_id = $2
		ORDER BY external_customer_id ASC, prediction_id ASC
		LIMIT $3 OFFSET $4
	`, batchID, orgID, pageLimit(limit), max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list predictions: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*models.CustomerPrediction
	for rows.Next() {
		var (
			p            models.CustomerPrediction
			segment      string
			featuresJSON []byte
		)
		if err := rows.Scan(&p.PredictionID, &p.BatchID, &p.OrgID, &p.ExternalCustomerID, &p.ChurnProbability,
			&segment, &featuresJSON, &p.ModelID, &p.PredictedAt); err != nil {
			return nil, 0, mapPostgresError(err)
		}
		p.RiskSegment = models.RiskSegment(segment)
		if err := util.UnmarshalJSON(featuresJSON, &p.Features); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal prediction features: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapPostgresError(err)
	}
	return out, total, nil
}

// CompleteBatch stores the batch summary and marks it completed.
func (s *PredictionStore) CompleteBatch(ctx context.Context, batch *models.PredictionBatch) error {
	riskJSON, err := util.MarshalJSON(batch.RiskDistribution)
	if err != nil {
		return fmt.Errorf("failed to marshal risk distribution: %w", err)
	}
	errorsJSON, err := util.MarshalJSON(batch.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal batch errors: %w", err)
	}

	now := time.Now().UTC()
	err = s.pool.QueryRow(ctx, `
		UPDATE prediction_batches
		SET
			status = 'completed',
			total_customers = $3,
			output_location = $4,
			avg_churn_probability = $5,
			risk_distribution = $6,
			errors = $7,
			skipped_rows = $8,
			model_id = $9,
			completed_at = $10
		WHERE batch_id = $1 AND org_id = $2
		RETURNING created_at
	`, batch.BatchID, batch.OrgID, batch.TotalCustomers, batch.OutputLocation, batch.AvgChurnProbability,
		riskJSON, errorsJSON, batch.SkippedRows, batch.ModelID, now,
	).Scan(&batch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrBatchNotFound
		}
		return fmt.Errorf("failed to complete batch: %w", mapPostgresError(err))
	}

	batch.Status = models.BatchStatusCompleted
	batch.CompletedAt = &now
	return nil
}

// FailBatch marks a batch failed.
func (s *PredictionStore) FailBatch(ctx context.Context, orgID, batchID uuid.UUID, errorMessage string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE prediction_batches
		SET status = 'failed', error_message = $3, completed_at = NOW()
		WHERE batch_id = $1 AND org_id = $2
	`, batchID, orgID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to fail batch: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrBatchNotFound
	}
	return nil
}
