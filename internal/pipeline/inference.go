package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/dataset"
	"github.com/wolfeidau/churnrunner/internal/ml"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
	"github.com/wolfeidau/churnrunner/internal/util"
	"github.com/wolfeidau/churnrunner/internal/worker"
)

// PredictRequest scores one customer from its transaction history.
type PredictRequest struct {
	CustomerID   string
	Transactions []models.Transaction
}

// activeArtifact loads the organization's active model. It fails with a not found error
// when no training run has completed.
func (s *Service) activeArtifact(ctx context.Context, orgID uuid.UUID) (*ml.Artifact, *models.ModelMetadata, error) {
	active, err := s.stores.Models.GetActiveModel(ctx, orgID)
	if err != nil {
		return nil, nil, apperrors.Storage("get active model", err)
	}
	meta, err := s.stores.Models.GetModel(ctx, orgID, active.ModelID)
	if err != nil {
		return nil, nil, apperrors.Storage("get model", err)
	}
	data, err := s.datasets.GetObject(ctx, meta.Location)
	if err != nil {
		return nil, nil, apperrors.Storage("read model artifact", err)
	}
	artifact, err := ml.DecodeArtifact(data)
	if err != nil {
		return nil, nil, apperrors.Storage("decode model artifact", err)
	}
	return artifact, meta, nil
}

// PredictOne scores a single customer with the organization's active model, using the
// same feature computation as training with today as the reference date.
func (s *Service) PredictOne(ctx context.Context, orgID uuid.UUID, req PredictRequest) (*models.CustomerPrediction, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, apperrors.Validation("customer_id is required")
	}
	if len(req.Transactions) == 0 {
		return nil, apperrors.Validation("at least one transaction is required")
	}
	events := make([]models.Transaction, len(req.Transactions))
	for i, t := range req.Transactions {
		if t.EventDate.IsZero() {
			return nil, apperrors.Validation("transaction %d: event_date is required", i)
		}
		if t.Amount < 0 || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
			return nil, apperrors.Validation("transaction %d: amount must be a non-negative number", i)
		}
		t.CustomerID = customerID
		events[i] = t
	}

	artifact, meta, err := s.activeArtifact(ctx, orgID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	prediction, err := s.score(artifact, customerID, events, util.UTCDay(now))
	if err != nil {
		return nil, err
	}
	prediction.OrgID = orgID
	prediction.ModelID = meta.ModelID
	prediction.PredictedAt = now

	telemetry.GetMetrics().PredictionsTotal.Add(ctx, 1)
	return prediction, nil
}

func (s *Service) score(artifact *ml.Artifact, customerID string, events []models.Transaction, ref time.Time) (*models.CustomerPrediction, error) {
	record := s.engine.ComputeCustomer(customerID, events, ref, artifact.MonetaryReference)
	p, err := artifact.PredictProba(record.Vector())
	if err != nil {
		return nil, err
	}
	return &models.CustomerPrediction{
		PredictionID:       uuid.Must(uuid.NewV7()),
		ExternalCustomerID: customerID,
		ChurnProbability:   p,
		RiskSegment:        models.SegmentFor(p),
		Features:           record.Snapshot(),
	}, nil
}

// PredictBatch stores a CSV of customer transactions and enqueues scoring for every
// customer in it. The header is checked up front; row problems are reported per customer
// once the batch runs.
func (s *Service) PredictBatch(ctx context.Context, orgID uuid.UUID, name string, content []byte) (*models.PredictionBatch, error) {
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	if _, err := dataset.ParseRaw(content, false); err != nil {
		return nil, err
	}

	batch := &models.PredictionBatch{
		BatchID:          uuid.Must(uuid.NewV7()),
		OrgID:            orgID,
		Name:             strings.TrimSpace(name),
		Status:           models.BatchStatusProcessing,
		RiskDistribution: emptyDistribution(),
		CreatedAt:        s.now().UTC(),
	}
	if batch.Name == "" {
		batch.Name = "batch-" + batch.CreatedAt.Format("20060102-150405")
	}
	batch.InputLocation = blob.Key(blob.AreaPredictions, orgID, "input", batch.BatchID.String()+".csv")

	if err := s.datasets.PutObject(ctx, batch.InputLocation, content); err != nil {
		return nil, err
	}
	if err := s.stores.Predictions.CreateBatch(ctx, batch); err != nil {
		return nil, apperrors.Storage("create batch", err)
	}

	job, err := s.enqueue(ctx, orgID, models.JobKindBatchPrediction, batch.BatchID.String(), batchJobPayload{BatchID: batch.BatchID})
	if err != nil {
		if ferr := s.stores.Predictions.FailBatch(ctx, orgID, batch.BatchID, "failed to schedule batch: "+err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("batch_id", batch.BatchID.String()).Msg("Failed to record unscheduled batch")
		}
		return nil, err
	}

	log.Info().
		Str("org_id", orgID.String()).
		Str("batch_id", batch.BatchID.String()).
		Str("job_id", job.JobID.String()).
		Msg("Queued batch prediction")
	return batch, nil
}

// GetBatch returns a prediction batch.
func (s *Service) GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*models.PredictionBatch, error) {
	batch, err := s.stores.Predictions.GetBatch(ctx, orgID, batchID)
	if err != nil {
		return nil, apperrors.Storage("get batch", err)
	}
	return batch, nil
}

// ListBatches returns a page of the organization's batches, newest first, and the total.
func (s *Service) ListBatches(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.PredictionBatch, int, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, apperrors.Validation("limit and offset must not be negative")
	}
	batches, total, err := s.stores.Predictions.ListBatches(ctx, orgID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Storage("list batches", err)
	}
	return batches, total, nil
}

// ListPredictions returns a page of a batch's predictions ordered by customer id, and the total.
func (s *Service) ListPredictions(ctx context.Context, orgID, batchID uuid.UUID, limit, offset int) ([]*models.CustomerPrediction, int, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, apperrors.Validation("limit and offset must not be negative")
	}
	predictions, total, err := s.stores.Predictions.ListPredictions(ctx, orgID, batchID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Storage("list predictions", err)
	}
	return predictions, total, nil
}

// handleBatchPrediction scores every customer in a batch input. Customers with an
// unparseable row are recorded as errors and skipped; the batch fails as a whole only
// when the input or the active model cannot be read, or no customer could be scored.
func (s *Service) handleBatchPrediction(ctx context.Context, job *models.Job) error {
	payload, err := decodePayload[batchJobPayload](job)
	if err != nil {
		return err
	}

	batch, err := s.stores.Predictions.GetBatch(ctx, job.OrgID, payload.BatchID)
	if err != nil {
		return fmt.Errorf("failed to load batch: %w", err)
	}
	if batch.Status != models.BatchStatusProcessing {
		log.Ctx(ctx).Warn().Str("status", string(batch.Status)).Msg("Batch already finished, skipping")
		return nil
	}

	if err := s.runBatch(ctx, batch); err != nil {
		if ctx.Err() != nil {
			return err
		}
		if ferr := s.stores.Predictions.FailBatch(ctx, batch.OrgID, batch.BatchID, err.Error()); ferr != nil {
			log.Ctx(ctx).Error().Err(ferr).Msg("Failed to record failed batch")
		}
		return err
	}
	return nil
}

func (s *Service) runBatch(ctx context.Context, batch *models.PredictionBatch) error {
	artifact, meta, err := s.activeArtifact(ctx, batch.OrgID)
	if err != nil {
		return err
	}

	data, err := s.datasets.GetObject(ctx, batch.InputLocation)
	if err != nil {
		return fmt.Errorf("failed to read batch input: %w", err)
	}
	parsed, err := dataset.ParseRaw(data, false)
	if err != nil {
		return fmt.Errorf("failed to parse batch input: %w", err)
	}

	// a customer with any unparseable row is not scored; rows without a customer_id
	// belong to no customer and are only counted
	var (
		customerErrors []models.CustomerError
		skippedRows    int
	)
	failed := make(map[string]bool)
	for _, rowErr := range parsed.RowErrors {
		id := rowErr.CustomerID
		if id == "" {
			skippedRows++
			continue
		}
		if failed[id] {
			continue
		}
		failed[id] = true
		customerErrors = append(customerErrors, models.CustomerError{CustomerID: id, Error: rowErr.Error()})
	}

	// a redelivered job scores the whole input again
	if err := s.stores.Predictions.ResetPredictions(ctx, batch.OrgID, batch.BatchID); err != nil {
		return fmt.Errorf("failed to reset predictions: %w", err)
	}

	metrics := telemetry.GetMetrics()
	batcher := worker.NewBatcher(s.cfg.PredictionFlushSize, 0, func(items []*models.CustomerPrediction) error {
		return s.stores.Predictions.SavePredictions(ctx, items)
	})

	ref := util.UTCDay(batch.CreatedAt)
	order, groups := dataset.GroupByCustomer(parsed.Transactions)
	distribution := emptyDistribution()
	var scored []*models.CustomerPrediction
	var sum float64

	for _, customerID := range order {
		if failed[customerID] {
			continue
		}
		prediction, err := s.score(artifact, customerID, groups[customerID], ref)
		if err != nil {
			customerErrors = append(customerErrors, models.CustomerError{CustomerID: customerID, Error: err.Error()})
			continue
		}
		prediction.BatchID = batch.BatchID
		prediction.OrgID = batch.OrgID
		prediction.ModelID = meta.ModelID
		prediction.PredictedAt = s.now().UTC()

		if err := batcher.Add(prediction); err != nil {
			return fmt.Errorf("failed to save predictions: %w", err)
		}
		scored = append(scored, prediction)
		distribution[prediction.RiskSegment]++
		sum += prediction.ChurnProbability
	}
	if err := batcher.Stop(); err != nil {
		return fmt.Errorf("failed to save predictions: %w", err)
	}

	metrics.PredictionsTotal.Add(ctx, int64(len(scored)))
	metrics.BatchCustomerErrorsTotal.Add(ctx, int64(len(customerErrors)))

	if len(scored) == 0 {
		return fmt.Errorf("no customers could be scored (%d errors)", len(customerErrors))
	}

	output, err := dataset.EncodePredictions(scored)
	if err != nil {
		return err
	}
	batch.OutputLocation = blob.Key(blob.AreaPredictions, batch.OrgID, "output", batch.BatchID.String()+".csv")
	if err := s.putOnce(ctx, batch.OutputLocation, output); err != nil {
		return fmt.Errorf("failed to store batch output: %w", err)
	}

	modelID := meta.ModelID
	batch.ModelID = &modelID
	batch.TotalCustomers = len(scored) + len(customerErrors)
	batch.AvgChurnProbability = sum / float64(len(scored))
	batch.RiskDistribution = distribution
	batch.Errors = customerErrors
	batch.SkippedRows = skippedRows

	if err := s.stores.Predictions.CompleteBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}

	log.Ctx(ctx).Info().
		Int("scored", len(scored)).
		Int("errors", len(customerErrors)).
		Int("skipped_rows", skippedRows).
		Float64("avg_churn_probability", batch.AvgChurnProbability).
		Msg("Batch prediction completed")
	return nil
}

func emptyDistribution() map[models.RiskSegment]int {
	d := make(map[models.RiskSegment]int, len(models.RiskSegments))
	for _, seg := range models.RiskSegments {
		d[seg] = 0
	}
	return d
}
