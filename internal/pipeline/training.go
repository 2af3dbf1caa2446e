package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/ml"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
)

// TrainRequest selects the algorithm family and whether to grid search it.
type TrainRequest struct {
	ModelType string `json:"model_type"`
	Tune      bool   `json:"tune"`
}

// TrainingStatus is the polling view of an organization's most recent training run.
type TrainingStatus struct {
	Status          string               `json:"status"`
	ModelID         *uuid.UUID           `json:"model_id,omitempty"`
	ModelType       string               `json:"model_type,omitempty"`
	Metrics         *models.ModelMetrics `json:"metrics,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	TrainingSamples int                  `json:"training_samples,omitempty"`
	ChurnRate       float64              `json:"churn_rate,omitempty"`
	CreatedAt       *time.Time           `json:"created_at,omitempty"`
	TrainedAt       *time.Time           `json:"trained_at,omitempty"`
}

// Train starts a training run against the organization's latest ready features dataset.
// It fails with a conflict while another run for the organization is in flight.
func (s *Service) Train(ctx context.Context, orgID uuid.UUID, req TrainRequest) (*models.ModelMetadata, error) {
	if req.ModelType == "" {
		req.ModelType = models.ModelTypeAuto
	}
	if _, err := ml.ParseModelType(req.ModelType); err != nil {
		return nil, err
	}
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	featuresDS, err := s.stores.Datasets.LatestReadyFeatures(ctx, orgID)
	if err != nil {
		return nil, apperrors.Storage("find features dataset", err)
	}
	featuresID := featuresDS.DatasetID

	meta := &models.ModelMetadata{
		ModelID:           uuid.Must(uuid.NewV7()),
		OrgID:             orgID,
		ModelType:         req.ModelType,
		Tune:              req.Tune || s.cfg.Training.Tune,
		Status:            models.ModelStatusTraining,
		FeaturesDatasetID: &featuresID,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.stores.Models.CreateTrainingModel(ctx, meta); err != nil {
		return nil, apperrors.Storage("create model", err)
	}

	job, err := s.enqueue(ctx, orgID, models.JobKindTraining, meta.ModelID.String(), trainingJobPayload{ModelID: meta.ModelID})
	if err != nil {
		if ferr := s.stores.Models.FailModel(ctx, orgID, meta.ModelID, "failed to schedule training: "+err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("model_id", meta.ModelID.String()).Msg("Failed to record unscheduled training run")
		}
		return nil, err
	}

	log.Info().
		Str("org_id", orgID.String()).
		Str("model_id", meta.ModelID.String()).
		Str("features_dataset_id", featuresID.String()).
		Str("model_type", meta.ModelType).
		Bool("tune", meta.Tune).
		Str("job_id", job.JobID.String()).
		Msg("Queued training")
	return meta, nil
}

// TrainingStatus returns the organization's most recent run regardless of outcome.
func (s *Service) TrainingStatus(ctx context.Context, orgID uuid.UUID) (*TrainingStatus, error) {
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	meta, err := s.stores.Models.LatestModel(ctx, orgID)
	if errors.Is(err, store.ErrModelNotFound) {
		return &TrainingStatus{Status: models.TrainingStatusNotStarted}, nil
	}
	if err != nil {
		return nil, apperrors.Storage("get latest model", err)
	}

	status := &TrainingStatus{
		Status:    string(meta.Status),
		ModelID:   &meta.ModelID,
		ModelType: meta.ModelType,
		CreatedAt: &meta.CreatedAt,
		TrainedAt: meta.TrainedAt,
	}
	switch meta.Status {
	case models.ModelStatusCompleted:
		status.Metrics = meta.Metrics
		status.TrainingSamples = meta.TrainingSamples
		status.ChurnRate = meta.ChurnRate
	case models.ModelStatusFailed:
		status.ErrorMessage = meta.ErrorMessage
	}
	return status, nil
}

// handleTraining runs model selection for a training run and records the outcome. Any
// failure marks the run failed and leaves the active model untouched.
func (s *Service) handleTraining(ctx context.Context, job *models.Job) error {
	payload, err := decodePayload[trainingJobPayload](job)
	if err != nil {
		return err
	}

	meta, err := s.stores.Models.GetModel(ctx, job.OrgID, payload.ModelID)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	if meta.IsTerminal() {
		log.Ctx(ctx).Warn().Str("status", string(meta.Status)).Msg("Training run already finished, skipping")
		return nil
	}

	started := s.now()
	err = s.train(ctx, meta)

	metrics := telemetry.GetMetrics()
	metrics.TrainingDuration.Record(ctx, float64(s.now().Sub(started).Milliseconds()))
	if err != nil {
		// shutdown: leave the run training so the redelivered job picks it up
		if ctx.Err() != nil {
			return err
		}
		metrics.TrainingRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(models.ModelStatusFailed))))
		if ferr := s.stores.Models.FailModel(ctx, meta.OrgID, meta.ModelID, err.Error()); ferr != nil {
			log.Ctx(ctx).Error().Err(ferr).Msg("Failed to record failed training run")
		}
		return err
	}

	metrics.TrainingRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(models.ModelStatusCompleted))))
	return nil
}

func (s *Service) train(ctx context.Context, meta *models.ModelMetadata) error {
	expectedVersion, err := s.activeVersion(ctx, meta.OrgID)
	if err != nil {
		return fmt.Errorf("failed to read active model: %w", err)
	}

	if meta.FeaturesDatasetID == nil {
		return apperrors.Training("training run has no features dataset")
	}
	featuresDS, err := s.stores.Datasets.GetDataset(ctx, meta.OrgID, *meta.FeaturesDatasetID)
	if err != nil {
		return fmt.Errorf("failed to load features dataset: %w", err)
	}
	records, err := s.datasets.LoadFeatures(ctx, featuresDS)
	if err != nil {
		return fmt.Errorf("failed to read features dataset: %w", err)
	}

	x := make([][]float64, 0, len(records))
	y := make([]int, 0, len(records))
	for _, rec := range records {
		if rec.ChurnLabel == nil {
			continue
		}
		x = append(x, rec.Vector())
		y = append(y, *rec.ChurnLabel)
	}

	algorithm, err := ml.ParseModelType(meta.ModelType)
	if err != nil {
		return err
	}

	result, err := s.trainer.Train(ctx, ml.TrainRequest{
		X:            x,
		Y:            y,
		FeatureNames: models.FeatureNames,
		Algorithm:    algorithm,
		Tune:         meta.Tune,
	})
	if err != nil {
		return err
	}

	trainedAt := s.now().UTC()
	artifact := ml.NewArtifact(result, models.FeatureNames, featuresDS.MonetaryReference, trainedAt)
	data, err := ml.EncodeArtifact(artifact)
	if err != nil {
		return err
	}

	location := blob.Key(blob.AreaModelArtifacts, meta.OrgID, "model", meta.ModelID.String()+".json")
	if err := s.putOnce(ctx, location, data); err != nil {
		return fmt.Errorf("failed to store model artifact: %w", err)
	}

	completed := *meta
	completed.Location = location
	completed.ModelType = string(result.Model.Algorithm)
	completed.Metrics = &result.Metrics
	completed.TrainingSamples = len(y)
	completed.ChurnRate = float64(result.Metrics.PositiveCount) / float64(len(y))
	completed.TrainedAt = &trainedAt

	advanced, err := s.stores.Models.CompleteModel(ctx, &completed, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to record completed model: %w", err)
	}
	if !advanced {
		telemetry.GetMetrics().StaleModelCompletions.Add(ctx, 1)
	}

	log.Ctx(ctx).Info().
		Str("model_type", completed.ModelType).
		Float64("roc_auc", result.Metrics.ROCAUC).
		Float64("cv_mean", result.Metrics.CVMean).
		Int("training_samples", completed.TrainingSamples).
		Bool("active", advanced).
		Msg("Training completed")
	return nil
}
