package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
)

type featureJobPayload struct {
	DatasetID uuid.UUID `json:"dataset_id"`
}

type trainingJobPayload struct {
	ModelID uuid.UUID `json:"model_id"`
}

type batchJobPayload struct {
	BatchID uuid.UUID `json:"batch_id"`
}

func (s *Service) enqueue(ctx context.Context, orgID uuid.UUID, kind models.JobKind, requestID string, payload any) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	job, err := s.stores.Jobs.EnqueueJob(ctx, &models.Job{
		OrgID:     orgID,
		Queue:     s.cfg.Worker.Queue,
		Kind:      kind,
		RequestID: requestID,
		Payload:   data,
	})
	if err != nil {
		return nil, apperrors.Storage("enqueue job", err)
	}

	telemetry.GetMetrics().JobsEnqueuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	return job, nil
}

func decodePayload[T any](job *models.Job) (T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode %s payload: %w", job.Kind, err)
	}
	return payload, nil
}

// putOnce writes a job's output object. Keys are derived from the entity the job
// completes, so an existing object was written by an earlier attempt of the same job.
func (s *Service) putOnce(ctx context.Context, key string, data []byte) error {
	err := s.datasets.PutObject(ctx, key, data)
	if errors.Is(err, blob.ErrObjectExists) {
		log.Ctx(ctx).Info().Str("key", key).Msg("Object stored by an earlier attempt, keeping it")
		return nil
	}
	return err
}
