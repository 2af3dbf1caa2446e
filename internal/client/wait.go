package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/models"
)

var errPending = errors.New("still pending")

// WaitJob polls a job until it completes or fails.
func (c *Client) WaitJob(ctx context.Context, orgID, jobID uuid.UUID, interval time.Duration) (*api.Job, error) {
	return poll(ctx, interval, func() (*api.Job, bool, error) {
		job, err := c.GetJob(ctx, orgID, jobID)
		if err != nil {
			return nil, false, err
		}
		done := job.State == string(models.JobStateCompleted) || job.State == string(models.JobStateFailed)
		return job, done, nil
	})
}

// WaitTraining polls the training status until the latest run leaves the training state.
func (c *Client) WaitTraining(ctx context.Context, orgID uuid.UUID, interval time.Duration) (*api.TrainingStatus, error) {
	return poll(ctx, interval, func() (*api.TrainingStatus, bool, error) {
		status, err := c.TrainingStatus(ctx, orgID)
		if err != nil {
			return nil, false, err
		}
		return status, status.Status != string(models.ModelStatusTraining), nil
	})
}

// WaitBatch polls a prediction batch until it finishes processing.
func (c *Client) WaitBatch(ctx context.Context, orgID, batchID uuid.UUID, interval time.Duration) (*api.Batch, error) {
	return poll(ctx, interval, func() (*api.Batch, bool, error) {
		batch, err := c.GetBatch(ctx, orgID, batchID)
		if err != nil {
			return nil, false, err
		}
		return batch, batch.Status != string(models.BatchStatusProcessing), nil
	})
}

// poll calls fetch every interval until it reports done or ctx ends. Client errors stop
// polling immediately; server errors and transport failures are retried.
func poll[T any](ctx context.Context, interval time.Duration, fetch func() (T, bool, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, done, err := fetch()
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
				return v, backoff.Permanent(err)
			}
			return v, err
		}
		if !done {
			return v, errPending
		}
		return v, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(interval)), backoff.WithMaxElapsedTime(0))
}
