package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/models"
)

// Sentinel errors for job queue operations
var (
	ErrInvalidTaskToken = fmt.Errorf("invalid task token: %w", apperrors.ErrValidation)
	ErrQueueMismatch    = fmt.Errorf("queue mismatch: %w", apperrors.ErrValidation)
	ErrJobNotFound      = fmt.Errorf("job not found: %w", apperrors.ErrNotFound)
)

// JobStore defines the interface for the background job queue.
// Jobs are claimed with a visibility timeout; a claimed job that is neither completed
// nor released becomes visible again once the timeout expires.
type JobStore interface {
	// EnqueueJob adds a job to its queue. If a job with the same RequestID already
	// exists the existing job is returned and nothing is enqueued.
	EnqueueJob(ctx context.Context, job *models.Job) (*models.Job, error)

	// DequeueJobs claims at most maxJobs scheduled jobs from the queue in FIFO order.
	DequeueJobs(ctx context.Context, queue string, maxJobs int, timeoutSeconds int) ([]*models.JobWithToken, error)

	// ExtendVisibility pushes out the visibility timeout of a claimed job.
	ExtendVisibility(ctx context.Context, queue string, taskToken string, timeoutSeconds int) error

	// CompleteJob records the final state of a claimed job.
	CompleteJob(ctx context.Context, taskToken string, result *models.JobResult) error

	// ReleaseJob returns a claimed job to the queue so another worker can pick it up.
	ReleaseJob(ctx context.Context, taskToken string) error

	// GetJob returns a job scoped to its organization.
	GetJob(ctx context.Context, orgID, jobID uuid.UUID) (*models.Job, error)
}

// Stores groups the stores used by the pipeline so they can be passed around together.
type Stores struct {
	Organizations OrganizationStore
	Datasets      DatasetStore
	Models        ModelStore
	Predictions   PredictionStore
	Jobs          JobStore
}
