package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind identifies the handler responsible for a background job.
type JobKind string

const (
	JobKindFeatureEngineering JobKind = "feature_engineering"
	JobKindTraining           JobKind = "training"
	JobKindBatchPrediction    JobKind = "batch_prediction"
)

// JobState is the queue state of a job.
type JobState string

const (
	JobStateScheduled JobState = "scheduled"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is a unit of background work on a named queue.
type Job struct {
	JobID     uuid.UUID // UUIDv7
	OrgID     uuid.UUID
	Queue     string
	Kind      JobKind
	RequestID string // idempotency key
	State     JobState
	Payload   []byte // kind specific, JSON encoded
	Result    *JobResult
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobResult records how a job finished.
type JobResult struct {
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// JobWithToken pairs a dequeued job with the token needed to complete or release it.
type JobWithToken struct {
	Job       *Job
	TaskToken string
}
