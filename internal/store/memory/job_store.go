package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

// JobStore implements store.JobStore using in-memory storage.
// Expired visibility timeouts are swept lazily on every dequeue.
type JobStore struct {
	mu sync.RWMutex

	// Core job storage
	jobs   map[uuid.UUID]*models.Job // job ID -> Job
	queues map[string][]*models.Job  // queue name -> Jobs (FIFO)

	// Visibility timeout management
	invisibleJobs map[uuid.UUID]time.Time // job ID -> visibility expiry
	taskTokens    map[string]uuid.UUID    // task token -> job ID
	jobTokens     map[uuid.UUID]string    // job ID -> current task token (reverse map)

	// Idempotency support
	requestIDs map[string]uuid.UUID // request ID -> job ID

	now func() time.Time
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:          make(map[uuid.UUID]*models.Job),
		queues:        make(map[string][]*models.Job),
		invisibleJobs: make(map[uuid.UUID]time.Time),
		taskTokens:    make(map[string]uuid.UUID),
		jobTokens:     make(map[uuid.UUID]string),
		requestIDs:    make(map[string]uuid.UUID),
		now:           time.Now,
	}
}

// EnqueueJob adds a job to its queue, returning the existing job for a repeated request ID.
func (s *JobStore) EnqueueJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.RequestID != "" {
		if existingID, exists := s.requestIDs[job.RequestID]; exists {
			if existing := s.jobs[existingID]; existing != nil {
				log.Debug().Str("job_id", existingID.String()).Str("request_id", job.RequestID).Msg("Job already exists (idempotent)")
				return cloneJob(existing), nil
			}
		}
	}

	now := s.now()
	stored := cloneJob(job)
	stored.JobID = uuid.Must(uuid.NewV7())
	stored.State = models.JobStateScheduled
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.jobs[stored.JobID] = stored
	if stored.RequestID != "" {
		s.requestIDs[stored.RequestID] = stored.JobID
	}
	s.queues[stored.Queue] = append(s.queues[stored.Queue], stored)

	log.Info().
		Str("job_id", stored.JobID.String()).
		Str("queue", stored.Queue).
		Str("kind", string(stored.Kind)).
		Msg("Enqueued job")

	return cloneJob(stored), nil
}

// DequeueJobs claims jobs from the front of the queue.
func (s *JobStore) DequeueJobs(ctx context.Context, queue string, maxJobs int, timeoutSeconds int) ([]*models.JobWithToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requeueExpiredLocked()

	queueJobs := s.queues[queue]
	if len(queueJobs) == 0 {
		return nil, nil
	}

	numJobs := min(maxJobs, len(queueJobs))
	results := make([]*models.JobWithToken, 0, numJobs)

	for _, job := range queueJobs[:numJobs] {
		taskToken := uuid.Must(uuid.NewV7()).String()

		job.State = models.JobStateRunning
		job.Attempts++
		job.UpdatedAt = s.now()

		s.invisibleJobs[job.JobID] = s.now().Add(time.Duration(timeoutSeconds) * time.Second)
		s.taskTokens[taskToken] = job.JobID
		s.jobTokens[job.JobID] = taskToken

		results = append(results, &models.JobWithToken{
			Job:       cloneJob(job),
			TaskToken: taskToken,
		})
	}

	s.queues[queue] = append([]*models.Job(nil), queueJobs[numJobs:]...)

	return results, nil
}

// ExtendVisibility extends the visibility timeout for a claimed job.
func (s *JobStore) ExtendVisibility(ctx context.Context, queue string, taskToken string, timeoutSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID, exists := s.taskTokens[taskToken]
	if !exists {
		return store.ErrInvalidTaskToken
	}

	job := s.jobs[jobID]
	if job.Queue != queue {
		return fmt.Errorf("%w: expected queue %s", store.ErrQueueMismatch, queue)
	}

	s.invisibleJobs[jobID] = s.now().Add(time.Duration(timeoutSeconds) * time.Second)
	job.UpdatedAt = s.now()

	log.Debug().Str("job_id", jobID.String()).Int("timeout_seconds", timeoutSeconds).Msg("Updated job visibility timeout")
	return nil
}

// CompleteJob records the final state of a claimed job.
func (s *JobStore) CompleteJob(ctx context.Context, taskToken string, result *models.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID, exists := s.taskTokens[taskToken]
	if !exists {
		return store.ErrInvalidTaskToken
	}

	job := s.jobs[jobID]
	if result.Success {
		job.State = models.JobStateCompleted
	} else {
		job.State = models.JobStateFailed
	}
	res := *result
	job.Result = &res
	job.UpdatedAt = s.now()

	s.forgetTokenLocked(jobID)

	log.Info().Str("job_id", jobID.String()).Bool("success", result.Success).Msg("Job completed")
	return nil
}

// ReleaseJob returns a claimed job to the front of its queue.
func (s *JobStore) ReleaseJob(ctx context.Context, taskToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID, exists := s.taskTokens[taskToken]
	if !exists {
		return store.ErrInvalidTaskToken
	}

	job := s.jobs[jobID]
	job.State = models.JobStateScheduled
	job.UpdatedAt = s.now()
	s.queues[job.Queue] = append([]*models.Job{job}, s.queues[job.Queue]...)

	s.forgetTokenLocked(jobID)

	log.Info().Str("job_id", jobID.String()).Str("queue", job.Queue).Msg("Job released back to queue")
	return nil
}

// GetJob returns a job owned by orgID.
func (s *JobStore) GetJob(ctx context.Context, orgID, jobID uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok || job.OrgID != orgID {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// requeueExpiredLocked returns jobs whose visibility timeout has passed to their queues.
func (s *JobStore) requeueExpiredLocked() {
	now := s.now()
	for jobID, expiry := range s.invisibleJobs {
		if now.Before(expiry) {
			continue
		}
		job := s.jobs[jobID]
		job.State = models.JobStateScheduled
		s.queues[job.Queue] = append(s.queues[job.Queue], job)
		s.forgetTokenLocked(jobID)

		log.Warn().Str("job_id", jobID.String()).Msg("Job visibility expired, returned to queue")
	}
}

func (s *JobStore) forgetTokenLocked(jobID uuid.UUID) {
	delete(s.invisibleJobs, jobID)
	if token, exists := s.jobTokens[jobID]; exists {
		delete(s.taskTokens, token)
		delete(s.jobTokens, jobID)
	}
}

func cloneJob(job *models.Job) *models.Job {
	clone := *job
	clone.Payload = append([]byte(nil), job.Payload...)
	if job.Result != nil {
		res := *job.Result
		clone.Result = &res
	}
	return &clone
}
