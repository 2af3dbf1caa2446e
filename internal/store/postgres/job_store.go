package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
	"github.com/wolfeidau/churnrunner/internal/util"
)

var _ store.JobStore = (*JobStore)(nil)

// JobStore implements store.JobStore on PostgreSQL. Jobs are claimed with
// FOR UPDATE SKIP LOCKED, so any number of workers can share one queue table.
type JobStore struct {
	pool *pgxpool.Pool
	cfg  *JobStoreConfig
}

// NewJobStore creates a job store on an existing pool.
func NewJobStore(pool *pgxpool.Pool, cfg *JobStoreConfig) (*JobStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &JobStore{pool: pool, cfg: cfg}, nil
}

func (s *JobStore) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

const jobColumns = `job_id, org_id, queue, kind, COALESCE(request_id, ''), state, payload, result, attempts, created_at, updated_at`

// returningJobColumns qualifies jobColumns for UPDATE ... FROM statements.
const returningJobColumns = `jobs.job_id, jobs.org_id, jobs.queue, jobs.kind, COALESCE(jobs.request_id, ''), jobs.state,
		jobs.payload, jobs.result, jobs.attempts, jobs.created_at, jobs.updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job        models.Job
		kind       string
		state      string
		resultJSON []byte
	)
	err := row.Scan(&job.JobID, &job.OrgID, &job.Queue, &kind, &job.RequestID, &state,
		&job.Payload, &resultJSON, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Kind = models.JobKind(kind)
	job.State = models.JobState(state)

	if len(resultJSON) > 0 {
		var res models.JobResult
		if err := util.UnmarshalJSON(resultJSON, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
		}
		job.Result = &res
	}
	return &job, nil
}

// EnqueueJob inserts a scheduled job. A repeated request ID returns the job already stored.
func (s *JobStore) EnqueueJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	if job.RequestID != "" {
		existing, err := s.getJobByRequestID(ctx, job.RequestID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Debug().Str("job_id", existing.JobID.String()).Str("request_id", job.RequestID).Msg("Job already exists (idempotent)")
			return existing, nil
		}
	}

	var requestID *string
	if job.RequestID != "" {
		requestID = &job.RequestID
	}

	jobID := uuid.Must(uuid.NewV7())
	now := time.Now().UTC()

	query := `
		INSERT INTO jobs (job_id, org_id, queue, kind, request_id, state, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (request_id) WHERE request_id IS NOT NULL DO NOTHING
		RETURNING ` + jobColumns

	stored, err := scanJob(s.pool.QueryRow(ctx, query,
		jobID, job.OrgID, job.Queue, string(job.Kind), requestID,
		string(models.JobStateScheduled), job.Payload, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// lost a race with another insert for the same request ID
			existing, err := s.getJobByRequestID(ctx, job.RequestID)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				log.Debug().Str("job_id", existing.JobID.String()).Str("request_id", job.RequestID).Msg("Job created concurrently (race)")
				return existing, nil
			}
			return nil, fmt.Errorf("concurrent insert conflict but job not found")
		}
		return nil, mapPostgresError(err)
	}

	log.Info().
		Str("job_id", stored.JobID.String()).
		Str("queue", stored.Queue).
		Str("kind", string(stored.Kind)).
		Msg("Enqueued job")

	return stored, nil
}

// DequeueJobs claims scheduled jobs, and running jobs whose visibility timeout has expired,
// in creation order. Each claim gets a fresh receipt handle embedded in its task token.
func (s *JobStore) DequeueJobs(ctx context.Context, queue string, maxJobs int, timeoutSeconds int) ([]*models.JobWithToken, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	query := `
		WITH claimable AS (
			SELECT job_id
			FROM jobs
			WHERE queue = $1
			  AND (state = 'scheduled' OR (state = 'running' AND visibility_until < NOW()))
			ORDER BY created_at ASC, job_id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET
			state = 'running',
			attempts = jobs.attempts + 1,
			visibility_until = NOW() + $3 * INTERVAL '1 second',
			receipt_handle = gen_random_uuid(),
			updated_at = NOW()
		FROM claimable
		WHERE jobs.job_id = claimable.job_id
		RETURNING jobs.receipt_handle, ` + returningJobColumns

	rows, err := s.pool.Query(ctx, query, queue, maxJobs, timeoutSeconds)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var results []*models.JobWithToken
	for rows.Next() {
		var receipt uuid.UUID
		job, err := scanJob(receiptRow{rows: rows, receipt: &receipt})
		if err != nil {
			return nil, mapPostgresError(err)
		}

		token := s.encodeTaskToken(taskToken{JobID: job.JobID, Queue: job.Queue, ReceiptHandle: receipt})
		results = append(results, &models.JobWithToken{Job: job, TaskToken: token})

		log.Debug().
			Str("job_id", job.JobID.String()).
			Str("queue", queue).
			Int("attempts", job.Attempts).
			Msg("Dequeued job")
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}

	// claim order is not preserved by UPDATE ... RETURNING
	slices.SortFunc(results, func(a, b *models.JobWithToken) int {
		if c := a.Job.CreatedAt.Compare(b.Job.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.Job.JobID[:], b.Job.JobID[:])
	})

	return results, nil
}

// ExtendVisibility pushes out the visibility timeout of a job still held by taskToken.
func (s *JobStore) ExtendVisibility(ctx context.Context, queue string, taskToken string, timeoutSeconds int) error {
	tt, err := s.decodeTaskToken(taskToken)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid task token")
		return err
	}
	if tt.Queue != queue {
		return fmt.Errorf("%w: token queue %s, expected %s", store.ErrQueueMismatch, tt.Queue, queue)
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET visibility_until = NOW() + $1 * INTERVAL '1 second', updated_at = NOW()
		WHERE job_id = $2 AND receipt_handle = $3 AND state = 'running'
	`, timeoutSeconds, tt.JobID, tt.ReceiptHandle)
	if err != nil {
		return mapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: job not found or receipt handle mismatch", store.ErrInvalidTaskToken)
	}

	log.Debug().Str("job_id", tt.JobID.String()).Int("timeout_seconds", timeoutSeconds).Msg("Updated job visibility timeout")
	return nil
}

// CompleteJob stores the result and moves the job to completed or failed.
func (s *JobStore) CompleteJob(ctx context.Context, taskToken string, result *models.JobResult) error {
	tt, err := s.decodeTaskToken(taskToken)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid task token")
		return err
	}

	finalState := models.JobStateFailed
	if result.Success {
		finalState = models.JobStateCompleted
	}

	resultJSON, err := util.MarshalJSON(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	execResult, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET
			state = $1,
			result = $2,
			visibility_until = NULL,
			receipt_handle = NULL,
			updated_at = NOW()
		WHERE job_id = $3 AND receipt_handle = $4
	`, string(finalState), resultJSON, tt.JobID, tt.ReceiptHandle)
	if err != nil {
		return mapPostgresError(err)
	}
	if execResult.RowsAffected() == 0 {
		return fmt.Errorf("%w: job not found or receipt handle mismatch", store.ErrInvalidTaskToken)
	}

	log.Info().
		Str("job_id", tt.JobID.String()).
		Str("state", string(finalState)).
		Bool("success", result.Success).
		Msg("Completed job")

	return nil
}

// ReleaseJob returns a claimed job to the scheduled state.
func (s *JobStore) ReleaseJob(ctx context.Context, taskToken string) error {
	tt, err := s.decodeTaskToken(taskToken)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid task token")
		return err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET
			state = 'scheduled',
			visibility_until = NULL,
			receipt_handle = NULL,
			updated_at = NOW()
		WHERE job_id = $1 AND receipt_handle = $2
	`, tt.JobID, tt.ReceiptHandle)
	if err != nil {
		return mapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: job not found or receipt handle mismatch", store.ErrInvalidTaskToken)
	}

	log.Info().Str("job_id", tt.JobID.String()).Msg("Released job back to queue")
	return nil
}

// GetJob returns a job owned by orgID.
func (s *JobStore) GetJob(ctx context.Context, orgID, jobID uuid.UUID) (*models.Job, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 AND org_id = $2`, jobID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, mapPostgresError(err)
	}
	return job, nil
}

// getJobByRequestID returns nil without error when no job carries requestID.
func (s *JobStore) getJobByRequestID(ctx context.Context, requestID string) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE request_id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapPostgresError(err)
	}
	return job, nil
}

// receiptRow scans the leading receipt handle column before handing the rest to scanJob.
type receiptRow struct {
	rows    pgx.Rows
	receipt *uuid.UUID
}

func (r receiptRow) Scan(dest ...any) error {
	return r.rows.Scan(append([]any{r.receipt}, dest...)...)
}
