package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

func newTestJob(orgID uuid.UUID, requestID string) *models.Job {
	return &models.Job{
		OrgID:     orgID,
		Queue:     "default",
		Kind:      models.JobKindTraining,
		RequestID: requestID,
		Payload:   []byte(`{"model_id":"x"}`),
	}
}

func TestJobStoreEnqueueJob(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	t.Run("idempotent by request id", func(t *testing.T) {
		st := NewJobStore()

		first, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)
		require.Equal(t, models.JobStateScheduled, first.State)

		second, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)
		require.Equal(t, first.JobID, second.JobID)

		jobs, err := st.DequeueJobs(ctx, "default", 10, 300)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
	})

	t.Run("get job is org scoped", func(t *testing.T) {
		st := NewJobStore()

		job, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)

		got, err := st.GetJob(ctx, orgID, job.JobID)
		require.NoError(t, err)
		require.Equal(t, models.JobKindTraining, got.Kind)

		_, err = st.GetJob(ctx, uuid.Must(uuid.NewV7()), job.JobID)
		require.ErrorIs(t, err, store.ErrJobNotFound)
	})
}

func TestJobStoreReleaseJob(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	t.Run("release job returns it to queue", func(t *testing.T) {
		st := NewJobStore()

		job, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)

		jobs, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		require.Equal(t, job.JobID, jobs[0].Job.JobID)
		require.Equal(t, models.JobStateRunning, jobs[0].Job.State)

		// Queue is now empty
		jobs2, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)
		require.Nil(t, jobs2)

		require.NoError(t, st.ReleaseJob(ctx, jobs[0].TaskToken))

		got, err := st.GetJob(ctx, orgID, job.JobID)
		require.NoError(t, err)
		require.Equal(t, models.JobStateScheduled, got.State)

		jobs3, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)
		require.Len(t, jobs3, 1)
		require.Equal(t, job.JobID, jobs3[0].Job.JobID)
		require.Equal(t, 2, jobs3[0].Job.Attempts)
	})

	t.Run("released job goes to front of queue", func(t *testing.T) {
		st := NewJobStore()

		job1, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)
		job2, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-2"))
		require.NoError(t, err)

		jobs, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)
		require.Equal(t, job1.JobID, jobs[0].Job.JobID)

		require.NoError(t, st.ReleaseJob(ctx, jobs[0].TaskToken))

		jobs2, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)
		require.Equal(t, job1.JobID, jobs2[0].Job.JobID)

		require.NoError(t, st.CompleteJob(ctx, jobs2[0].TaskToken, &models.JobResult{Success: true}))

		jobs3, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)
		require.Equal(t, job2.JobID, jobs3[0].Job.JobID)
	})

	t.Run("release with invalid token fails", func(t *testing.T) {
		st := NewJobStore()

		err := st.ReleaseJob(ctx, "invalid-token")
		require.ErrorIs(t, err, store.ErrInvalidTaskToken)
	})

	t.Run("release cleans up task token", func(t *testing.T) {
		st := NewJobStore()

		job, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)

		jobs, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)
		taskToken := jobs[0].TaskToken

		require.NoError(t, st.ReleaseJob(ctx, taskToken))

		st.mu.RLock()
		_, tokenExists := st.taskTokens[taskToken]
		_, jobTokenExists := st.jobTokens[job.JobID]
		_, invisibleExists := st.invisibleJobs[job.JobID]
		st.mu.RUnlock()

		require.False(t, tokenExists, "task token should be deleted")
		require.False(t, jobTokenExists, "job token mapping should be deleted")
		require.False(t, invisibleExists, "invisible job entry should be deleted")

		require.Error(t, st.ReleaseJob(ctx, taskToken))
	})
}

func TestJobStoreCompleteJob(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	t.Run("failure is recorded with message", func(t *testing.T) {
		st := NewJobStore()

		job, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)

		jobs, err := st.DequeueJobs(ctx, "default", 1, 300)
		require.NoError(t, err)

		err = st.CompleteJob(ctx, jobs[0].TaskToken, &models.JobResult{
			Success:      false,
			ErrorMessage: "boom",
		})
		require.NoError(t, err)

		got, err := st.GetJob(ctx, orgID, job.JobID)
		require.NoError(t, err)
		require.Equal(t, models.JobStateFailed, got.State)
		require.Equal(t, "boom", got.Result.ErrorMessage)

		// Token is single use
		err = st.CompleteJob(ctx, jobs[0].TaskToken, &models.JobResult{Success: true})
		require.ErrorIs(t, err, store.ErrInvalidTaskToken)
	})
}

func TestJobStoreVisibility(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	t.Run("expired job is redelivered", func(t *testing.T) {
		st := NewJobStore()
		now := time.Now()
		st.now = func() time.Time { return now }

		job, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)

		jobs, err := st.DequeueJobs(ctx, "default", 1, 30)
		require.NoError(t, err)
		require.Len(t, jobs, 1)

		now = now.Add(31 * time.Second)

		redelivered, err := st.DequeueJobs(ctx, "default", 1, 30)
		require.NoError(t, err)
		require.Len(t, redelivered, 1)
		require.Equal(t, job.JobID, redelivered[0].Job.JobID)

		// Stale token no longer valid
		require.ErrorIs(t, st.CompleteJob(ctx, jobs[0].TaskToken, &models.JobResult{Success: true}), store.ErrInvalidTaskToken)
	})

	t.Run("extend keeps job invisible", func(t *testing.T) {
		st := NewJobStore()
		now := time.Now()
		st.now = func() time.Time { return now }

		_, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)

		jobs, err := st.DequeueJobs(ctx, "default", 1, 30)
		require.NoError(t, err)

		now = now.Add(20 * time.Second)
		require.NoError(t, st.ExtendVisibility(ctx, "default", jobs[0].TaskToken, 30))

		now = now.Add(20 * time.Second)
		none, err := st.DequeueJobs(ctx, "default", 1, 30)
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("extend with wrong queue fails", func(t *testing.T) {
		st := NewJobStore()

		_, err := st.EnqueueJob(ctx, newTestJob(orgID, "req-1"))
		require.NoError(t, err)

		jobs, err := st.DequeueJobs(ctx, "default", 1, 30)
		require.NoError(t, err)

		err = st.ExtendVisibility(ctx, "other", jobs[0].TaskToken, 30)
		require.ErrorIs(t, err, store.ErrQueueMismatch)
	})
}
