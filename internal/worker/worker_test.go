package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store/memory"
)

func enqueue(t *testing.T, jobs *memory.JobStore, orgID uuid.UUID, kind models.JobKind) *models.Job {
	t.Helper()
	job, err := jobs.EnqueueJob(context.Background(), &models.Job{
		OrgID:   orgID,
		Queue:   DefaultQueue,
		Kind:    kind,
		Payload: []byte(`{}`),
	})
	require.NoError(t, err)
	return job
}

func TestWorkerDrainRecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewJobStore()
	orgID := uuid.New()

	ok := enqueue(t, jobs, orgID, models.JobKindFeatureEngineering)
	failing := enqueue(t, jobs, orgID, models.JobKindTraining)
	panicking := enqueue(t, jobs, orgID, models.JobKindBatchPrediction)

	w := New(jobs, Config{})
	w.Handle(models.JobKindFeatureEngineering, func(ctx context.Context, job *models.Job) error { return nil })
	w.Handle(models.JobKindTraining, func(ctx context.Context, job *models.Job) error { return errors.New("boom") })
	w.Handle(models.JobKindBatchPrediction, func(ctx context.Context, job *models.Job) error { panic("bad input") })

	require.NoError(t, w.Drain(ctx))

	got, err := jobs.GetJob(ctx, orgID, ok.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateCompleted, got.State)
	require.True(t, got.Result.Success)

	got, err = jobs.GetJob(ctx, orgID, failing.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, got.State)
	require.Equal(t, "boom", got.Result.ErrorMessage)

	got, err = jobs.GetJob(ctx, orgID, panicking.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, got.State)
	require.Contains(t, got.Result.ErrorMessage, "panicked")
}

func TestWorkerFailsUnknownKind(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewJobStore()
	orgID := uuid.New()
	job := enqueue(t, jobs, orgID, models.JobKindTraining)

	w := New(jobs, Config{})
	require.NoError(t, w.Drain(ctx))

	got, err := jobs.GetJob(ctx, orgID, job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, got.State)
	require.Contains(t, got.Result.ErrorMessage, "no handler")
}

func TestWorkerDrainRunsJobsEnqueuedByHandlers(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewJobStore()
	orgID := uuid.New()
	enqueue(t, jobs, orgID, models.JobKindFeatureEngineering)

	var trained atomic.Int32
	w := New(jobs, Config{})
	w.Handle(models.JobKindFeatureEngineering, func(ctx context.Context, job *models.Job) error {
		_, err := jobs.EnqueueJob(ctx, &models.Job{OrgID: orgID, Queue: DefaultQueue, Kind: models.JobKindTraining})
		return err
	})
	w.Handle(models.JobKindTraining, func(ctx context.Context, job *models.Job) error {
		trained.Add(1)
		return nil
	})

	require.NoError(t, w.Drain(ctx))
	require.Equal(t, int32(1), trained.Load())
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	jobs := memory.NewJobStore()
	orgID := uuid.New()

	done := make(chan struct{})
	w := New(jobs, Config{Concurrency: 2, MinIdleInterval: 5 * time.Millisecond, MaxIdleInterval: 20 * time.Millisecond})
	w.Handle(models.JobKindTraining, func(ctx context.Context, job *models.Job) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	enqueue(t, jobs, orgID, models.JobKindTraining)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerReleasesJobOnShutdown(t *testing.T) {
	jobs := memory.NewJobStore()
	orgID := uuid.New()
	job := enqueue(t, jobs, orgID, models.JobKindTraining)

	ctx, cancel := context.WithCancel(context.Background())
	w := New(jobs, Config{})
	w.Handle(models.JobKindTraining, func(ctx context.Context, job *models.Job) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := jobs.GetJob(context.Background(), orgID, job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateScheduled, got.State)
	require.Nil(t, got.Result)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{VisibilityTimeout: time.Minute, HeartbeatInterval: 2 * time.Minute}
	cfg.ApplyDefaults()
	require.Error(t, cfg.Validate())

	cfg = Config{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultQueue, cfg.Queue)
}
