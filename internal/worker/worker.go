package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
)

// DefaultQueue is the queue pipeline jobs are enqueued on.
const DefaultQueue = "pipeline"

// Handler executes a job. A returned error marks the job failed; it is not retried.
type Handler func(ctx context.Context, job *models.Job) error

// Config controls polling and visibility.
type Config struct {
	Queue             string        `yaml:"queue"`
	Concurrency       int           `yaml:"concurrency"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MinIdleInterval   time.Duration `yaml:"min_idle_interval"`
	MaxIdleInterval   time.Duration `yaml:"max_idle_interval"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.VisibilityTimeout / 3
	}
	if c.MinIdleInterval <= 0 {
		c.MinIdleInterval = 200 * time.Millisecond
	}
	if c.MaxIdleInterval <= 0 {
		c.MaxIdleInterval = 5 * time.Second
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.HeartbeatInterval >= c.VisibilityTimeout {
		return fmt.Errorf("heartbeat interval (%s) must be less than visibility timeout (%s)", c.HeartbeatInterval, c.VisibilityTimeout)
	}
	if c.MinIdleInterval > c.MaxIdleInterval {
		return fmt.Errorf("min idle interval (%s) exceeds max idle interval (%s)", c.MinIdleInterval, c.MaxIdleInterval)
	}
	return nil
}

// Worker claims jobs from a queue and dispatches them to handlers by kind.
type Worker struct {
	jobs     store.JobStore
	cfg      Config
	mu       sync.RWMutex
	handlers map[models.JobKind]Handler
	now      func() time.Time
}

// New creates a worker. Register handlers with Handle before calling Run or Drain.
func New(jobs store.JobStore, cfg Config) *Worker {
	cfg.ApplyDefaults()
	return &Worker{
		jobs:     jobs,
		cfg:      cfg,
		handlers: make(map[models.JobKind]Handler),
		now:      time.Now,
	}
}

// Queue returns the queue the worker polls.
func (w *Worker) Queue() string {
	return w.cfg.Queue
}

// Handle registers the handler for a job kind.
func (w *Worker) Handle(kind models.JobKind, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

// Run polls the queue with Concurrency loops until ctx is cancelled. Idle loops back off
// exponentially between MinIdleInterval and MaxIdleInterval.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Str("queue", w.cfg.Queue).
		Int("concurrency", w.cfg.Concurrency).
		Msg("Worker starting")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(gctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.MinIdleInterval
	bo.MaxInterval = w.cfg.MaxIdleInterval

	for {
		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error().Err(err).Int("loop", id).Msg("Error processing job")
		}

		if processed {
			bo.Reset()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// Drain processes jobs until the queue has nothing visible. Jobs enqueued by handlers
// are processed too.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

// ProcessNext claims and executes at most one job. It reports whether a job was claimed.
// Handler failures are recorded on the job and are not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	claimed, err := w.jobs.DequeueJobs(ctx, w.cfg.Queue, 1, w.timeoutSeconds())
	if err != nil {
		return false, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	job, token := claimed[0].Job, claimed[0].TaskToken
	metrics := telemetry.GetMetrics()
	kindAttr := metric.WithAttributes(attribute.String("kind", string(job.Kind)))
	metrics.JobsDequeuedTotal.Add(ctx, 1, kindAttr)
	if job.Attempts > 1 {
		metrics.JobsRedeliveredTotal.Add(ctx, 1, kindAttr)
	}

	logger := log.With().
		Str("job_id", job.JobID.String()).
		Str("kind", string(job.Kind)).
		Str("org_id", job.OrgID.String()).
		Int("attempt", job.Attempts).
		Logger()
	jobCtx := logger.WithContext(ctx)

	w.mu.RLock()
	handler, ok := w.handlers[job.Kind]
	w.mu.RUnlock()
	if !ok {
		handler = func(context.Context, *models.Job) error {
			return fmt.Errorf("no handler registered for job kind %q", job.Kind)
		}
	}

	jobCtx, span := telemetry.Tracer().Start(jobCtx, "job "+string(job.Kind), trace.WithAttributes(
		attribute.String("job.id", job.JobID.String()),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("org.id", job.OrgID.String()),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	logger.Info().Msg("Job dequeued")
	started := w.now()

	heartbeatCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeat(heartbeatCtx, token)
	}()

	runErr := w.execute(jobCtx, handler, job)

	stopHeartbeat()
	wg.Wait()

	metrics.JobDuration.Record(ctx, float64(w.now().Sub(started).Milliseconds()), kindAttr)

	// shutting down: hand the job back rather than recording a failure
	if runErr != nil && ctx.Err() != nil && errors.Is(runErr, context.Canceled) {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := w.jobs.ReleaseJob(releaseCtx, token); err != nil {
			return true, fmt.Errorf("failed to release job %s: %w", job.JobID, err)
		}
		metrics.JobsReleasedTotal.Add(releaseCtx, 1, kindAttr)
		logger.Info().Msg("Job released on shutdown")
		return true, nil
	}

	result := &models.JobResult{Success: runErr == nil, FinishedAt: w.now().UTC()}
	if runErr != nil {
		result.ErrorMessage = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "job failed")
		metrics.JobsFailedTotal.Add(ctx, 1, kindAttr)
		logger.Error().Err(runErr).Msg("Job failed")
	} else {
		metrics.JobsCompletedTotal.Add(ctx, 1, kindAttr)
		logger.Info().Dur("duration", w.now().Sub(started)).Msg("Job completed")
	}

	// complete with a fresh context so a shutdown mid-job still records the outcome
	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.jobs.CompleteJob(completeCtx, token, result); err != nil {
		return true, fmt.Errorf("failed to complete job %s: %w", job.JobID, err)
	}

	return true, nil
}

func (w *Worker) execute(ctx context.Context, handler Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Str("stack", string(debug.Stack())).Msg("Job handler panicked")
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) heartbeat(ctx context.Context, token string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.jobs.ExtendVisibility(ctx, w.cfg.Queue, token, w.timeoutSeconds())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.Ctx(ctx).Warn().Err(err).Msg("Failed to extend job visibility")
				continue
			}
			telemetry.GetMetrics().VisibilityUpdates.Add(ctx, 1)
		}
	}
}

func (w *Worker) timeoutSeconds() int {
	return max(1, int(w.cfg.VisibilityTimeout/time.Second))
}
