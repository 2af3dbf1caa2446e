package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/churnrunner"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Job queue metrics
	JobsEnqueuedTotal    metric.Int64Counter
	JobsDequeuedTotal    metric.Int64Counter
	JobsCompletedTotal   metric.Int64Counter
	JobsFailedTotal      metric.Int64Counter
	JobsRedeliveredTotal metric.Int64Counter
	JobsReleasedTotal    metric.Int64Counter
	VisibilityUpdates    metric.Int64Counter
	JobDuration          metric.Float64Histogram

	// Pipeline metrics
	DatasetsUploadedTotal    metric.Int64Counter
	FeatureRowsTotal         metric.Int64Counter
	TrainingRunsTotal        metric.Int64Counter
	TrainingDuration         metric.Float64Histogram
	StaleModelCompletions    metric.Int64Counter
	PredictionsTotal         metric.Int64Counter
	BatchCustomerErrorsTotal metric.Int64Counter

	// Blob metrics
	BlobReadRetriesTotal metric.Int64Counter

	// Postgres pool metrics
	PoolTotalConns    metric.Int64Gauge
	PoolAcquiredConns metric.Int64Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.JobsEnqueuedTotal, _ = meter.Int64Counter(
		"churnrunner.jobs.enqueued.total",
		metric.WithDescription("Total number of jobs enqueued"),
		metric.WithUnit("{job}"),
	)

	m.JobsDequeuedTotal, _ = meter.Int64Counter(
		"churnrunner.jobs.dequeued.total",
		metric.WithDescription("Total number of jobs dequeued"),
		metric.WithUnit("{job}"),
	)

	m.JobsCompletedTotal, _ = meter.Int64Counter(
		"churnrunner.jobs.completed.total",
		metric.WithDescription("Total number of jobs completed successfully"),
		metric.WithUnit("{job}"),
	)

	m.JobsFailedTotal, _ = meter.Int64Counter(
		"churnrunner.jobs.failed.total",
		metric.WithDescription("Total number of jobs whose handler returned an error"),
		metric.WithUnit("{job}"),
	)

	m.JobsRedeliveredTotal, _ = meter.Int64Counter(
		"churnrunner.jobs.redelivered.total",
		metric.WithDescription("Total number of jobs redelivered after their visibility timeout expired"),
		metric.WithUnit("{job}"),
	)

	m.JobsReleasedTotal, _ = meter.Int64Counter(
		"churnrunner.jobs.released.total",
		metric.WithDescription("Total number of jobs released back to queue"),
		metric.WithUnit("{job}"),
	)

	m.VisibilityUpdates, _ = meter.Int64Counter(
		"churnrunner.jobs.visibility_updates.total",
		metric.WithDescription("Total number of visibility timeout updates"),
		metric.WithUnit("{update}"),
	)

	m.JobDuration, _ = meter.Float64Histogram(
		"churnrunner.jobs.duration",
		metric.WithDescription("Duration of job handler execution"),
		metric.WithUnit("ms"),
	)

	m.DatasetsUploadedTotal, _ = meter.Int64Counter(
		"churnrunner.datasets.uploaded.total",
		metric.WithDescription("Total number of raw datasets accepted"),
		metric.WithUnit("{dataset}"),
	)

	m.FeatureRowsTotal, _ = meter.Int64Counter(
		"churnrunner.features.rows.total",
		metric.WithDescription("Total number of customer feature rows engineered"),
		metric.WithUnit("{row}"),
	)

	m.TrainingRunsTotal, _ = meter.Int64Counter(
		"churnrunner.training.runs.total",
		metric.WithDescription("Total number of finished training runs by status"),
		metric.WithUnit("{run}"),
	)

	m.TrainingDuration, _ = meter.Float64Histogram(
		"churnrunner.training.duration",
		metric.WithDescription("Duration of model selection and fitting"),
		metric.WithUnit("ms"),
	)

	m.StaleModelCompletions, _ = meter.Int64Counter(
		"churnrunner.training.stale_completions.total",
		metric.WithDescription("Total number of completed models that did not advance the active model"),
		metric.WithUnit("{model}"),
	)

	m.PredictionsTotal, _ = meter.Int64Counter(
		"churnrunner.predictions.total",
		metric.WithDescription("Total number of customer predictions produced"),
		metric.WithUnit("{prediction}"),
	)

	m.BatchCustomerErrorsTotal, _ = meter.Int64Counter(
		"churnrunner.predictions.batch_customer_errors.total",
		metric.WithDescription("Total number of customers skipped in batch prediction"),
		metric.WithUnit("{customer}"),
	)

	m.BlobReadRetriesTotal, _ = meter.Int64Counter(
		"churnrunner.blob.read_retries.total",
		metric.WithDescription("Total number of retried blob reads"),
		metric.WithUnit("{retry}"),
	)

	m.PoolTotalConns, _ = meter.Int64Gauge(
		"churnrunner.postgres.pool.total_conns",
		metric.WithDescription("Open connections in the postgres pool"),
		metric.WithUnit("{connection}"),
	)

	m.PoolAcquiredConns, _ = meter.Int64Gauge(
		"churnrunner.postgres.pool.acquired_conns",
		metric.WithDescription("Connections currently acquired from the postgres pool"),
		metric.WithUnit("{connection}"),
	)

	return m
}
