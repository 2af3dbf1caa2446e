//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) *store.Stores {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// a second run applies nothing
	require.NoError(t, RunMigrations(ctx, pool))

	stores, err := NewStores(pool, &JobStoreConfig{TokenSigningSecret: []byte("test-secret-key-min-32-bytes-long")})
	require.NoError(t, err)
	return stores
}

func createOrg(t *testing.T, ctx context.Context, stores *store.Stores, name string) *models.Organization {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	org := &models.Organization{OrgID: uuid.Must(uuid.NewV7()), Name: name, ChurnThresholdDays: 45, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, stores.Organizations.Create(ctx, org))
	return org
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	stores := setupPostgresContainer(t, ctx)

	org := createOrg(t, ctx, stores, "acme")
	other := createOrg(t, ctx, stores, "globex")

	t.Run("organizations", func(t *testing.T) {
		got, err := stores.Organizations.Get(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, "acme", got.Name)
		require.Equal(t, 45, got.ChurnThresholdDays)

		err = stores.Organizations.Create(ctx, org)
		require.ErrorIs(t, err, store.ErrOrganizationAlreadyExists)

		got.ChurnThresholdDays = 60
		require.NoError(t, stores.Organizations.Update(ctx, got))
		got, err = stores.Organizations.Get(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, 60, got.ChurnThresholdDays)

		_, err = stores.Organizations.Get(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})

	raw := &models.Dataset{
		DatasetID: uuid.Must(uuid.NewV7()),
		OrgID:     org.OrgID,
		Type:      models.DatasetTypeRaw,
		Bucket:    "raw-datasets",
		Location:  "acme/raw.csv",
		Filename:  "raw.csv",
		Status:    models.DatasetStatusUploaded,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	t.Run("datasets", func(t *testing.T) {
		require.NoError(t, stores.Datasets.CreateDataset(ctx, raw))

		_, err := stores.Datasets.GetDataset(ctx, other.OrgID, raw.DatasetID)
		require.ErrorIs(t, err, store.ErrDatasetNotFound)

		require.NoError(t, stores.Datasets.UpdateDatasetStatus(ctx, org.OrgID, raw.DatasetID, models.DatasetStatusProcessing, ""))

		first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		pinned, err := stores.Datasets.MarkDatasetReady(ctx, org.OrgID, raw.DatasetID, 500, first)
		require.NoError(t, err)
		require.Equal(t, first, pinned)

		// the reference date and row count stick once ready
		pinned, err = stores.Datasets.MarkDatasetReady(ctx, org.OrgID, raw.DatasetID, 10, first.AddDate(0, 1, 0))
		require.NoError(t, err)
		require.Equal(t, first, pinned)

		got, err := stores.Datasets.GetDataset(ctx, org.OrgID, raw.DatasetID)
		require.NoError(t, err)
		require.Equal(t, models.DatasetStatusReady, got.Status)
		require.Equal(t, 500, got.RowCount)

		err = stores.Datasets.UpdateDatasetStatus(ctx, org.OrgID, raw.DatasetID, models.DatasetStatusError, "nope")
		require.ErrorIs(t, err, store.ErrDatasetImmutable)
		err = stores.Datasets.UpdateDatasetStatus(ctx, org.OrgID, uuid.New(), models.DatasetStatusError, "nope")
		require.ErrorIs(t, err, store.ErrDatasetNotFound)

		_, err = stores.Datasets.LatestReadyFeatures(ctx, org.OrgID)
		require.ErrorIs(t, err, store.ErrDatasetNotFound)

		features := &models.Dataset{
			DatasetID:         uuid.Must(uuid.NewV7()),
			OrgID:             org.OrgID,
			Type:              models.DatasetTypeFeatures,
			Bucket:            "processed-datasets",
			Location:          "acme/features.csv",
			Status:            models.DatasetStatusProcessing,
			SourceDatasetID:   &raw.DatasetID,
			MonetaryReference: 812.5,
			CreatedAt:         time.Now().UTC(),
			UpdatedAt:         time.Now().UTC(),
		}
		require.NoError(t, stores.Datasets.CreateDataset(ctx, features))
		_, err = stores.Datasets.MarkDatasetReady(ctx, org.OrgID, features.DatasetID, 120, first)
		require.NoError(t, err)

		latest, err := stores.Datasets.LatestReadyFeatures(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, features.DatasetID, latest.DatasetID)
		require.Equal(t, raw.DatasetID, *latest.SourceDatasetID)
		require.InDelta(t, 812.5, latest.MonetaryReference, 1e-9)

		all, err := stores.Datasets.ListDatasets(ctx, org.OrgID, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, features.DatasetID, all[0].DatasetID)

		rawOnly, err := stores.Datasets.ListDatasets(ctx, org.OrgID, models.DatasetTypeRaw)
		require.NoError(t, err)
		require.Len(t, rawOnly, 1)
	})

	var modelID uuid.UUID

	t.Run("models", func(t *testing.T) {
		_, err := stores.Models.GetActiveModel(ctx, org.OrgID)
		require.ErrorIs(t, err, store.ErrNoActiveModel)

		first := &models.ModelMetadata{ModelID: uuid.Must(uuid.NewV7()), OrgID: org.OrgID, ModelType: models.ModelTypeAuto, CreatedAt: time.Now().UTC()}
		require.NoError(t, stores.Models.CreateTrainingModel(ctx, first))

		second := &models.ModelMetadata{ModelID: uuid.Must(uuid.NewV7()), OrgID: org.OrgID, ModelType: models.ModelTypeAuto, CreatedAt: time.Now().UTC()}
		require.ErrorIs(t, stores.Models.CreateTrainingModel(ctx, second), store.ErrTrainingInProgress)

		first.Location = "acme/models/first.json"
		first.ModelType = models.ModelTypeRandomForest
		first.Metrics = &models.ModelMetrics{Accuracy: 0.9, ROCAUC: 0.93, FeatureImportance: map[string]float64{"recency_score": 0.6}}
		advanced, err := stores.Models.CompleteModel(ctx, first, 0)
		require.NoError(t, err)
		require.True(t, advanced)

		_, err = stores.Models.CompleteModel(ctx, first, 1)
		require.ErrorIs(t, err, store.ErrModelNotTraining)

		active, err := stores.Models.GetActiveModel(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, first.ModelID, active.ModelID)
		require.EqualValues(t, 1, active.Version)

		// a run that read a stale version completes without moving the pointer
		require.NoError(t, stores.Models.CreateTrainingModel(ctx, second))
		advanced, err = stores.Models.CompleteModel(ctx, second, 0)
		require.NoError(t, err)
		require.False(t, advanced)

		third := &models.ModelMetadata{ModelID: uuid.Must(uuid.NewV7()), OrgID: org.OrgID, ModelType: models.ModelTypeAuto, CreatedAt: time.Now().UTC()}
		require.NoError(t, stores.Models.CreateTrainingModel(ctx, third))
		advanced, err = stores.Models.CompleteModel(ctx, third, 1)
		require.NoError(t, err)
		require.True(t, advanced)

		active, err = stores.Models.GetActiveModel(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, third.ModelID, active.ModelID)
		require.EqualValues(t, 2, active.Version)

		got, err := stores.Models.GetModel(ctx, org.OrgID, first.ModelID)
		require.NoError(t, err)
		require.Equal(t, models.ModelStatusCompleted, got.Status)
		require.InDelta(t, 0.93, got.Metrics.ROCAUC, 1e-9)
		require.NotNil(t, got.TrainedAt)

		failing := &models.ModelMetadata{ModelID: uuid.Must(uuid.NewV7()), OrgID: org.OrgID, ModelType: models.ModelTypeAuto, CreatedAt: time.Now().UTC()}
		require.NoError(t, stores.Models.CreateTrainingModel(ctx, failing))
		require.NoError(t, stores.Models.FailModel(ctx, org.OrgID, failing.ModelID, "single class"))
		require.ErrorIs(t, stores.Models.FailModel(ctx, org.OrgID, failing.ModelID, "again"), store.ErrModelNotTraining)
		require.ErrorIs(t, stores.Models.FailModel(ctx, org.OrgID, uuid.New(), "missing"), store.ErrModelNotFound)

		latest, err := stores.Models.LatestModel(ctx, org.OrgID)
		require.NoError(t, err)
		require.Equal(t, failing.ModelID, latest.ModelID)
		require.Equal(t, "single class", latest.ErrorMessage)

		_, err = stores.Models.GetModel(ctx, other.OrgID, first.ModelID)
		require.ErrorIs(t, err, store.ErrModelNotFound)

		modelID = third.ModelID
	})

	t.Run("predictions", func(t *testing.T) {
		batch := &models.PredictionBatch{
			BatchID:       uuid.Must(uuid.NewV7()),
			OrgID:         org.OrgID,
			Name:          "march",
			InputLocation: "acme/batches/in.csv",
			Status:        models.BatchStatusProcessing,
			CreatedAt:     time.Now().UTC(),
		}
		require.NoError(t, stores.Predictions.CreateBatch(ctx, batch))

		now := time.Now().UTC()
		var preds []*models.CustomerPrediction
		for i := range 5 {
			p := 0.2 * float64(i)
			preds = append(preds, &models.CustomerPrediction{
				PredictionID:       uuid.Must(uuid.NewV7()),
				BatchID:            batch.BatchID,
				OrgID:              org.OrgID,
				ExternalCustomerID: fmt.Sprintf("cust-%d", 4-i),
				ChurnProbability:   p,
				RiskSegment:        models.SegmentFor(p),
				Features:           map[string]float64{"recency_score": p},
				ModelID:            modelID,
				PredictedAt:        now,
			})
		}
		require.NoError(t, stores.Predictions.SavePredictions(ctx, preds))

		foreign := *preds[0]
		foreign.PredictionID = uuid.Must(uuid.NewV7())
		foreign.OrgID = other.OrgID
		require.ErrorIs(t, stores.Predictions.SavePredictions(ctx, []*models.CustomerPrediction{&foreign}), store.ErrBatchNotFound)

		again := *preds[1]
		again.PredictionID = uuid.Must(uuid.NewV7())
		require.ErrorIs(t, stores.Predictions.SavePredictions(ctx, []*models.CustomerPrediction{&again}), store.ErrPredictionExists)

		// a redelivered job clears the earlier attempt before scoring again
		require.NoError(t, stores.Predictions.ResetPredictions(ctx, org.OrgID, batch.BatchID))
		_, total, err := stores.Predictions.ListPredictions(ctx, org.OrgID, batch.BatchID, 0, 0)
		require.NoError(t, err)
		require.Zero(t, total)
		require.NoError(t, stores.Predictions.SavePredictions(ctx, preds))

		page, total, err := stores.Predictions.ListPredictions(ctx, org.OrgID, batch.BatchID, 2, 1)
		require.NoError(t, err)
		require.Equal(t, 5, total)
		require.Len(t, page, 2)
		require.Equal(t, "cust-1", page[0].ExternalCustomerID)
		require.Equal(t, "cust-2", page[1].ExternalCustomerID)

		batch.TotalCustomers = 6
		batch.OutputLocation = "acme/batches/out.csv"
		batch.AvgChurnProbability = 0.4
		batch.RiskDistribution = map[models.RiskSegment]int{models.RiskLow: 2, models.RiskMedium: 1, models.RiskHigh: 1, models.RiskCritical: 1}
		batch.Errors = []models.CustomerError{{CustomerID: "cust-x", Error: "invalid date"}}
		batch.SkippedRows = 3
		batch.ModelID = &modelID
		require.NoError(t, stores.Predictions.CompleteBatch(ctx, batch))

		got, err := stores.Predictions.GetBatch(ctx, org.OrgID, batch.BatchID)
		require.NoError(t, err)
		require.Equal(t, models.BatchStatusCompleted, got.Status)
		require.Equal(t, 2, got.RiskDistribution[models.RiskLow])
		require.Len(t, got.Errors, 1)
		require.Equal(t, 3, got.SkippedRows)
		require.NotNil(t, got.CompletedAt)

		failed := &models.PredictionBatch{BatchID: uuid.Must(uuid.NewV7()), OrgID: org.OrgID, Name: "bad", Status: models.BatchStatusProcessing, CreatedAt: time.Now().UTC()}
		require.NoError(t, stores.Predictions.CreateBatch(ctx, failed))
		require.NoError(t, stores.Predictions.FailBatch(ctx, org.OrgID, failed.BatchID, "no customers"))

		list, total, err := stores.Predictions.ListBatches(ctx, org.OrgID, 0, 0)
		require.NoError(t, err)
		require.Equal(t, 2, total)
		require.Equal(t, failed.BatchID, list[0].BatchID)

		_, err = stores.Predictions.GetBatch(ctx, other.OrgID, batch.BatchID)
		require.ErrorIs(t, err, store.ErrBatchNotFound)
	})
}

func TestIntegration_JobQueue(t *testing.T) {
	ctx := context.Background()
	stores := setupPostgresContainer(t, ctx)
	org := createOrg(t, ctx, stores, "acme")

	enqueue := func(requestID string) *models.Job {
		job, err := stores.Jobs.EnqueueJob(ctx, &models.Job{
			OrgID:     org.OrgID,
			Queue:     "pipeline",
			Kind:      models.JobKindTraining,
			RequestID: requestID,
			Payload:   []byte(`{"model_id":"x"}`),
		})
		require.NoError(t, err)
		return job
	}

	first := enqueue("req-1")
	require.Equal(t, models.JobStateScheduled, first.State)
	require.Equal(t, first.JobID, enqueue("req-1").JobID)
	second := enqueue("")

	claimed, err := stores.Jobs.DequeueJobs(ctx, "pipeline", 10, 30)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, first.JobID, claimed[0].Job.JobID)
	require.Equal(t, second.JobID, claimed[1].Job.JobID)
	require.Equal(t, 1, claimed[0].Job.Attempts)
	require.JSONEq(t, `{"model_id":"x"}`, string(claimed[0].Job.Payload))

	empty, err := stores.Jobs.DequeueJobs(ctx, "pipeline", 10, 30)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, stores.Jobs.ExtendVisibility(ctx, "pipeline", claimed[0].TaskToken, 60))
	require.ErrorIs(t, stores.Jobs.ExtendVisibility(ctx, "other", claimed[0].TaskToken, 60), store.ErrQueueMismatch)

	require.NoError(t, stores.Jobs.CompleteJob(ctx, claimed[0].TaskToken, &models.JobResult{Success: true, FinishedAt: time.Now().UTC()}))
	require.ErrorIs(t, stores.Jobs.CompleteJob(ctx, claimed[0].TaskToken, &models.JobResult{Success: true}), store.ErrInvalidTaskToken)

	done, err := stores.Jobs.GetJob(ctx, org.OrgID, first.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateCompleted, done.State)
	require.True(t, done.Result.Success)

	_, err = stores.Jobs.GetJob(ctx, uuid.New(), first.JobID)
	require.ErrorIs(t, err, store.ErrJobNotFound)

	require.NoError(t, stores.Jobs.ReleaseJob(ctx, claimed[1].TaskToken))
	again, err := stores.Jobs.DequeueJobs(ctx, "pipeline", 10, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 2, again[0].Job.Attempts)

	// an expired claim is redelivered and the stale token stops working
	time.Sleep(1500 * time.Millisecond)
	redelivered, err := stores.Jobs.DequeueJobs(ctx, "pipeline", 10, 30)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	require.Equal(t, 3, redelivered[0].Job.Attempts)
	require.ErrorIs(t, stores.Jobs.ReleaseJob(ctx, again[0].TaskToken), store.ErrInvalidTaskToken)

	require.NoError(t, stores.Jobs.CompleteJob(ctx, redelivered[0].TaskToken, &models.JobResult{Success: false, ErrorMessage: "boom"}))
	failed, err := stores.Jobs.GetJob(ctx, org.OrgID, second.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, failed.State)
	require.Equal(t, "boom", failed.Result.ErrorMessage)
}
