package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/dataset"
	"github.com/wolfeidau/churnrunner/internal/logger"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/pipeline"
	"github.com/wolfeidau/churnrunner/internal/store/memory"
	"github.com/wolfeidau/churnrunner/internal/worker"
)

type LocalCmd struct {
	Data          string `arg:"" help:"raw event CSV used for feature engineering and training" type:"existingfile"`
	Score         string `help:"event CSV of customers to score, defaults to the training data" type:"existingfile"`
	HasChurnLabel bool   `help:"the data file carries an explicit churn_label column" default:"false"`
	Threshold     int    `help:"days of inactivity after which a customer is labeled churned" default:"30"`
	ModelType     string `help:"algorithm to train" default:"auto" enum:"auto,logistic_regression,random_forest,gradient_boosting"`
	Tune          bool   `help:"grid search hyperparameters for each candidate" default:"false"`
	Config        string `help:"pipeline YAML configuration" default:"" env:"CHURN_PIPELINE_CONFIG" type:"existingfile"`
	BlobRoot      string `help:"persist datasets and models below this directory instead of in memory" default:"" type:"path"`
	Output        string `help:"write predictions CSV here, - for stdout" default:"-" short:"o"`
}

// localRun is the in-process pipeline shared by each stage of a local run.
type localRun struct {
	svc    *pipeline.Service
	worker *worker.Worker
	org    *models.Organization
}

func (c *LocalCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	cfg, err := pipeline.LoadConfig(c.Config)
	if err != nil {
		return err
	}

	backend := blob.Backend(blob.NewMemoryBackend())
	if c.BlobRoot != "" {
		fb, err := blob.NewFileBackend(c.BlobRoot)
		if err != nil {
			return err
		}
		backend = fb
	}

	stores := memory.NewStores()
	svc := pipeline.New(cfg, stores, blob.New(backend))
	w := worker.New(stores.Jobs, cfg.Worker)
	svc.Register(w)

	org, err := svc.CreateOrganization(ctx, "local", c.Threshold)
	if err != nil {
		return err
	}
	run := &localRun{svc: svc, worker: w, org: org}

	if err := run.engineer(ctx, c.Data, c.HasChurnLabel); err != nil {
		return err
	}
	status, err := run.train(ctx, pipeline.TrainRequest{ModelType: c.ModelType, Tune: c.Tune})
	if err != nil {
		return err
	}
	printTrainingSummary(os.Stderr, api.TrainingStatus(*status))

	scoreFile := c.Score
	if scoreFile == "" {
		scoreFile = c.Data
	}
	batch, predictions, err := run.score(ctx, scoreFile)
	if err != nil {
		return err
	}
	printBatchSummary(os.Stderr, api.FromBatch(batch))

	out, closeOut, err := openOutput(c.Output)
	if err != nil {
		return err
	}
	defer closeOut()
	return writePredictions(out, predictions)
}

func (r *localRun) drain(ctx context.Context) error {
	if err := r.worker.Drain(ctx); err != nil {
		return fmt.Errorf("failed to process jobs: %w", err)
	}
	return nil
}

func (r *localRun) engineer(ctx context.Context, path string, hasLabel bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}

	raw, err := r.svc.UploadDataset(ctx, dataset.UploadRequest{
		OrgID:         r.org.OrgID,
		Filename:      filepath.Base(path),
		HasChurnLabel: hasLabel,
		Content:       content,
	})
	if err != nil {
		return err
	}
	log.Info().Str("dataset_id", raw.DatasetID.String()).Int("rows", raw.RowCount).Msg("Uploaded dataset")

	job, err := r.svc.ProcessFeatures(ctx, r.org.OrgID, raw.DatasetID)
	if err != nil {
		return err
	}
	if err := r.drain(ctx); err != nil {
		return err
	}
	return r.checkJob(ctx, job.JobID, "feature engineering")
}

func (r *localRun) checkJob(ctx context.Context, jobID uuid.UUID, stage string) error {
	job, err := r.svc.GetJob(ctx, r.org.OrgID, jobID)
	if err != nil {
		return err
	}
	if job.State != models.JobStateCompleted {
		msg := string(job.State)
		if job.Result != nil && job.Result.ErrorMessage != "" {
			msg = job.Result.ErrorMessage
		}
		return fmt.Errorf("%s failed: %s", stage, msg)
	}
	return nil
}

func (r *localRun) train(ctx context.Context, req pipeline.TrainRequest) (*pipeline.TrainingStatus, error) {
	if _, err := r.svc.Train(ctx, r.org.OrgID, req); err != nil {
		return nil, err
	}
	if err := r.drain(ctx); err != nil {
		return nil, err
	}

	status, err := r.svc.TrainingStatus(ctx, r.org.OrgID)
	if err != nil {
		return nil, err
	}
	if status.Status != string(models.ModelStatusCompleted) {
		return nil, fmt.Errorf("training %s: %s", status.Status, status.ErrorMessage)
	}
	return status, nil
}

func (r *localRun) score(ctx context.Context, path string) (*models.PredictionBatch, []api.Prediction, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read score file: %w", err)
	}

	batch, err := r.svc.PredictBatch(ctx, r.org.OrgID, filepath.Base(path), content)
	if err != nil {
		return nil, nil, err
	}
	if err := r.drain(ctx); err != nil {
		return nil, nil, err
	}

	batch, err = r.svc.GetBatch(ctx, r.org.OrgID, batch.BatchID)
	if err != nil {
		return nil, nil, err
	}
	if batch.Status != models.BatchStatusCompleted {
		return nil, nil, fmt.Errorf("batch prediction %s: %s", batch.Status, batch.ErrorMessage)
	}

	predictions, _, err := r.svc.ListPredictions(ctx, r.org.OrgID, batch.BatchID, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	out := make([]api.Prediction, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, api.FromPrediction(p))
	}
	return batch, out, nil
}
