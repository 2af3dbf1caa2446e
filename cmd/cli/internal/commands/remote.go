package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/client"
	"github.com/wolfeidau/churnrunner/internal/logger"
)

// RemoteCmd groups the commands that drive a churn server over HTTP.
type RemoteCmd struct {
	OrgCreate   OrgCreateCmd   `cmd:"" help:"Create an organization"`
	Upload      UploadCmd      `cmd:"" help:"Upload a raw events CSV"`
	Datasets    DatasetsCmd    `cmd:"" help:"List datasets"`
	Download    DownloadCmd    `cmd:"" help:"Download a dataset CSV"`
	Features    FeaturesCmd    `cmd:"" help:"Run feature engineering on a raw dataset"`
	Train       TrainCmd       `cmd:"" help:"Train a model on the latest features"`
	Status      StatusCmd      `cmd:"" help:"Show the latest training status"`
	Predict     PredictCmd     `cmd:"" help:"Submit an events CSV for batch scoring"`
	Predictions PredictionsCmd `cmd:"" help:"Export the predictions of a batch as CSV"`
}

// RemoteFlags are shared by every remote command.
type RemoteFlags struct {
	Server   string        `help:"Server URL" default:"http://localhost:8080" env:"CHURN_SERVER"`
	Timeout  time.Duration `help:"Request timeout" default:"30s"`
	CacheDir string        `help:"Cache dataset downloads in this directory" default:"" type:"path" env:"CHURN_CACHE_DIR"`
	Poll     time.Duration `help:"Interval between status polls when waiting" default:"2s"`
}

func (f RemoteFlags) client(globals *Globals) (*client.Client, error) {
	log.Logger = logger.Setup(globals.Debug)

	c, err := client.New(client.Config{
		ServerURL: f.Server,
		Timeout:   f.Timeout,
		Debug:     globals.Debug,
		CacheDir:  f.CacheDir,
		Logger:    log.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// OrgFlags select the organization a command acts on.
type OrgFlags struct {
	Org uuid.UUID `help:"Organization ID" required:"" env:"CHURN_ORG"`
}

type OrgCreateCmd struct {
	RemoteFlags `embed:""`

	Name      string `arg:"" help:"Organization name"`
	Threshold int    `help:"Days of inactivity after which a customer is labeled churned" default:"30"`
}

func (c *OrgCreateCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}
	org, err := cl.CreateOrganization(ctx, c.Name, c.Threshold)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, org)
}

type UploadCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`

	File          string `arg:"" help:"Raw events CSV" type:"existingfile"`
	HasChurnLabel bool   `help:"The file carries an explicit churn_label column" default:"false"`
	Features      bool   `help:"Run feature engineering after the upload and wait for it" default:"false"`
}

func (c *UploadCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}

	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	ds, err := cl.UploadDataset(ctx, c.Org, filepath.Base(c.File), c.HasChurnLabel, f)
	if err != nil {
		return err
	}
	log.Info().Str("dataset_id", ds.DatasetID.String()).Int("rows", ds.RowCount).Msg("Uploaded dataset")

	if c.Features {
		if _, err := runFeatures(ctx, cl, c.Org, ds.DatasetID, c.Poll); err != nil {
			return err
		}
	}
	return printJSON(os.Stdout, ds)
}

type DatasetsCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`

	Type string `help:"Only list datasets of this type (raw, features)" default:""`
}

func (c *DatasetsCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}
	list, err := cl.ListDatasets(ctx, c.Org, c.Type)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, list)
}

type DownloadCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`

	Dataset uuid.UUID `arg:"" help:"Dataset ID"`
	Output  string    `help:"Write the CSV here, - for stdout" default:"-" short:"o"`
}

func (c *DownloadCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}
	data, err := cl.DownloadDataset(ctx, c.Org, c.Dataset)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(c.Output)
	if err != nil {
		return err
	}
	defer closeOut()
	_, err = out.Write(data)
	return err
}

type FeaturesCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`

	Dataset uuid.UUID `arg:"" help:"Raw dataset ID"`
}

func (c *FeaturesCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}
	job, err := runFeatures(ctx, cl, c.Org, c.Dataset, c.Poll)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, job)
}

type TrainCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`

	ModelType string `help:"Algorithm to train" default:"auto" enum:"auto,logistic_regression,random_forest,gradient_boosting"`
	Tune      bool   `help:"Grid search hyperparameters for each candidate" default:"false"`
	Wait      bool   `help:"Wait for training to finish" default:"true" negatable:""`
}

func (c *TrainCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}
	started, err := cl.Train(ctx, c.Org, api.TrainRequest{ModelType: c.ModelType, Tune: c.Tune})
	if err != nil {
		return err
	}
	log.Info().Str("model_id", started.ModelID.String()).Msg("Training started")
	if !c.Wait {
		return printJSON(os.Stdout, started)
	}

	status, err := cl.WaitTraining(ctx, c.Org, c.Poll)
	if err != nil {
		return err
	}
	if status.Status != "completed" {
		return fmt.Errorf("training %s: %s", status.Status, status.ErrorMessage)
	}
	printTrainingSummary(os.Stderr, *status)
	return nil
}

type StatusCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`
}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}
	status, err := cl.TrainingStatus(ctx, c.Org)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, status)
}

type PredictCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`

	File   string `arg:"" help:"Events CSV of customers to score" type:"existingfile"`
	Name   string `help:"Batch name, defaults to the file name" default:""`
	Output string `help:"Write predictions CSV here once the batch completes, - for stdout" default:"-" short:"o"`
}

func (c *PredictCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}

	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("failed to open score file: %w", err)
	}
	defer f.Close()

	name := c.Name
	if name == "" {
		name = filepath.Base(c.File)
	}
	batch, err := cl.PredictBatch(ctx, c.Org, name, f)
	if err != nil {
		return err
	}
	log.Info().Str("batch_id", batch.BatchID.String()).Msg("Batch submitted")

	batch, err = cl.WaitBatch(ctx, c.Org, batch.BatchID, c.Poll)
	if err != nil {
		return err
	}
	if batch.Status != "completed" {
		return fmt.Errorf("batch prediction %s: %s", batch.Status, batch.ErrorMessage)
	}
	printBatchSummary(os.Stderr, *batch)

	out, closeOut, err := openOutput(c.Output)
	if err != nil {
		return err
	}
	defer closeOut()
	return exportPredictions(ctx, cl, c.Org, batch.BatchID, out)
}

type PredictionsCmd struct {
	RemoteFlags `embed:""`
	OrgFlags    `embed:""`

	Batch  uuid.UUID `arg:"" help:"Batch ID"`
	Output string    `help:"Write predictions CSV here, - for stdout" default:"-" short:"o"`
}

func (c *PredictionsCmd) Run(ctx context.Context, globals *Globals) error {
	cl, err := c.client(globals)
	if err != nil {
		return err
	}
	out, closeOut, err := openOutput(c.Output)
	if err != nil {
		return err
	}
	defer closeOut()
	return exportPredictions(ctx, cl, c.Org, c.Batch, out)
}

// runFeatures schedules feature engineering and waits for the job to finish.
func runFeatures(ctx context.Context, cl *client.Client, orgID, datasetID uuid.UUID, interval time.Duration) (*api.Job, error) {
	job, err := cl.ProcessFeatures(ctx, orgID, datasetID)
	if err != nil {
		return nil, err
	}
	job, err = cl.WaitJob(ctx, orgID, job.JobID, interval)
	if err != nil {
		return nil, err
	}
	if job.State != "completed" {
		msg := job.State
		if job.Result != nil && job.Result.ErrorMessage != "" {
			msg = job.Result.ErrorMessage
		}
		return nil, fmt.Errorf("feature engineering failed: %s", msg)
	}
	return job, nil
}

const exportPageSize = 1000

// exportPredictions pages through a batch's predictions and writes them as CSV.
func exportPredictions(ctx context.Context, cl *client.Client, orgID, batchID uuid.UUID, w io.Writer) error {
	var all []api.Prediction
	for offset := 0; ; offset += exportPageSize {
		page, err := cl.ListPredictions(ctx, orgID, batchID, exportPageSize, offset)
		if err != nil {
			return err
		}
		all = append(all, page.Items...)
		if len(page.Items) < exportPageSize || len(all) >= page.Total {
			break
		}
	}
	return writePredictions(w, all)
}
