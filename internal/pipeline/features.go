package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/labeler"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/store"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
	"github.com/wolfeidau/churnrunner/internal/util"
)

// ProcessFeatures enqueues feature engineering for a raw dataset and returns the job.
// Every run produces a new features dataset; runs against the same raw dataset may
// overlap and do not replace each other's output.
func (s *Service) ProcessFeatures(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Job, error) {
	ds, err := s.GetDataset(ctx, orgID, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Type != models.DatasetTypeRaw {
		return nil, apperrors.Validation("dataset %s is a %s dataset, feature engineering needs a raw dataset", datasetID, ds.Type)
	}

	job, err := s.enqueue(ctx, orgID, models.JobKindFeatureEngineering, "", featureJobPayload{DatasetID: datasetID})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("org_id", orgID.String()).
		Str("dataset_id", datasetID.String()).
		Str("job_id", job.JobID.String()).
		Msg("Queued feature engineering")
	return job, nil
}

// handleFeatureEngineering pins the raw dataset's reference date, derives one feature row
// per customer, labels each customer and stores the rows as a new features dataset.
func (s *Service) handleFeatureEngineering(ctx context.Context, job *models.Job) error {
	payload, err := decodePayload[featureJobPayload](job)
	if err != nil {
		return err
	}

	raw, err := s.stores.Datasets.GetDataset(ctx, job.OrgID, payload.DatasetID)
	if err != nil {
		return fmt.Errorf("failed to load raw dataset: %w", err)
	}

	// a raw dataset that is already ready keeps its status and pinned reference date
	fail := func(err error) error {
		if !raw.IsReady() {
			uerr := s.stores.Datasets.UpdateDatasetStatus(ctx, raw.OrgID, raw.DatasetID, models.DatasetStatusError, err.Error())
			if uerr != nil && !errors.Is(uerr, store.ErrDatasetImmutable) {
				log.Ctx(ctx).Error().Err(uerr).Msg("Failed to record dataset error")
			}
		}
		return err
	}

	if !raw.IsReady() {
		err := s.stores.Datasets.UpdateDatasetStatus(ctx, raw.OrgID, raw.DatasetID, models.DatasetStatusProcessing, "")
		switch {
		case errors.Is(err, store.ErrDatasetImmutable):
			// an overlapping run made it ready after it was loaded
			raw.Status = models.DatasetStatusReady
		case err != nil:
			return fmt.Errorf("failed to mark dataset processing: %w", err)
		}
	}

	org, err := s.stores.Organizations.Get(ctx, job.OrgID)
	if err != nil {
		return fail(fmt.Errorf("failed to load organization: %w", err))
	}

	parsed, err := s.datasets.LoadTransactions(ctx, raw)
	if err != nil {
		return fail(fmt.Errorf("failed to read raw dataset: %w", err))
	}
	if len(parsed.RowErrors) > 0 {
		return fail(fmt.Errorf("raw dataset has %d invalid rows, first: %w", len(parsed.RowErrors), parsed.RowErrors[0]))
	}
	if len(parsed.Transactions) == 0 {
		return fail(apperrors.Validation("raw dataset has no transactions"))
	}

	ref, err := s.stores.Datasets.MarkDatasetReady(ctx, raw.OrgID, raw.DatasetID, len(parsed.Transactions), util.UTCDay(s.now()))
	if err != nil {
		return fail(fmt.Errorf("failed to mark dataset ready: %w", err))
	}
	raw.Status = models.DatasetStatusReady

	records, monetaryRef := s.engine.Compute(parsed.Transactions, ref)

	labels := labeler.Labels(parsed.Transactions, ref, org.Threshold(), raw.HasChurnLabel)
	if missing := labeler.Apply(records, labels); missing > 0 {
		log.Ctx(ctx).Warn().Int("unlabeled", missing).Msg("Customers left without a churn label")
	}

	out, err := s.datasets.SaveFeatures(ctx, raw, records, monetaryRef, ref)
	if err != nil {
		return fmt.Errorf("failed to save features: %w", err)
	}

	telemetry.GetMetrics().FeatureRowsTotal.Add(ctx, int64(len(records)))
	log.Ctx(ctx).Info().
		Str("features_dataset_id", out.DatasetID.String()).
		Time("reference_date", ref).
		Float64("monetary_reference", monetaryRef).
		Int("customers", len(records)).
		Msg("Engineered features")
	return nil
}
