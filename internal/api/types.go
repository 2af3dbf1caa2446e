// Package api holds the JSON request and response bodies of the churn HTTP API. The
// server renders them and the client decodes them.
package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/churnrunner/internal/models"
)

const DateLayout = "2006-01-02"

type CreateOrganizationRequest struct {
	Name               string `json:"name" validate:"required,max=200"`
	ChurnThresholdDays int    `json:"churn_threshold_days" validate:"min=0,max=3650"`
}

type Organization struct {
	OrgID              uuid.UUID `json:"org_id"`
	Name               string    `json:"name"`
	ChurnThresholdDays int       `json:"churn_threshold_days"`
	CreatedAt          time.Time `json:"created_at"`
}

func FromOrganization(o *models.Organization) Organization {
	return Organization{
		OrgID:              o.OrgID,
		Name:               o.Name,
		ChurnThresholdDays: o.Threshold(),
		CreatedAt:          o.CreatedAt,
	}
}

type Dataset struct {
	DatasetID         uuid.UUID  `json:"dataset_id"`
	OrgID             uuid.UUID  `json:"org_id"`
	Type              string     `json:"type"`
	Bucket            string     `json:"bucket"`
	FilePath          string     `json:"file_path"`
	Filename          string     `json:"filename,omitempty"`
	FileSize          int64      `json:"file_size"`
	Checksum          string     `json:"checksum"`
	RowCount          int        `json:"row_count"`
	HasChurnLabel     bool       `json:"has_churn_label"`
	Status            string     `json:"status"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ReferenceDate     string     `json:"reference_date,omitempty"`
	SourceDatasetID   *uuid.UUID `json:"source_dataset_id,omitempty"`
	MonetaryReference float64    `json:"monetary_reference,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func FromDataset(d *models.Dataset) Dataset {
	resp := Dataset{
		DatasetID:         d.DatasetID,
		OrgID:             d.OrgID,
		Type:              string(d.Type),
		Bucket:            d.Bucket,
		FilePath:          d.Location,
		Filename:          d.Filename,
		FileSize:          d.FileSize,
		Checksum:          d.Checksum,
		RowCount:          d.RowCount,
		HasChurnLabel:     d.HasChurnLabel,
		Status:            string(d.Status),
		ErrorMessage:      d.ErrorMessage,
		SourceDatasetID:   d.SourceDatasetID,
		MonetaryReference: d.MonetaryReference,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.ReferenceDate != nil {
		resp.ReferenceDate = d.ReferenceDate.Format(DateLayout)
	}
	return resp
}

type DatasetList struct {
	Datasets []Dataset `json:"datasets"`
}

type Job struct {
	JobID     uuid.UUID         `json:"job_id"`
	Kind      string            `json:"kind"`
	State     string            `json:"state"`
	Attempts  int               `json:"attempts"`
	Result    *models.JobResult `json:"result,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func FromJob(j *models.Job) Job {
	return Job{
		JobID:     j.JobID,
		Kind:      string(j.Kind),
		State:     string(j.State),
		Attempts:  j.Attempts,
		Result:    j.Result,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

type TrainRequest struct {
	ModelType string `json:"model_type" validate:"omitempty,oneof=auto logistic_regression random_forest gradient_boosting"`
	Tune      bool   `json:"tune"`
}

type TrainResponse struct {
	ModelID   uuid.UUID `json:"model_id"`
	Status    string    `json:"status"`
	ModelType string    `json:"model_type"`
	Tune      bool      `json:"tune"`
	CreatedAt time.Time `json:"created_at"`
}

func FromModel(m *models.ModelMetadata) TrainResponse {
	return TrainResponse{
		ModelID:   m.ModelID,
		Status:    string(m.Status),
		ModelType: m.ModelType,
		Tune:      m.Tune,
		CreatedAt: m.CreatedAt,
	}
}

// TrainingStatus reports the most recent training run of an organization.
type TrainingStatus struct {
	Status          string               `json:"status"`
	ModelID         *uuid.UUID           `json:"model_id,omitempty"`
	ModelType       string               `json:"model_type,omitempty"`
	Metrics         *models.ModelMetrics `json:"metrics,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	TrainingSamples int                  `json:"training_samples,omitempty"`
	ChurnRate       float64              `json:"churn_rate,omitempty"`
	CreatedAt       *time.Time           `json:"created_at,omitempty"`
	TrainedAt       *time.Time           `json:"trained_at,omitempty"`
}

type Transaction struct {
	EventDate string  `json:"event_date" validate:"required"`
	Amount    float64 `json:"amount" validate:"min=0"`
	EventType string  `json:"event_type,omitempty"`
}

type PredictRequest struct {
	CustomerID   string        `json:"customer_id" validate:"required,max=256"`
	Transactions []Transaction `json:"transactions" validate:"required,min=1,dive"`
}

type Prediction struct {
	CustomerID       string             `json:"customer_id"`
	ChurnProbability float64            `json:"churn_probability"`
	RiskSegment      string             `json:"risk_segment"`
	Features         map[string]float64 `json:"features,omitempty"`
	ModelID          uuid.UUID          `json:"model_id"`
	PredictedAt      time.Time          `json:"predicted_at"`
}

func FromPrediction(p *models.CustomerPrediction) Prediction {
	return Prediction{
		CustomerID:       p.ExternalCustomerID,
		ChurnProbability: p.ChurnProbability,
		RiskSegment:      string(p.RiskSegment),
		Features:         p.Features,
		ModelID:          p.ModelID,
		PredictedAt:      p.PredictedAt,
	}
}

type Batch struct {
	BatchID             uuid.UUID                  `json:"batch_id"`
	Name                string                     `json:"name"`
	Status              string                     `json:"status"`
	TotalCustomers      int                        `json:"total_customers"`
	AvgChurnProbability float64                    `json:"avg_churn_probability"`
	RiskDistribution    map[models.RiskSegment]int `json:"risk_distribution"`
	Errors              []models.CustomerError     `json:"errors"`
	SkippedRows         int                        `json:"skipped_rows"`
	ErrorMessage        string                     `json:"error_message,omitempty"`
	ModelID             *uuid.UUID                 `json:"model_id,omitempty"`
	OutputLocation      string                     `json:"output_location,omitempty"`
	CreatedAt           time.Time                  `json:"created_at"`
	CompletedAt         *time.Time                 `json:"completed_at,omitempty"`
}

func FromBatch(b *models.PredictionBatch) Batch {
	errs := b.Errors
	if errs == nil {
		errs = []models.CustomerError{}
	}
	return Batch{
		BatchID:             b.BatchID,
		Name:                b.Name,
		Status:              string(b.Status),
		TotalCustomers:      b.TotalCustomers,
		AvgChurnProbability: b.AvgChurnProbability,
		RiskDistribution:    b.RiskDistribution,
		Errors:              errs,
		SkippedRows:         b.SkippedRows,
		ErrorMessage:        b.ErrorMessage,
		ModelID:             b.ModelID,
		OutputLocation:      b.OutputLocation,
		CreatedAt:           b.CreatedAt,
		CompletedAt:         b.CompletedAt,
	}
}

type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
