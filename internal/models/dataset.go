package models

import (
	"time"

	"github.com/google/uuid"
)

// DatasetType identifies the kind of content held by a dataset.
type DatasetType string

const (
	DatasetTypeRaw      DatasetType = "raw"      // Customer event log as uploaded
	DatasetTypeFeatures DatasetType = "features" // Per-customer feature table derived from a raw dataset
)

// DatasetStatus is the lifecycle state of a dataset.
type DatasetStatus string

const (
	DatasetStatusUploaded   DatasetStatus = "uploaded"
	DatasetStatusProcessing DatasetStatus = "processing"
	DatasetStatusReady      DatasetStatus = "ready"
	DatasetStatusError      DatasetStatus = "error"
)

// Dataset is the metadata row describing an immutable blob in object storage.
type Dataset struct {
	DatasetID     uuid.UUID // UUIDv7
	OrgID         uuid.UUID
	Type          DatasetType
	Bucket        string // logical storage area, e.g. raw-datasets
	Location      string // object key within the bucket
	Filename      string
	FileSize      int64
	Checksum      string // hex sha256 of the uploaded content
	RowCount      int
	HasChurnLabel bool
	Status        DatasetStatus
	ErrorMessage  string

	// ReferenceDate is pinned when a raw dataset first becomes ready, so repeated
	// feature runs against it measure recency from the same point in time.
	ReferenceDate *time.Time

	// SourceDatasetID links a features dataset to the raw dataset it was derived from.
	SourceDatasetID *uuid.UUID

	// MonetaryReference is the P95 of per-customer spend used to normalise monetary scores.
	MonetaryReference float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsReady reports whether the dataset has reached its terminal, immutable state.
func (d *Dataset) IsReady() bool {
	return d.Status == DatasetStatusReady
}

// Transaction is a single row of a raw event dataset.
type Transaction struct {
	CustomerID string
	EventDate  time.Time
	Amount     float64
	EventType  string
	ChurnLabel *int              // only populated when the column is present and parsable
	Extra      map[string]string // columns outside the standard schema
}
