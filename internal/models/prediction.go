package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskSegment is a coarse bucket derived from churn probability.
type RiskSegment string

const (
	RiskLow      RiskSegment = "Low"
	RiskMedium   RiskSegment = "Medium"
	RiskHigh     RiskSegment = "High"
	RiskCritical RiskSegment = "Critical"
)

// Segment thresholds are global so segment meaning is stable across retrains.
const (
	MediumRiskThreshold   = 0.30
	HighRiskThreshold     = 0.50
	CriticalRiskThreshold = 0.70
)

// RiskSegments lists every segment from lowest to highest risk.
var RiskSegments = []RiskSegment{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// SegmentFor maps a churn probability to its risk segment.
func SegmentFor(p float64) RiskSegment {
	switch {
	case p < MediumRiskThreshold:
		return RiskLow
	case p < HighRiskThreshold:
		return RiskMedium
	case p < CriticalRiskThreshold:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// BatchStatus is the lifecycle state of a prediction batch.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// CustomerError records a customer that could not be scored in a batch.
type CustomerError struct {
	CustomerID string `json:"customer_id"`
	Error      string `json:"error"`
}

// PredictionBatch tracks a bulk prediction request.
type PredictionBatch struct {
	BatchID             uuid.UUID // UUIDv7
	OrgID               uuid.UUID
	Name                string
	TotalCustomers      int
	InputLocation       string
	OutputLocation      string
	Status              BatchStatus
	AvgChurnProbability float64
	RiskDistribution    map[RiskSegment]int
	Errors              []CustomerError
	SkippedRows         int // input rows without a customer_id
	ErrorMessage        string
	ModelID             *uuid.UUID
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// CustomerPrediction is a single scored customer.
type CustomerPrediction struct {
	PredictionID       uuid.UUID // UUIDv7
	BatchID            uuid.UUID
	OrgID              uuid.UUID
	ExternalCustomerID string
	ChurnProbability   float64
	RiskSegment        RiskSegment
	Features           map[string]float64
	ModelID            uuid.UUID
	PredictedAt        time.Time
}
