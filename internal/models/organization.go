package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultChurnThresholdDays is applied when an organization does not configure its own threshold.
const DefaultChurnThresholdDays = 30

// Organization represents an organization (tenant) in the system.
// Every dataset, model and prediction is scoped to exactly one organization.
type Organization struct {
	OrgID              uuid.UUID // UUIDv7
	Name               string
	ChurnThresholdDays int // days of inactivity after which a customer is labeled churned
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Threshold returns the configured churn threshold, falling back to the default.
func (o *Organization) Threshold() int {
	if o.ChurnThresholdDays <= 0 {
		return DefaultChurnThresholdDays
	}
	return o.ChurnThresholdDays
}
