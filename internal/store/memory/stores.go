package memory

import "github.com/wolfeidau/churnrunner/internal/store"

// NewStores returns a full set of empty in-memory stores.
func NewStores() store.Stores {
	return store.Stores{
		Organizations: NewOrganizationStore(),
		Datasets:      NewDatasetStore(),
		Models:        NewModelStore(),
		Predictions:   NewPredictionStore(),
		Jobs:          NewJobStore(),
	}
}
