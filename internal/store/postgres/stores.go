package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfeidau/churnrunner/internal/store"
)

// NewStores builds every PostgreSQL store on one shared pool.
func NewStores(pool *pgxpool.Pool, jobCfg *JobStoreConfig) (*store.Stores, error) {
	jobs, err := NewJobStore(pool, jobCfg)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Organizations: NewOrganizationStore(pool),
		Datasets:      NewDatasetStore(pool),
		Models:        NewModelStore(pool),
		Predictions:   NewPredictionStore(pool),
		Jobs:          jobs,
	}, nil
}
