package server

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/churnrunner/internal/dataset"
	httpmiddleware "github.com/wolfeidau/churnrunner/internal/http"
	"github.com/wolfeidau/churnrunner/internal/logger"
	"github.com/wolfeidau/churnrunner/internal/models"
	"github.com/wolfeidau/churnrunner/internal/pipeline"
)

// DefaultMaxUploadBytes bounds CSV request bodies.
const DefaultMaxUploadBytes = 100 << 20

// Pipeline is the set of churn pipeline operations exposed over HTTP.
type Pipeline interface {
	CreateOrganization(ctx context.Context, name string, churnThresholdDays int) (*models.Organization, error)
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	UploadDataset(ctx context.Context, req dataset.UploadRequest) (*models.Dataset, error)
	GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error)
	ListDatasets(ctx context.Context, orgID uuid.UUID, dsType models.DatasetType) ([]*models.Dataset, error)
	DownloadDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, []byte, error)
	ProcessFeatures(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, orgID, jobID uuid.UUID) (*models.Job, error)

	Train(ctx context.Context, orgID uuid.UUID, req pipeline.TrainRequest) (*models.ModelMetadata, error)
	TrainingStatus(ctx context.Context, orgID uuid.UUID) (*pipeline.TrainingStatus, error)

	PredictOne(ctx context.Context, orgID uuid.UUID, req pipeline.PredictRequest) (*models.CustomerPrediction, error)
	PredictBatch(ctx context.Context, orgID uuid.UUID, name string, content []byte) (*models.PredictionBatch, error)
	GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*models.PredictionBatch, error)
	ListBatches(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.PredictionBatch, int, error)
	ListPredictions(ctx context.Context, orgID, batchID uuid.UUID, limit, offset int) ([]*models.CustomerPrediction, int, error)
}

var _ Pipeline = (*pipeline.Service)(nil)

// Server is the HTTP/JSON surface over the pipeline.
type Server struct {
	pipeline       Pipeline
	validate       *validator.Validate
	maxUploadBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes overrides DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// NewServer creates a server over the given pipeline.
func NewServer(p Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:       p,
		validate:       newValidator(),
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the server with request logging and CORS applied.
func (s *Server) Handler(log zerolog.Logger, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /v1/orgs", s.createOrganization)
	mux.HandleFunc("GET /v1/orgs/{org}", s.getOrganization)

	mux.HandleFunc("POST /v1/orgs/{org}/datasets", s.uploadDataset)
	mux.HandleFunc("GET /v1/orgs/{org}/datasets", s.listDatasets)
	mux.HandleFunc("GET /v1/orgs/{org}/datasets/{id}", s.getDataset)
	mux.HandleFunc("GET /v1/orgs/{org}/datasets/{id}/download", s.downloadDataset)
	mux.HandleFunc("POST /v1/orgs/{org}/datasets/{id}/features", s.processFeatures)
	mux.HandleFunc("GET /v1/orgs/{org}/jobs/{id}", s.getJob)

	mux.HandleFunc("POST /v1/orgs/{org}/train", s.train)
	mux.HandleFunc("GET /v1/orgs/{org}/training-status", s.trainingStatus)

	mux.HandleFunc("POST /v1/orgs/{org}/predict", s.predict)
	mux.HandleFunc("POST /v1/orgs/{org}/batches", s.createBatch)
	mux.HandleFunc("GET /v1/orgs/{org}/batches", s.listBatches)
	mux.HandleFunc("GET /v1/orgs/{org}/batches/{id}", s.getBatch)
	mux.HandleFunc("GET /v1/orgs/{org}/batches/{id}/predictions", s.listPredictions)

	var handler http.Handler = mux
	handler = withCORS(corsOrigins, handler)
	handler = logger.NewHTTPRequests(log)(handler)
	handler = httpmiddleware.Metadata()(handler)
	return handler
}

// withCORS adds CORS support for browser clients of the JSON API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
		ExposedHeaders: []string{"Content-Disposition", "Location", httpmiddleware.RequestIDHeader},
	})
	return middleware.Handler(h)
}
