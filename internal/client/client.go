// Package client is a Go client for the churn HTTP API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	httpmiddleware "github.com/wolfeidau/churnrunner/internal/http"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	Debug     bool
	// CacheDir persists cached dataset downloads. Empty keeps them in memory.
	CacheDir string
	// Logger receives a line per request when Debug is set.
	Logger zerolog.Logger
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		Timeout:   5 * time.Minute,
	}
}

// Client calls the churn API of a single server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	debug   bool
	log     zerolog.Logger
}

// New creates a client with a caching HTTP transport.
func New(cfg Config) (*Client, error) {
	hc := NewCachingHTTPClient(cfg.CacheDir)
	hc.Timeout = cfg.Timeout

	c, err := NewWithHTTPClient(cfg.ServerURL, hc)
	if err != nil {
		return nil, err
	}
	c.debug = cfg.Debug
	c.log = cfg.Logger
	return c, nil
}

// NewWithHTTPClient creates a client that sends requests through hc.
func NewWithHTTPClient(serverURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", serverURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: missing host", serverURL)
	}
	return &Client{baseURL: u, http: hc}, nil
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

// Unwrap exposes the server's error classification so callers can use errors.Is with
// the apperrors sentinels.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "validation", "too_large":
		return apperrors.ErrValidation
	case "not_found":
		return apperrors.ErrNotFound
	case "conflict":
		return apperrors.ErrConflict
	case "training":
		return apperrors.ErrTraining
	case "storage":
		return apperrors.ErrStorage
	default:
		return nil
	}
}

func (c *Client) CreateOrganization(ctx context.Context, name string, thresholdDays int) (*api.Organization, error) {
	var org api.Organization
	body := api.CreateOrganizationRequest{Name: name, ChurnThresholdDays: thresholdDays}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/orgs", nil, body, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

func (c *Client) GetOrganization(ctx context.Context, orgID uuid.UUID) (*api.Organization, error) {
	var org api.Organization
	if err := c.doJSON(ctx, http.MethodGet, orgPath(orgID), nil, nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// UploadDataset stores a raw events CSV for the organization.
func (c *Client) UploadDataset(ctx context.Context, orgID uuid.UUID, filename string, hasChurnLabel bool, content io.Reader) (*api.Dataset, error) {
	q := url.Values{}
	if filename != "" {
		q.Set("filename", filename)
	}
	if hasChurnLabel {
		q.Set("has_churn_label", "true")
	}

	var ds api.Dataset
	if err := c.doCSV(ctx, orgPath(orgID)+"/datasets", q, content, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListDatasets lists the organization's datasets, newest first. An empty datasetType
// returns every type.
func (c *Client) ListDatasets(ctx context.Context, orgID uuid.UUID, datasetType string) ([]api.Dataset, error) {
	q := url.Values{}
	if datasetType != "" {
		q.Set("type", datasetType)
	}

	var list api.DatasetList
	if err := c.doJSON(ctx, http.MethodGet, orgPath(orgID)+"/datasets", q, nil, &list); err != nil {
		return nil, err
	}
	return list.Datasets, nil
}

func (c *Client) GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*api.Dataset, error) {
	var ds api.Dataset
	if err := c.doJSON(ctx, http.MethodGet, datasetPath(orgID, datasetID), nil, nil, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// DownloadDataset returns the CSV content of a dataset.
func (c *Client) DownloadDataset(ctx context.Context, orgID, datasetID uuid.UUID) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, datasetPath(orgID, datasetID)+"/download", nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return data, nil
}

// ProcessFeatures schedules feature engineering for a raw dataset.
func (c *Client) ProcessFeatures(ctx context.Context, orgID, datasetID uuid.UUID) (*api.Job, error) {
	var job api.Job
	if err := c.doJSON(ctx, http.MethodPost, datasetPath(orgID, datasetID)+"/features", nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) GetJob(ctx context.Context, orgID, jobID uuid.UUID) (*api.Job, error) {
	var job api.Job
	if err := c.doJSON(ctx, http.MethodGet, orgPath(orgID)+"/jobs/"+jobID.String(), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Train starts a training run.
func (c *Client) Train(ctx context.Context, orgID uuid.UUID, req api.TrainRequest) (*api.TrainResponse, error) {
	var resp api.TrainResponse
	if err := c.doJSON(ctx, http.MethodPost, orgPath(orgID)+"/train", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TrainingStatus(ctx context.Context, orgID uuid.UUID) (*api.TrainingStatus, error) {
	var status api.TrainingStatus
	if err := c.doJSON(ctx, http.MethodGet, orgPath(orgID)+"/training-status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Predict scores a single customer from their transactions.
func (c *Client) Predict(ctx context.Context, orgID uuid.UUID, req api.PredictRequest) (*api.Prediction, error) {
	var prediction api.Prediction
	if err := c.doJSON(ctx, http.MethodPost, orgPath(orgID)+"/predict", nil, req, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// PredictBatch submits an events CSV for batch scoring.
func (c *Client) PredictBatch(ctx context.Context, orgID uuid.UUID, name string, content io.Reader) (*api.Batch, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}

	var batch api.Batch
	if err := c.doCSV(ctx, orgPath(orgID)+"/batches", q, content, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (c *Client) GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*api.Batch, error) {
	var batch api.Batch
	if err := c.doJSON(ctx, http.MethodGet, orgPath(orgID)+"/batches/"+batchID.String(), nil, nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (c *Client) ListBatches(ctx context.Context, orgID uuid.UUID, limit, offset int) (*api.Page[api.Batch], error) {
	var page api.Page[api.Batch]
	if err := c.doJSON(ctx, http.MethodGet, orgPath(orgID)+"/batches", pageValues(limit, offset), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) ListPredictions(ctx context.Context, orgID, batchID uuid.UUID, limit, offset int) (*api.Page[api.Prediction], error) {
	var page api.Page[api.Prediction]
	path := orgPath(orgID) + "/batches/" + batchID.String() + "/predictions"
	if err := c.doJSON(ctx, http.MethodGet, path, pageValues(limit, offset), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, q, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) doCSV(ctx context.Context, path string, q url.Values, content io.Reader, out any) error {
	resp, err := c.do(ctx, http.MethodPost, path, q, "text/csv", content)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode POST %s response: %w", path, err)
	}
	return nil
}

// do sends a request and returns the response when its status is 2xx. Any other status
// is converted to an *APIError and the body closed.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, contentType string, body io.Reader) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if c.debug {
		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Bool("cached", fromCache(resp)).
			Str("request_id", resp.Header.Get(httpmiddleware.RequestIDHeader)).
			Dur("duration", time.Since(start)).
			Msg("api request")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Kind:       "internal",
		Message:    http.StatusText(resp.StatusCode),
		RequestID:  resp.Header.Get(httpmiddleware.RequestIDHeader),
	}
	var e api.Error
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&e); err == nil && e.Error != "" {
		apiErr.Kind = e.Error
		apiErr.Message = e.Message
	}
	return nil, apiErr
}

func orgPath(orgID uuid.UUID) string {
	return "/v1/orgs/" + orgID.String()
}

func datasetPath(orgID, datasetID uuid.UUID) string {
	return orgPath(orgID) + "/datasets/" + datasetID.String()
}

// pageValues omits zero values so the server defaults apply.
func pageValues(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}
