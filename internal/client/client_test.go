package client

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/churnrunner/internal/api"
	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/pipeline"
	"github.com/wolfeidau/churnrunner/internal/server"
	"github.com/wolfeidau/churnrunner/internal/store/memory"
	"github.com/wolfeidau/churnrunner/internal/worker"
)

type harness struct {
	client    *Client
	worker    *worker.Worker
	downloads *atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	stores := memory.NewStores()
	cfg := pipeline.DefaultConfig()
	svc := pipeline.New(cfg, stores, blob.New(blob.NewMemoryBackend()))
	w := worker.New(stores.Jobs, cfg.Worker)
	svc.Register(w)

	handler := server.NewServer(svc).Handler(zerolog.Nop(), nil)
	downloads := &atomic.Int32{}
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/download") {
			downloads.Add(1)
		}
		handler.ServeHTTP(rw, r)
	}))
	t.Cleanup(ts.Close)

	cfg2 := DefaultConfig()
	cfg2.ServerURL = ts.URL
	cfg2.Timeout = 30 * time.Second
	c, err := New(cfg2)
	require.NoError(t, err)

	return &harness{client: c, worker: w, downloads: downloads}
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, h.worker.Drain(context.Background()))
}

// eventsCSV builds n customers relative to today, a third of whom went quiet long ago.
func eventsCSV(n int) []byte {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	rng := rand.New(rand.NewPCG(3, 5))

	var buf bytes.Buffer
	buf.WriteString("customer_id,event_date,amount\n")
	for i := 0; i < n; i++ {
		last := -rng.IntN(15)
		if i%3 == 0 {
			last = -45 - rng.IntN(120)
		}
		for e := 0; e < 2+rng.IntN(6); e++ {
			date := today.AddDate(0, 0, last-e*(4+rng.IntN(8)))
			fmt.Fprintf(&buf, "c-%03d,%s,%.2f\n", i, date.Format(api.DateLayout), 10+rng.Float64()*50)
		}
	}
	return buf.Bytes()
}

func TestNewWithHTTPClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://localhost:8080", false},
		{"https with path", "https://churn.example.com/api", false},
		{"missing scheme", "localhost:8080", true},
		{"ftp", "ftp://example.com", true},
		{"no host", "http://", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithHTTPClient(tt.url, http.DefaultClient)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAPIErrorClassification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.GetOrganization(ctx, uuid.New())
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.NotEmpty(t, apiErr.RequestID)

	_, err = h.client.CreateOrganization(ctx, "", 30)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	org, err := h.client.CreateOrganization(ctx, "acme", 0)
	require.NoError(t, err)
	_, err = h.client.Train(ctx, org.OrgID, api.TrainRequest{ModelType: "svm"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	org, err := h.client.CreateOrganization(ctx, "acme", 30)
	require.NoError(t, err)
	require.Equal(t, 30, org.ChurnThresholdDays)

	got, err := h.client.GetOrganization(ctx, org.OrgID)
	require.NoError(t, err)
	require.Equal(t, org.OrgID, got.OrgID)

	content := eventsCSV(90)
	raw, err := h.client.UploadDataset(ctx, org.OrgID, "events.csv", false, bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, "raw", raw.Type)
	require.Equal(t, "events.csv", raw.Filename)

	for range 2 {
		data, err := h.client.DownloadDataset(ctx, org.OrgID, raw.DatasetID)
		require.NoError(t, err)
		require.Equal(t, content, data)
	}
	require.Equal(t, int32(1), h.downloads.Load(), "second download should be served from cache")

	job, err := h.client.ProcessFeatures(ctx, org.OrgID, raw.DatasetID)
	require.NoError(t, err)
	h.drain(t)

	job, err = h.client.WaitJob(ctx, org.OrgID, job.JobID, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "completed", job.State)

	features, err := h.client.ListDatasets(ctx, org.OrgID, "features")
	require.NoError(t, err)
	require.Len(t, features, 1)
	require.Equal(t, 90, features[0].RowCount)

	all, err := h.client.ListDatasets(ctx, org.OrgID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	trained, err := h.client.Train(ctx, org.OrgID, api.TrainRequest{ModelType: "logistic_regression"})
	require.NoError(t, err)
	require.Equal(t, "training", trained.Status)

	_, err = h.client.Train(ctx, org.OrgID, api.TrainRequest{})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	h.drain(t)
	status, err := h.client.WaitTraining(ctx, org.OrgID, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "completed", status.Status, status.ErrorMessage)
	require.Equal(t, trained.ModelID, *status.ModelID)

	today := time.Now().UTC().Format(api.DateLayout)
	prediction, err := h.client.Predict(ctx, org.OrgID, api.PredictRequest{
		CustomerID:   "walk-in",
		Transactions: []api.Transaction{{EventDate: today, Amount: 12}},
	})
	require.NoError(t, err)
	require.Equal(t, trained.ModelID, prediction.ModelID)

	batchCSV := "customer_id,event_date,amount\na," + today + ",5\nb," + today + ",7\n"
	batch, err := h.client.PredictBatch(ctx, org.OrgID, "weekly", strings.NewReader(batchCSV))
	require.NoError(t, err)
	require.Equal(t, "processing", batch.Status)

	h.drain(t)
	batch, err = h.client.WaitBatch(ctx, org.OrgID, batch.BatchID, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "completed", batch.Status, batch.ErrorMessage)
	require.Equal(t, 2, batch.TotalCustomers)

	batches, err := h.client.ListBatches(ctx, org.OrgID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, batches.Total)

	page, err := h.client.ListPredictions(ctx, org.OrgID, batch.BatchID, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, "b", page.Items[0].CustomerID)
}

func TestWaitJobStopsOnClientError(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.client.WaitJob(ctx, uuid.New(), uuid.New(), 10*time.Millisecond)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWaitJobHonoursContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	org, err := h.client.CreateOrganization(ctx, "acme", 30)
	require.NoError(t, err)
	raw, err := h.client.UploadDataset(ctx, org.OrgID, "", false, bytes.NewReader(eventsCSV(6)))
	require.NoError(t, err)
	job, err := h.client.ProcessFeatures(ctx, org.OrgID, raw.DatasetID)
	require.NoError(t, err)

	// nothing drains the queue so the job stays scheduled
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = h.client.WaitJob(waitCtx, org.OrgID, job.JobID, 10*time.Millisecond)
	require.Error(t, err)
}
