package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	httpmiddleware "github.com/wolfeidau/churnrunner/internal/http"
)

func TestHTTPRequestsLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := httpmiddleware.Metadata()(NewHTTPRequests(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/orgs", nil)
	req.Header.Set("X-Real-IP", "10.1.2.3")
	req.Header.Set(httpmiddleware.RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "GET", entry["method"])
	require.Equal(t, "/v1/orgs", entry["path"])
	require.Equal(t, "10.1.2.3", entry["client_ip"])
	require.Equal(t, "req-1", entry["request_id"])
	require.InDelta(t, 418, entry["status"], 0)
	require.InDelta(t, 15, entry["bytes"], 0)
}

func TestHTTPRequestsServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := NewHTTPRequests(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/orgs", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "error", entry["level"])
	require.InDelta(t, 500, entry["status"], 0)
}

func TestHTTPRequestsDefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := NewHTTPRequests(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.InDelta(t, 200, entry["status"], 0)
}
