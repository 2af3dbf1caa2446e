package logger

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	httpmiddleware "github.com/wolfeidau/churnrunner/internal/http"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// NewHTTPRequests returns middleware that attaches logger to each request context and
// logs one line per request once the handler returns. Server errors log at error level.
func NewHTTPRequests(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()

			clientIP := httpmiddleware.ClientIPFromContext(r.Context())
			if clientIP == "" {
				clientIP = httpmiddleware.ExtractClientIP(r)
			}

			ctx := logger.With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", clientIP).
				Str("request_id", httpmiddleware.RequestIDFromContext(r.Context())).
				Logger().WithContext(r.Context())

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			event := zerolog.Ctx(ctx).Info()
			if rec.status >= http.StatusInternalServerError {
				event = zerolog.Ctx(ctx).Error()
			}
			event.
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(started)).
				Msg("http request")
		})
	}
}
