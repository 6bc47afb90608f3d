package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/telemetry"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs a sampled fraction of requests. Error responses
// (5xx) are always logged; the sampler only thins the healthy traffic.
func RequestLogger(sampler *telemetry.Sampler, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError || sampler.ShouldSample() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", rec.status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", clientIP(r))
			}
		})
	}
}
