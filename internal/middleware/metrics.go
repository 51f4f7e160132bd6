// Package middleware provides HTTP middleware for metrics collection.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/feedpulse/feedpulse/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/pipelines/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/pipelines/"), "/")
		if len(parts) == 2 && parts[1] == "run" {
			return "/api/pipelines/:name/run"
		}

		return "/api/pipelines/:name"
	case strings.HasPrefix(path, "/api/jobs/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/jobs/"), "/")
		if len(parts) == 2 && (parts[1] == "pause" || parts[1] == "resume") {
			return "/api/jobs/:id/" + parts[1]
		}

		return "/api/jobs/:id"
	case strings.HasPrefix(path, "/api/runs/"):
		return "/api/runs/:id"
	default:
		return path
	}
}
