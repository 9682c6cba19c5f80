package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lanregistry/registryproxy/internal/metrics"
)

// statusRecorder wraps http.ResponseWriter to capture the status code,
// generalizing the teacher's internal/proxy/logging.go recorder.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithLogging logs every request at Debug level, same as the teacher.
func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// WithMetrics records every request's route, status, and latency.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeLabel(r)
		status := formatStatus(rec.status)
		metrics.RouteRequests.WithLabelValues(route, status).Inc()
		metrics.RouteDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses a request path to its route pattern so metrics
// cardinality stays bounded regardless of how many distinct package names
// are requested.
func routeLabel(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/healthz", path == "/metrics":
		return path
	case path == "/api/chat", path == "/api/hybrid-search", path == "/api/stats",
		path == "/api/vector-stats", path == "/api/security-stats", path == "/api/precache":
		return path
	case strings.HasPrefix(path, "/api/rebuild-embeddings/"):
		return "/api/rebuild-embeddings/{package}"
	case strings.HasPrefix(path, "/force-scrape/"):
		return "/force-scrape/{package}"
	case strings.Contains(path, tarballSep):
		return "/{package}/-/{filename}"
	default:
		return "/{package}"
	}
}

func formatStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
