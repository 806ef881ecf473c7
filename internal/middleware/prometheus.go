package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/metrics"
)

// PrometheusMiddleware records HTTP request metrics for Prometheus
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the writer to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		metrics.RecordHTTPRequest(r.Method, sanitizePath(r.URL.Path), ww.Status(), time.Since(start))
	})
}

// RequestIDResponseMiddleware adds the request ID to response headers
func RequestIDResponseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// sanitizePath collapses document ids so the path label stays low-cardinality
func sanitizePath(path string) string {
	path = strings.TrimSuffix(path, "/")

	if strings.HasPrefix(path, "/api/v1/") {
		parts := strings.Split(path, "/")

		// /api/v1/{collection}/{id} -> /api/v1/{collection}/:id
		if len(parts) >= 5 {
			switch parts[3] {
			case "instances", "projects", "hypervisors", "records":
				return strings.Join(parts[:4], "/") + "/:id"
			case "runs":
				return "/api/v1/runs/" + parts[4]
			}
		}
		return path
	}

	switch path {
	case "/healthz", "/readyz", "/version", "/metrics":
		return path
	}

	return "other"
}
