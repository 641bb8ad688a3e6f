package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/RumahPulih/ObatPing/internal/metrics"
	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// bearerAuth enforces a static bearer token when one is configured. An empty
// token disables authentication (local development).
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				slog.Warn("unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeJSONResponse(w, http.StatusUnauthorized, models.Error("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// metricsMiddleware records request latency per route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	})
}
