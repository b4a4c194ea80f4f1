// Package middleware provides the HTTP middleware the ingestion core's
// listener wraps every route with. Adapted from the teacher's
// infrastructure/middleware package: same responseWriter-wrapping shape
// and mux.MiddlewareFunc signatures, rewired onto internal/logging and
// internal/metrics instead of the teacher's own logging/metrics packages.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cleanfleet/telemetry-core/internal/logging"
)

type requestIDKey struct{}

// RequestLogging logs each handled HTTP request with its request id,
// method, path, status and duration.
func RequestLogging(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
			w.Header().Set("X-Request-ID", reqID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.WithContext(r.Context()).WithFields(map[string]interface{}{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     wrapped.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("handled request")
		})
	}
}
