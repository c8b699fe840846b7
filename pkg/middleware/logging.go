// Package middleware holds HTTP middleware shared across the API
// surface: request logging and per-request tenant database scoping.
package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/adpilot-io/adpilot-engine/pkg/auth"
)

// RequestLogger returns middleware that logs HTTP requests. Pass nil
// logger to disable logging.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if claims, ok := auth.GetClaims(r.Context()); ok && claims.TenantID != "" {
				fields = append(fields, zap.String("tenant_id", claims.TenantID))
			}

			logger.Debug("HTTP request", fields...)
		})
	}
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
