// Package middleware provides HTTP middleware for the Gruxi admin API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/iSundram/gruxi/internal/adminauth"
	"github.com/iSundram/gruxi/internal/logging"
	"github.com/iSundram/gruxi/pkg/utils"
)

// ContextKey type for context keys
type ContextKey string

const (
	// ContextKeyAdminID is the context key for the authenticated admin user ID
	ContextKeyAdminID ContextKey = "admin_id"
	// ContextKeyRequestID is the context key for request ID
	ContextKeyRequestID ContextKey = "request_id"
)

// AuthMiddleware gates admin endpoints behind a valid Bearer session token.
// Healthcheck is exempt by not being wrapped in the router.
func AuthMiddleware(authService *adminauth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				utils.WriteError(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "authorization header required")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			session, err := authService.ValidateSession(token)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAdminID, session.AdminUserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware adds a request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateID("req")
		}

		ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs admin API requests, distinct from the per-site access log.
func LoggingMiddleware(logService *logging.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			requestID, _ := r.Context().Value(ContextKeyRequestID).(string)

			logService.Info("admin", "request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": duration.Milliseconds(),
				"request_id":  requestID,
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// ContentTypeMiddleware sets JSON content type
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware recovers from panics so a handler bug never takes down the listener.
func RecoveryMiddleware(logService *logging.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logService.Error("admin", "panic recovered", map[string]interface{}{
						"path": r.URL.Path,
						"recover": rec,
					})
					utils.WriteError(w, http.StatusInternalServerError, utils.ErrCodeInternalError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetAdminID gets the authenticated admin user ID from context
func GetAdminID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyAdminID).(string); ok {
		return id
	}
	return ""
}

// GetRequestID gets request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}
