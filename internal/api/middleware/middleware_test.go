package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iSundram/gruxi/internal/adminauth"
	"github.com/iSundram/gruxi/internal/logging"
	pkgconfig "github.com/iSundram/gruxi/pkg/config"
	"github.com/iSundram/gruxi/pkg/models"
)

func newAuthService(t *testing.T) *adminauth.Service {
	t.Helper()
	s, err := adminauth.NewService(&pkgconfig.Config{
		Auth: pkgconfig.AuthConfig{
			JWTSecret:     "test-secret",
			SessionExpiry: time.Hour,
			BootstrapUser: "admin",
			BootstrapPass: "adminpass",
		},
	})
	if err != nil {
		t.Fatalf("adminauth.NewService: %v", err)
	}
	return s
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	auth := newAuthService(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := AuthMiddleware(auth)(next)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareAcceptsValidSession(t *testing.T) {
	auth := newAuthService(t)
	token, _, err := auth.Login("admin", "adminpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var gotAdminID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAdminID = GetAdminID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(auth)(next)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotAdminID == "" {
		t.Error("expected admin ID to be set in request context")
	}
}

func TestRequestIDMiddlewareGeneratesIDWhenAbsent(t *testing.T) {
	var gotID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
	})
	handler := RequestIDMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotID == "" {
		t.Error("expected a generated request ID")
	}
	if rec.Header().Get("X-Request-ID") != gotID {
		t.Error("expected response header to echo the request ID")
	}
}

func TestRequestIDMiddlewarePreservesExistingID(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RequestIDMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want fixed-id", rec.Header().Get("X-Request-ID"))
	}
}

func TestContentTypeMiddlewareSetsJSON(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := ContentTypeMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestRecoveryMiddlewareCatchesPanics(t *testing.T) {
	log := logging.NewService(models.LogLevelDebug)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := RecoveryMiddleware(log)(next)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	log := logging.NewService(models.LogLevelDebug)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := LoggingMiddleware(log)(next)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	entries := log.Recent(1)
	if len(entries) != 1 {
		t.Fatalf("expected one logged entry, got %d", len(entries))
	}
	if entries[0].Fields["status"] != http.StatusTeapot {
		t.Errorf("logged status = %v, want %d", entries[0].Fields["status"], http.StatusTeapot)
	}
}

func TestGetAdminIDAndRequestIDDefaultEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if GetAdminID(req.Context()) != "" {
		t.Error("expected empty admin ID with no context value set")
	}
	if GetRequestID(req.Context()) != "" {
		t.Error("expected empty request ID with no context value set")
	}
}
