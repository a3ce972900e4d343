package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iSundram/gruxi/internal/adminauth"
	"github.com/iSundram/gruxi/internal/config"
	"github.com/iSundram/gruxi/internal/logging"
	"github.com/iSundram/gruxi/internal/monitor"
	pkgconfig "github.com/iSundram/gruxi/pkg/config"
	"github.com/iSundram/gruxi/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func newTestAPI(t *testing.T) *API {
	t.Helper()
	auth, err := adminauth.NewService(&pkgconfig.Config{
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
	bus := config.NewBus()
	bus.Publish(&models.ConfigSnapshot{Revision: 1})
	return New(auth, bus, nil, logging.NewService(models.LogLevelDebug), monitor.New(), NewOperationModeHolder(models.ModeProduction))
}

func loginAndGetToken(t *testing.T, a *API) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "adminpass"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data loginResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return resp.Data.SessionToken
}

func TestHealthcheckIsPublic(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProtectedEndpointRejectsMissingToken(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginThenAccessProtectedEndpoint(t *testing.T) {
	a := newTestAPI(t)
	token := loginAndGetToken(t, a)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newTestAPI(t)
	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	a := newTestAPI(t)
	token := loginAndGetToken(t, a)

	logoutReq := httptest.NewRequest(http.MethodPost, "/logout", nil)
	logoutReq.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, logoutReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	a.Router().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", rec2.Code)
	}
}

func TestSetModeAcceptsKnownModesAndRejectsUnknown(t *testing.T) {
	a := newTestAPI(t)
	token := loginAndGetToken(t, a)

	body, _ := json.Marshal(setModeRequest{OperationMode: string(models.ModeDebug)})
	req := httptest.NewRequest(http.MethodPost, "/operation-mode", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if a.Mode.Get() != models.ModeDebug {
		t.Errorf("Mode = %q, want debug", a.Mode.Get())
	}

	badBody, _ := json.Marshal(setModeRequest{OperationMode: "BOGUS"})
	badReq := httptest.NewRequest(http.MethodPost, "/operation-mode", bytes.NewReader(badBody))
	badReq.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	a.Router().ServeHTTP(rec2, badReq)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec2.Code)
	}
}

func TestSetModeBiasesLogLevel(t *testing.T) {
	a := newTestAPI(t)
	token := loginAndGetToken(t, a)

	body, _ := json.Marshal(setModeRequest{OperationMode: string(models.ModeSpeedtest)})
	req := httptest.NewRequest(http.MethodPost, "/operation-mode", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}

	// Entries logged during login, before the switch, stay in the buffer;
	// only what is logged from here on is checked.
	before := len(a.Log.Recent(0))
	a.Log.Info("test", "should be suppressed under speedtest", nil)
	a.Log.Error("test", "should still be kept", nil)

	entries := a.Log.Recent(0)[before:]
	if len(entries) != 1 || entries[0].Message != "should still be kept" {
		t.Fatalf("entries after switching to SPEEDTEST = %+v", entries)
	}
}

func TestMonitoringReturnsSummary(t *testing.T) {
	a := newTestAPI(t)
	token := loginAndGetToken(t, a)

	req := httptest.NewRequest(http.MethodGet, "/monitoring", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data monitor.Summary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Data.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d, want >= 0", resp.Data.UptimeSeconds)
	}
}

func TestLoginReturnsSuccessUsernameAndSessionToken(t *testing.T) {
	a := newTestAPI(t)
	body, _ := json.Marshal(loginRequest{Username: "admin", Password: "adminpass"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	var resp struct {
		Data loginResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !resp.Data.Success || resp.Data.Username != "admin" || resp.Data.SessionToken == "" {
		t.Fatalf("loginResponse = %+v, want success=true username=admin non-empty session_token", resp.Data)
	}
}

func TestBasicReportsVersionAndMode(t *testing.T) {
	a := newTestAPI(t)
	token := loginAndGetToken(t, a)

	req := httptest.NewRequest(http.MethodGet, "/basic", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	var resp struct {
		Data basicResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Data.GruxiVersion != Version || resp.Data.Mode != string(models.ModeProduction) {
		t.Errorf("basic response = %+v", resp.Data)
	}
}

func TestLogsListsAccessLogFiles(t *testing.T) {
	a := newTestAPI(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "example.log")
	if err := os.WriteFile(logPath, []byte("hit 1\nhit 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a.Bus.Publish(&models.ConfigSnapshot{
		Revision: 2,
		Sites: []models.Site{
			{ID: 1, AccessLogEnabled: boolPtr(true), AccessLogFile: logPath},
			{ID: 2, AccessLogEnabled: boolPtr(false), AccessLogFile: filepath.Join(dir, "disabled.log")},
		},
	})
	token := loginAndGetToken(t, a)

	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data []logFileInfo `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].File != "example.log" || resp.Data[0].SiteID != 1 {
		t.Fatalf("logs listing = %+v", resp.Data)
	}
}

func TestLogFileReturnsContentByBaseName(t *testing.T) {
	a := newTestAPI(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "example.log")
	if err := os.WriteFile(logPath, []byte("hit 1\nhit 2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a.Bus.Publish(&models.ConfigSnapshot{
		Revision: 2,
		Sites:    []models.Site{{ID: 1, AccessLogEnabled: boolPtr(true), AccessLogFile: logPath}},
	})
	token := loginAndGetToken(t, a)

	req := httptest.NewRequest(http.MethodGet, "/logs/example.log", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data struct {
			Content   string `json:"content"`
			Truncated bool   `json:"truncated"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Data.Content != "hit 1\nhit 2\n" || resp.Data.Truncated {
		t.Fatalf("log file response = %+v", resp.Data)
	}
}

func TestLogFileUnknownNameReturns404(t *testing.T) {
	a := newTestAPI(t)
	token := loginAndGetToken(t, a)

	req := httptest.NewRequest(http.MethodGet, "/logs/nonexistent.log", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
