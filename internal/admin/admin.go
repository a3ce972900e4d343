// Package admin implements the admin HTTP API (spec.md §6): session
// login/logout, config read/replace, reload, live monitoring and logs, and
// operation-mode control. Grounded on the teacher's net/http ServeMux +
// middleware-chain router idiom (internal/api), trimmed from a full
// multi-tenant REST surface down to the single-admin endpoint set named by
// the specification.
package admin

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iSundram/gruxi/internal/adminauth"
	"github.com/iSundram/gruxi/internal/api/middleware"
	"github.com/iSundram/gruxi/internal/config"
	"github.com/iSundram/gruxi/internal/logging"
	"github.com/iSundram/gruxi/internal/monitor"
	"github.com/iSundram/gruxi/internal/store"
	"github.com/iSundram/gruxi/pkg/database"
	apperrors "github.com/iSundram/gruxi/pkg/errors"
	"github.com/iSundram/gruxi/pkg/models"
	"github.com/iSundram/gruxi/pkg/utils"
)

// Version is the value returned from /basic. Set at build time in real
// releases; fixed here since Gruxi has no release pipeline in scope.
const Version = "1.0.0"

// API wires the admin HTTP surface to its backing services.
type API struct {
	Auth      *adminauth.Service
	Bus       *config.Bus
	Store     *store.Store
	Log       *logging.Service
	Metrics   *monitor.Registry
	Mode      *OperationModeHolder
	upgrader  websocket.Upgrader
	rateLimit *middleware.RateLimiter
}

// New builds the admin API with all endpoints registered on a fresh mux.
func New(auth *adminauth.Service, bus *config.Bus, st *store.Store, log *logging.Service, metrics *monitor.Registry, mode *OperationModeHolder) *API {
	a := &API{
		Auth:      auth,
		Bus:       bus,
		Store:     st,
		Log:       log,
		Metrics:   metrics,
		Mode:      mode,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		rateLimit: middleware.NewRateLimiter(10, 5),
	}
	return a
}

// Router builds the mux with every middleware applied per spec.md §6:
// /login and /healthcheck are public, everything else requires a valid
// Bearer session.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("GET /healthcheck", a.handleHealthcheck)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /logout", a.handleLogout)
	protected.HandleFunc("GET /config", a.handleGetConfig)
	protected.HandleFunc("POST /config", a.handlePostConfig)
	protected.HandleFunc("GET /config/revisions", a.handleListRevisions)
	protected.HandleFunc("POST /configuration/reload", a.handleReload)
	protected.HandleFunc("GET /monitoring", a.handleMonitoring)
	protected.HandleFunc("GET /basic", a.handleBasic)
	protected.HandleFunc("GET /logs", a.handleLogs)
	protected.HandleFunc("GET /logs/{file}", a.handleLogFile)
	protected.HandleFunc("GET /logs/stream", a.handleLogsStream)
	protected.HandleFunc("GET /operation-mode", a.handleGetMode)
	protected.HandleFunc("POST /operation-mode", a.handleSetMode)

	mux.Handle("/", middleware.AuthMiddleware(a.Auth)(protected))

	var handler http.Handler = mux
	handler = middleware.ContentTypeMiddleware(handler)
	handler = middleware.LoggingMiddleware(a.Log)(handler)
	handler = middleware.RecoveryMiddleware(a.Log)(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.LoginRateLimitMiddleware(a.rateLimit)(handler)
	return handler
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success      bool   `json:"success"`
	Username     string `json:"username"`
	SessionToken string `json:"session_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.ErrCodeBadRequest, "invalid request body")
		return
	}
	token, user, err := a.Auth.Login(req.Username, req.Password)
	if err != nil {
		utils.WriteError(w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "invalid username or password")
		return
	}
	a.Log.Info("admin", "login", map[string]interface{}{"username": user.Username})
	utils.WriteSuccess(w, loginResponse{Success: true, Username: user.Username, SessionToken: token})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if err := a.Auth.Logout(token); err != nil {
		utils.WriteError(w, http.StatusNotFound, utils.ErrCodeNotFound, "session not found")
		return
	}
	utils.WriteSuccess(w, map[string]string{"status": "logged out"})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// writeStoreError unwraps an *errors.AppError from the store (status, code,
// message already classified) or falls back to a generic 500.
func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		utils.WriteError(w, appErr.HTTPStatus, appErr.Code, appErr.Message)
		return
	}
	utils.WriteError(w, http.StatusInternalServerError, utils.ErrCodeInternalError, "internal error")
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, a.Bus.Current())
}

func (a *API) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var snap models.ConfigSnapshot
	if err := utils.DecodeAndValidate(r, &snap); err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.ErrCodeBadRequest, "invalid request body")
		return
	}
	snap.CreatedAt = time.Now()

	failures, err := a.Store.Save(r.Context(), &snap)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	if len(failures) > 0 {
		details := map[string]interface{}{"failures": failures}
		utils.WriteErrorWithDetails(w, http.StatusBadRequest, utils.ErrCodeValidation, "configuration validation failed", details)
		return
	}
	utils.WriteCreated(w, map[string]string{"status": "saved, call /configuration/reload to activate"})
}

func (a *API) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	p := database.DefaultPagination()
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.PerPage = n
		}
	}

	result, err := a.Store.ListRevisions(r.Context(), p)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	utils.WritePaginated(w, result.Items, result.Page, result.PerPage, int(result.Total))
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Store.LoadActive(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	if snap == nil {
		utils.WriteError(w, http.StatusNotFound, utils.ErrCodeNotFound, "no configuration has been saved yet")
		return
	}
	a.Bus.Publish(snap)
	a.Log.Info("admin", "config reloaded", map[string]interface{}{"revision": snap.Revision})
	utils.WriteSuccess(w, map[string]interface{}{"revision": snap.Revision})
}

func (a *API) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, a.Metrics.Summarize())
}

type basicResponse struct {
	GruxiVersion string `json:"gruxi_version"`
	Mode         string `json:"operation_mode"`
}

func (a *API) handleBasic(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, basicResponse{GruxiVersion: Version, Mode: string(a.Mode.Get())})
}

// maxLogFileTailBytes bounds how much of an access-log file handleLogFile
// reads back, tailing the file rather than returning it in full.
const maxLogFileTailBytes = 1 << 20

// logFileInfo describes one site's access-log file, as listed by GET /logs.
type logFileInfo struct {
	File    string    `json:"file"`
	SiteID  uint32    `json:"site_id"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"mod_time"`
}

// handleLogs lists the access-log files of every site in the active
// configuration that currently exist on disk.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	snap := a.Bus.Current()
	listing := []logFileInfo{}
	if snap != nil {
		for _, site := range snap.Sites {
			if !models.EffectiveAccessLogEnabled(site, a.Mode.Get()) || site.AccessLogFile == "" {
				continue
			}
			info, err := os.Stat(site.AccessLogFile)
			if err != nil {
				continue
			}
			listing = append(listing, logFileInfo{
				File:    filepath.Base(site.AccessLogFile),
				SiteID:  site.ID,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
	}
	utils.WriteSuccess(w, listing)
}

// handleLogFile returns the tail of one site's access-log file, matched by
// base name against the active configuration so a request can't read an
// arbitrary path off disk.
func (a *API) handleLogFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	snap := a.Bus.Current()
	var path string
	if snap != nil {
		for _, site := range snap.Sites {
			if site.AccessLogFile != "" && filepath.Base(site.AccessLogFile) == name {
				path = site.AccessLogFile
				break
			}
		}
	}
	if path == "" {
		utils.WriteError(w, http.StatusNotFound, utils.ErrCodeNotFound, "log file not found")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		utils.WriteError(w, http.StatusNotFound, utils.ErrCodeNotFound, "log file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, utils.ErrCodeInternalError, "internal error")
		return
	}

	truncated := false
	if info.Size() > maxLogFileTailBytes {
		if _, err := f.Seek(-maxLogFileTailBytes, io.SeekEnd); err != nil {
			utils.WriteError(w, http.StatusInternalServerError, utils.ErrCodeInternalError, "internal error")
			return
		}
		truncated = true
	}
	content, err := io.ReadAll(f)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, utils.ErrCodeInternalError, "internal error")
		return
	}
	utils.WriteSuccess(w, map[string]interface{}{
		"file":      name,
		"truncated": truncated,
		"content":   string(content),
	})
}

func (a *API) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	entries := make(chan models.LogEntry, 64)
	unsubscribe := a.Log.Subscribe(func(e models.LogEntry) {
		select {
		case entries <- e:
		default:
			// slow subscriber: drop the entry rather than block logging.
		}
	})
	defer unsubscribe()

	for e := range entries {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
}

func (a *API) handleGetMode(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, map[string]string{"operation_mode": string(a.Mode.Get())})
}

type setModeRequest struct {
	OperationMode string `json:"operation_mode"`
}

func (a *API) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, utils.ErrCodeBadRequest, "invalid request body")
		return
	}
	mode := models.OperationMode(req.OperationMode)
	switch mode {
	case models.ModeDev, models.ModeDebug, models.ModeProduction, models.ModeSpeedtest:
		a.Mode.Set(mode)
		a.Log.SetMinLevel(LogLevelForMode(mode))
		utils.WriteSuccess(w, map[string]string{"operation_mode": string(mode)})
	default:
		utils.WriteError(w, http.StatusBadRequest, utils.ErrCodeValidation, "unknown operation mode")
	}
}

func (a *API) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, map[string]string{"status": "ok"})
}
