// Package main is the entry point for the Gruxi edge server.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/iSundram/gruxi/internal/accesslog"
	"github.com/iSundram/gruxi/internal/admin"
	"github.com/iSundram/gruxi/internal/adminauth"
	"github.com/iSundram/gruxi/internal/cgipool"
	gconfig "github.com/iSundram/gruxi/internal/config"
	"github.com/iSundram/gruxi/internal/filecache"
	"github.com/iSundram/gruxi/internal/handler"
	"github.com/iSundram/gruxi/internal/logging"
	"github.com/iSundram/gruxi/internal/monitor"
	"github.com/iSundram/gruxi/internal/scheduler"
	"github.com/iSundram/gruxi/internal/store"
	"github.com/iSundram/gruxi/internal/tlsmgr"
	pkgconfig "github.com/iSundram/gruxi/pkg/config"
	pkgdb "github.com/iSundram/gruxi/pkg/database"
	"github.com/iSundram/gruxi/pkg/models"
)

// Server owns every long-lived Gruxi process: the admin API, the
// per-binding data-plane listeners, and the background scheduler.
type Server struct {
	config *pkgconfig.Config
	db     *pkgdb.DB

	bus         *gconfig.Bus
	ports       *gconfig.PortManager
	cache       *filecache.Cache
	cgiPools    *cgipool.Manager
	access      *accesslog.Logger
	logService  *logging.Service
	metrics     *monitor.Registry
	authService *adminauth.Service
	store       *store.Store
	tls         *tlsmgr.Manager
	scheduler   *scheduler.Scheduler
	mode        *admin.OperationModeHolder
	adminAPI    *admin.API

	adminServer *http.Server

	mu        sync.Mutex
	listeners map[uint32]net.Listener
}

// NewServer wires every service from cfg, following the teacher's
// initServices() pattern: construct leaves first, then the components that
// depend on them.
func NewServer(cfg *pkgconfig.Config) (*Server, error) {
	s := &Server{config: cfg, listeners: make(map[uint32]net.Listener)}

	db, err := pkgdb.New(pkgdb.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Name,
		Username:        cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	if err != nil {
		fmt.Printf("warning: failed to connect to database: %v\n", err)
	}
	s.db = db

	s.logService = logging.NewService(admin.LogLevelForMode(models.OperationMode(cfg.Mode)))
	s.metrics = monitor.New()
	s.bus = gconfig.NewBus()
	s.ports = gconfig.NewPortManager()
	s.cache = filecache.New(filecache.Settings{}) // replaced on first config publish
	s.cgiPools = cgipool.NewManager()
	s.access = accesslog.New()
	s.tls = tlsmgr.New()
	s.mode = admin.NewOperationModeHolder(models.OperationMode(cfg.Mode))

	authService, err := adminauth.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("admin auth: %w", err)
	}
	s.authService = authService

	if s.db != nil {
		st := store.New(s.db)
		if err := st.EnsureSchema(context.Background()); err != nil {
			fmt.Printf("warning: failed to prepare configuration schema: %v\n", err)
		}
		s.store = st
	}

	s.adminAPI = admin.New(s.authService, s.bus, s.store, s.logService, s.metrics, s.mode)

	s.bus.Subscribe(func(snap *models.ConfigSnapshot) {
		s.tls.Update(snap)
		s.cgiPools.Reconcile(snap.PhpCgiHandlers)
		s.cache = filecache.New(cacheSettingsFrom(snap.Core.FileCache))
		s.reconcileListeners(snap)
	})

	s.scheduler = scheduler.New([]scheduler.Job{
		{Name: "filecache_cleanup", Interval: 30 * time.Second, Run: func(ctx context.Context) { s.cache.Cleanup() }},
		{Name: "accesslog_flush", Interval: 1 * time.Second, Run: func(ctx context.Context) { s.access.Flush() }},
		{Name: "metrics_rollover", Interval: 10 * time.Second, Run: func(ctx context.Context) { s.metrics.SetCacheStats(s.cache.Stats()) }},
	})

	return s, nil
}

func cacheSettingsFrom(fc models.FileCacheSettings) filecache.Settings {
	return filecache.Settings{
		Enabled:                    fc.Enabled,
		MaxItems:                   fc.MaxItems,
		MaxSizePerFileBytes:        fc.MaxSizePerFileBytes,
		TimeBetweenChecks:          time.Duration(fc.TimeBetweenChecksS) * time.Second,
		CleanupInterval:            time.Duration(fc.CleanupIntervalS) * time.Second,
		MaxItemLifetime:            time.Duration(fc.MaxItemLifetimeS) * time.Second,
		ForcedEvictionThresholdPct: fc.ForcedEvictionThresholdPct,
	}
}

// reconcileListeners opens a listener for every binding in snap not already
// bound and closes listeners for bindings that were removed.
func (s *Server) reconcileListeners(snap *models.ConfigSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uint32]bool, len(snap.Bindings))
	for _, b := range snap.Bindings {
		seen[b.ID] = true
		if _, running := s.listeners[b.ID]; running {
			continue
		}
		var err error
		if b.IsAdmin {
			// §4.2: admin bindings short-circuit the chain straight to the
			// admin API, bypassing site/handler resolution entirely.
			err = s.startListenerWithHandler(b, s.adminAPI.Router())
		} else {
			err = s.startListenerWithHandler(b, handler.New(b.ID, b.IsTLS, s.bus, s.cache, s.cgiPools, s.access, s.logService, s.metrics, s.mode))
		}
		if err != nil {
			s.logService.Error("server", "failed to bind listener", map[string]interface{}{
				"binding_id": b.ID, "ip": b.IP, "port": b.Port, "error": err.Error(),
			})
		}
	}

	for id, ln := range s.listeners {
		if !seen[id] {
			ln.Close()
			delete(s.listeners, id)
		}
	}
}

// startListenerWithHandler binds b's address and serves h on it, either the
// data-plane request handler or (for admin bindings) the admin API router.
func (s *Server) startListenerWithHandler(b models.Binding, h http.Handler) error {
	addr := fmt.Sprintf("%s:%d", b.IP, b.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ports.Bind(b.IP, b.Port, b.ID)
	s.listeners[b.ID] = ln

	httpServer := &http.Server{Handler: h}

	if b.IsTLS {
		httpServer.TLSConfig = s.tls.Config()
		go func() {
			if err := httpServer.ServeTLS(ln, "", ""); err != nil && err != http.ErrServerClosed {
				s.logService.Error("server", "tls listener stopped", map[string]interface{}{"binding_id": b.ID, "error": err.Error()})
			}
		}()
	} else {
		go func() {
			if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.logService.Error("server", "listener stopped", map[string]interface{}{"binding_id": b.ID, "error": err.Error()})
			}
		}()
	}
	return nil
}

// Start loads the last active configuration (if any), starts the
// background scheduler, and serves the admin API. It blocks until the
// admin listener stops.
func (s *Server) Start() error {
	if s.store != nil {
		if snap, err := s.store.LoadActive(context.Background()); err == nil && snap != nil {
			s.bus.Publish(snap)
		}
	}

	s.scheduler.Start()

	// The fixed, env-configured admin listener is the bootstrap path:
	// it exists so an operator can POST the first configuration before any
	// ConfigSnapshot (and thus any admin Binding) exists. Once a snapshot
	// with is_admin bindings is published, those are reachable too, via
	// reconcileListeners.
	s.adminServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Admin.Host, s.config.Admin.Port),
		Handler:      s.adminAPI.Router(),
		ReadTimeout:  s.config.Admin.ReadTimeout,
		WriteTimeout: s.config.Admin.WriteTimeout,
	}

	s.logService.Info("server", "starting admin API", map[string]interface{}{
		"host": s.config.Admin.Host, "port": s.config.Admin.Port,
	})

	if s.config.Admin.TLSCertPath != "" && s.config.Admin.TLSKeyPath != "" {
		return s.adminServer.ListenAndServeTLS(s.config.Admin.TLSCertPath, s.config.Admin.TLSKeyPath)
	}
	return s.adminServer.ListenAndServe()
}

// Shutdown stops the scheduler, every data-plane listener, the admin API,
// and the database connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logService.Info("server", "shutting down", nil)

	s.scheduler.Stop()
	s.cgiPools.ShutdownAll()

	s.mu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	s.access.Close()

	var err error
	if s.adminServer != nil {
		err = s.adminServer.Shutdown(ctx)
	}
	if s.db != nil {
		s.db.Close()
	}
	return err
}

func main() {
	cfg := pkgconfig.Load()

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("starting gruxi admin API on %s:%d", cfg.Admin.Host, cfg.Admin.Port)
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
