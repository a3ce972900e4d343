package cgipool

import (
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/iSundram/gruxi/pkg/models"
)

// Manager owns one Pool per configured PhpCgiHandler, keyed by handler ID.
// Grounded on rehmatworks-fastcp's Manager{instances map[string]*Instance}
// shape, narrowed to CGI worker pools instead of whole PHP-FPM instances.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewManager creates an empty manager; pools are created by Reconcile.
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*Pool)}
}

// Reconcile starts pools for handlers not yet running and stops pools for
// handlers removed from the snapshot. Called on every config reload.
func (m *Manager) Reconcile(handlers []models.PhpCgiHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(handlers))
	for _, h := range handlers {
		seen[h.ID] = true
		if _, exists := m.pools[h.ID]; exists {
			continue
		}
		size := int(h.ConcurrentThreads)
		if size == 0 {
			size = schedulableCPUs(runtime.NumCPU())
		}
		timeout := time.Duration(h.RequestTimeoutS) * time.Second
		pool, err := NewPool(h.Executable, size, timeout)
		if err != nil {
			return err
		}
		m.pools[h.ID] = pool
	}

	for id, pool := range m.pools {
		if !seen[id] {
			pool.Shutdown()
			delete(m.pools, id)
		}
	}
	return nil
}

// Pool returns the worker pool for a handler ID, if running.
func (m *Manager) Pool(handlerID string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[handlerID]
	return p, ok
}

// ShutdownAll stops every managed pool, used on process exit.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		pool.Shutdown()
	}
}

// applyCredential is a hook point for dropping privileges on the spawned
// process; wired on unix builds only (see credential_unix.go), mirroring
// rehmatworks-fastcp's syscall.Credential usage in php-manager.go.
var applyCredential = func(cmd *exec.Cmd) {}
