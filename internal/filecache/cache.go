// Package filecache implements the in-memory static-file cache: bounded
// memory, per-key single-flight on misses, freshness revalidation against
// filesystem mtime, and oldest-inserted/age-based eviction. Grounded on the
// teacher's in-memory-map-plus-mutex service idiom, generalized to a content
// cache.
//
// There is no third-party single-flight or LRU library in the example
// corpus, so this is built on sync.Mutex and per-key done channels directly
// (see DESIGN.md).
package filecache

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is one cached file's bytes and metadata.
type Entry struct {
	Path              string
	Bytes             []byte
	Size              int64
	ModTime           time.Time
	ContentType       string
	ETag              string
	GzipBytes         []byte // populated lazily by internal/gzipenc
	lastCheckedMono   time.Time
	insertedMono      time.Time
}

// Settings mirrors models.FileCacheSettings; kept separate to avoid an
// import cycle and because the cache only needs a subset of fields.
type Settings struct {
	Enabled                    bool
	MaxItems                   int
	MaxSizePerFileBytes        int64
	TimeBetweenChecks          time.Duration
	CleanupInterval            time.Duration
	MaxItemLifetime            time.Duration
	ForcedEvictionThresholdPct int
}

// inflight represents a single-flighted read in progress for one key.
type inflight struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// Cache is the shared mutable file cache. All cross-key bookkeeping is
// protected by mu; byte buffers themselves are immutable once published
// and shared by reference with every caller.
type Cache struct {
	settings Settings

	mu       sync.Mutex
	entries  map[string]*Entry
	order    []string // insertion order, oldest first, for eviction
	inflight map[string]*inflight
}

// New creates a file cache with the given settings.
func New(settings Settings) *Cache {
	return &Cache{
		settings: settings,
		entries:  make(map[string]*Entry),
		inflight: make(map[string]*inflight),
	}
}

// Stats is a snapshot of cache occupancy for the monitoring endpoint.
type Stats struct {
	Enabled      bool
	CurrentItems int
	MaxItems     int
}

// Stats returns current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Enabled: c.settings.Enabled, CurrentItems: len(c.entries), MaxItems: c.settings.MaxItems}
}

// Get returns the cached bytes for absPath, reading and admitting the file
// if not cached or stale. Concurrent misses for the same key collapse into
// one filesystem read (single-flight); followers receive the leader's result.
func (c *Cache) Get(absPath string) (*Entry, error) {
	if !c.settings.Enabled {
		return c.readUncached(absPath)
	}

	c.mu.Lock()
	if entry, ok := c.entries[absPath]; ok {
		if c.isFreshLocked(entry) {
			c.mu.Unlock()
			return entry, nil
		}
		// stale: fall through to re-read via single-flight below
	}

	if fl, ok := c.inflight[absPath]; ok {
		c.mu.Unlock()
		<-fl.done
		return fl.entry, fl.err
	}

	fl := &inflight{done: make(chan struct{})}
	c.inflight[absPath] = fl
	c.mu.Unlock()

	entry, err := c.load(absPath)

	c.mu.Lock()
	delete(c.inflight, absPath)
	if err == nil && entry != nil {
		c.admitLocked(absPath, entry)
	}
	c.mu.Unlock()

	fl.entry, fl.err = entry, err
	close(fl.done)
	return entry, err
}

// isFreshLocked must be called with mu held. It restats the file when the
// revalidation interval has elapsed and invalidates the entry if mtime
// changed, per spec.md §4.4.
func (c *Cache) isFreshLocked(entry *Entry) bool {
	now := time.Now()
	if now.Sub(entry.lastCheckedMono) < c.settings.TimeBetweenChecks {
		return true
	}
	entry.lastCheckedMono = now

	info, err := os.Stat(entry.Path)
	if err != nil {
		delete(c.entries, entry.Path)
		return false
	}
	if !info.ModTime().Equal(entry.ModTime) {
		delete(c.entries, entry.Path)
		return false
	}
	return true
}

func (c *Cache) load(absPath string) (*Entry, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("filecache: %s is a directory", absPath)
	}
	if c.settings.MaxSizePerFileBytes > 0 && info.Size() > c.settings.MaxSizePerFileBytes {
		// Too large to cache; caller should stream it separately.
		return nil, errTooLarge
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	ct := mime.TypeByExtension(filepath.Ext(absPath))
	if ct == "" {
		ct = "application/octet-stream"
	}

	now := time.Now()
	return &Entry{
		Path:            absPath,
		Bytes:           data,
		Size:            int64(len(data)),
		ModTime:         info.ModTime(),
		ContentType:     ct,
		ETag:            fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano()),
		lastCheckedMono: now,
		insertedMono:    now,
	}, nil
}

// errTooLarge signals the caller to stream the file instead of caching it.
var errTooLarge = fmt.Errorf("filecache: file exceeds max_size_per_file_bytes")

// ErrTooLarge is the exported sentinel callers should compare against.
func ErrTooLarge() error { return errTooLarge }

func (c *Cache) readUncached(absPath string) (*Entry, error) {
	return c.load(absPath)
}

// admitLocked inserts entry, enforcing I6 (count <= max_items). Must be
// called with mu held.
func (c *Cache) admitLocked(absPath string, entry *Entry) {
	if _, exists := c.entries[absPath]; !exists {
		c.order = append(c.order, absPath)
	}
	c.entries[absPath] = entry

	if c.settings.MaxItems <= 0 {
		return
	}
	thresholdCount := c.settings.MaxItems * c.settings.ForcedEvictionThresholdPct / 100
	if len(c.entries) < thresholdCount {
		return
	}
	target := c.settings.MaxItems / 2
	c.evictOldestLocked(target)
}

// evictOldestLocked removes oldest-inserted entries until count <= target.
func (c *Cache) evictOldestLocked(target int) {
	i := 0
	for len(c.entries) > target && i < len(c.order) {
		key := c.order[i]
		delete(c.entries, key)
		i++
	}
	c.order = c.order[i:]
}

// Cleanup removes entries older than max_item_lifetime_s. cmd/gruxi's
// scheduler calls it every 30 seconds; cleanup_interval_s is not consulted.
func (c *Cache) Cleanup() {
	if c.settings.MaxItemLifetime <= 0 {
		return
	}
	cutoff := time.Now().Add(-c.settings.MaxItemLifetime)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, key := range c.order {
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		if entry.insertedMono.Before(cutoff) {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// SetGzipBytes stores the lazily-computed compressed form for an entry.
func (c *Cache) SetGzipBytes(absPath string, gz []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[absPath]; ok {
		entry.GzipBytes = gz
	}
}

// ReadStream opens a file for direct streaming (used when it exceeds
// MaxSizePerFileBytes and was not admitted to the cache).
func ReadStream(absPath string) (io.ReadCloser, os.FileInfo, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// sortedKeys is a small test helper kept for deterministic assertions.
func (c *Cache) sortedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
