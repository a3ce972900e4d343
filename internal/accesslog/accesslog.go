// Package accesslog implements the per-site access logger (spec.md §4.9):
// a combined-log-format append-only writer, buffered and flushed on a size
// or time trigger, one writer per (site_id, access_log_file) pair. Grounded
// on the teacher's audit-log buffered-writer idiom (internal/audit, since
// deleted — see DESIGN.md) generalized from audit events to HTTP access
// lines.
package accesslog

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	flushBytes    = 64 * 1024
	flushInterval = 1 * time.Second
)

// Entry is one request's worth of access-log fields.
type Entry struct {
	RemoteAddr string
	Time       time.Time
	Method     string
	URI        string
	Proto      string
	Status     int
	BytesSent  int64
	Referer    string
	UserAgent  string
}

// writer buffers lines for a single log file and flushes on size or time.
type writer struct {
	mu       sync.Mutex
	f        *os.File
	buf      *bufio.Writer
	written  int
	lastFlush time.Time
}

func newWriter(path string) (*writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &writer{f: f, buf: bufio.NewWriter(f), lastFlush: time.Now()}, nil
}

func (w *writer) write(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, _ := w.buf.WriteString(line)
	w.written += n
	if w.written >= flushBytes || time.Since(w.lastFlush) >= flushInterval {
		w.flushLocked()
	}
}

func (w *writer) flushLocked() {
	w.buf.Flush()
	w.written = 0
	w.lastFlush = time.Now()
}

func (w *writer) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *writer) close() error {
	w.flush()
	return w.f.Close()
}

// Logger owns one writer per (site_id, file) key.
type Logger struct {
	mu      sync.Mutex
	writers map[string]*writer
}

// New creates an empty access logger.
func New() *Logger {
	return &Logger{writers: make(map[string]*writer)}
}

func key(siteID, file string) string { return siteID + "\x00" + file }

// Log appends one combined-log-format line for siteID to file, opening the
// file's writer lazily on first use.
func (l *Logger) Log(siteID, file string, e Entry) error {
	l.mu.Lock()
	k := key(siteID, file)
	w, ok := l.writers[k]
	if !ok {
		var err error
		w, err = newWriter(file)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		l.writers[k] = w
	}
	l.mu.Unlock()

	w.write(formatCombined(e))
	return nil
}

// FromRequest builds an Entry from an in-flight request/response pair.
func FromRequest(r *http.Request, status int, bytesSent int64, at time.Time) Entry {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return Entry{
		RemoteAddr: host,
		Time:       at,
		Method:     r.Method,
		URI:        r.RequestURI,
		Proto:      r.Proto,
		Status:     status,
		BytesSent:  bytesSent,
		Referer:    r.Header.Get("Referer"),
		UserAgent:  r.Header.Get("User-Agent"),
	}
}

// formatCombined renders e in Apache/NCSA combined log format with an
// ISO-8601 timestamp in place of the traditional strftime format.
func formatCombined(e Entry) string {
	ref := e.Referer
	if ref == "" {
		ref = "-"
	}
	ua := e.UserAgent
	if ua == "" {
		ua = "-"
	}
	return fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %s \"%s\" \"%s\"\n",
		e.RemoteAddr,
		e.Time.Format(time.RFC3339),
		e.Method, e.URI, e.Proto,
		e.Status,
		strconv.FormatInt(e.BytesSent, 10),
		ref, ua,
	)
}

// Flush forces all buffered writers to disk; called by the background
// scheduler and on shutdown.
func (l *Logger) Flush() {
	l.mu.Lock()
	ws := make([]*writer, 0, len(l.writers))
	for _, w := range l.writers {
		ws = append(ws, w)
	}
	l.mu.Unlock()
	for _, w := range ws {
		w.flush()
	}
}

// Close flushes and closes every open writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, w := range l.writers {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.writers = make(map[string]*writer)
	return firstErr
}
