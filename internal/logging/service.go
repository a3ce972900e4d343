// Package logging provides the process-wide structured logger used by the
// admin API and background components. It is intentionally separate from
// internal/accesslog, which writes the per-site combined-log-format file.
package logging

import (
	"sync"
	"time"

	"github.com/iSundram/gruxi/pkg/models"
)

// maxEntries bounds the in-memory buffer of entries returned by Recent.
const maxEntries = 20000

// Subscriber receives a copy of every entry as it is logged, used to back
// the admin UI's live log stream.
type Subscriber func(models.LogEntry)

// Service is a bounded in-memory structured logger with a subscriber fan-out.
type Service struct {
	mu          sync.RWMutex
	entries     []models.LogEntry
	subscribers map[int]Subscriber
	nextSubID   int
	minLevel    models.LogLevel
}

// NewService creates a logging service gated at minLevel (entries below it
// are dropped, mirroring the operation-mode verbosity bias from §6).
func NewService(minLevel models.LogLevel) *Service {
	return &Service{minLevel: minLevel, subscribers: make(map[int]Subscriber)}
}

var levelRank = map[models.LogLevel]int{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

// SetMinLevel changes the verbosity floor, called when the operation mode changes.
func (s *Service) SetMinLevel(level models.LogLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minLevel = level
}

// Subscribe registers a callback invoked for every accepted entry and
// returns a function that removes it. Callers (e.g. a closed websocket
// stream) must call the returned function when they stop reading, or the
// subscriber map grows for the life of the process.
func (s *Service) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Service) log(level models.LogLevel, service, message string, fields map[string]interface{}) {
	s.mu.Lock()
	if levelRank[level] < levelRank[s.minLevel] {
		s.mu.Unlock()
		return
	}
	entry := models.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Service:   service,
		Message:   message,
		Fields:    fields,
	}
	s.entries = append(s.entries, entry)
	if len(s.entries) > maxEntries {
		s.entries = s.entries[len(s.entries)-maxEntries:]
	}
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(entry)
	}
}

// Debug logs at debug level.
func (s *Service) Debug(service, message string, fields map[string]interface{}) {
	s.log(models.LogLevelDebug, service, message, fields)
}

// Info logs at info level.
func (s *Service) Info(service, message string, fields map[string]interface{}) {
	s.log(models.LogLevelInfo, service, message, fields)
}

// Warn logs at warn level.
func (s *Service) Warn(service, message string, fields map[string]interface{}) {
	s.log(models.LogLevelWarn, service, message, fields)
}

// Error logs at error level.
func (s *Service) Error(service, message string, fields map[string]interface{}) {
	s.log(models.LogLevelError, service, message, fields)
}

// Recent returns up to limit most recent entries, most recent last.
func (s *Service) Recent(limit int) []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	start := len(s.entries) - limit
	out := make([]models.LogEntry, limit)
	copy(out, s.entries[start:])
	return out
}
