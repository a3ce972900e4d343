// Package gzipenc implements opportunistic response compression per
// spec.md §4.5. compress/gzip is stdlib; no third-party compression
// library appears anywhere in the example corpus, so this is deliberately
// built on the standard library (see DESIGN.md justification).
package gzipenc

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strings"
	"time"
)

const minCompressibleBytes = 256

var modTimeZero = time.Time{}

// Settings mirrors models.GzipSettings.
type Settings struct {
	Enabled                  bool
	CompressibleContentTypes map[string]struct{}
}

// NewSettings builds Settings from the raw content-type list in a ConfigSnapshot.
func NewSettings(enabled bool, types []string) Settings {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[strings.ToLower(t)] = struct{}{}
	}
	return Settings{Enabled: enabled, CompressibleContentTypes: set}
}

// AcceptsGzip reports whether the client advertises gzip support.
func AcceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(enc) == "gzip" {
			return true
		}
	}
	return false
}

// Eligible reports whether a response of contentType and length bodyLen
// qualifies for compression under s.
func (s Settings) Eligible(contentType string, bodyLen int) bool {
	if !s.Enabled || bodyLen < minCompressibleBytes {
		return false
	}
	base := contentType
	if idx := strings.IndexByte(base, ';'); idx >= 0 {
		base = base[:idx]
	}
	_, ok := s.CompressibleContentTypes[strings.ToLower(strings.TrimSpace(base))]
	return ok
}

// Compress gzips body. Calling it twice on the same input yields
// byte-identical output (spec.md §8 idempotence property) because
// compress/gzip's default compression is deterministic for identical input
// and header fields, and Compress never sets a timestamp in the header.
func Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	// Zero the mtime so repeated calls on identical input are byte-identical.
	w.Header.ModTime = modTimeZero
	if _, err := w.Write(body); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyHeaders sets the response headers for a gzipped body and returns the
// ETag with its "-gz" suffix applied (spec.md §4.5).
func ApplyHeaders(w http.ResponseWriter, etag string, compressedLen int) string {
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	gzETag := etag
	if gzETag != "" {
		gzETag = strings.TrimSuffix(gzETag, `"`) + `-gz"`
	}
	return gzETag
}
