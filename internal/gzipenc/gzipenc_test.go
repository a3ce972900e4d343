package gzipenc

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAcceptsGzip(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Accept-Encoding", "br, gzip, deflate")
	if !AcceptsGzip(r) {
		t.Error("expected gzip to be detected among multiple encodings")
	}

	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("Accept-Encoding", "br")
	if AcceptsGzip(r2) {
		t.Error("expected no gzip support detected")
	}
}

func TestEligible(t *testing.T) {
	s := NewSettings(true, []string{"text/html", "application/json"})

	if !s.Eligible("text/html; charset=utf-8", 1000) {
		t.Error("expected text/html with params to be eligible")
	}
	if s.Eligible("image/png", 1000) {
		t.Error("expected image/png to be ineligible")
	}
	if s.Eligible("text/html", 10) {
		t.Error("expected body under the minimum size to be ineligible")
	}

	disabled := NewSettings(false, []string{"text/html"})
	if disabled.Eligible("text/html", 1000) {
		t.Error("expected disabled settings to never be eligible")
	}
}

func TestCompressIsDeterministic(t *testing.T) {
	body := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 20))

	a, err := Compress(body)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	b, err := Compress(body)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("expected repeated Compress calls on identical input to be byte-identical")
	}

	gr, err := gzip.NewReader(bytes.NewReader(a))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gr.Close()
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("reading decompressed body: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("decompressed output does not match original body")
	}
}

func TestApplyHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	gzETag := ApplyHeaders(w, `"abc123"`, 42)

	if gzETag != `"abc123-gz"` {
		t.Errorf("gzETag = %q, want %q", gzETag, `"abc123-gz"`)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Error("expected Content-Encoding: gzip")
	}
	if w.Header().Get("Vary") != "Accept-Encoding" {
		t.Error("expected Vary: Accept-Encoding")
	}
}

func TestApplyHeadersEmptyETag(t *testing.T) {
	w := httptest.NewRecorder()
	if got := ApplyHeaders(w, "", 0); got != "" {
		t.Errorf("expected empty etag to stay empty, got %q", got)
	}
}

