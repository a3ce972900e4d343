// Package staticfile implements the static-file processor (spec.md §4.6):
// path containment under a web root, index-file resolution, conditional
// requests, and single-range support, backed by internal/filecache.
// Grounded on the teacher's static asset handling idiom (small, explicit
// net/http helpers rather than http.FileServer, to keep ETag/range
// semantics under our control) and generalized to the configured
// StaticFileProcessor settings instead of a fixed admin-UI asset root.
package staticfile

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/iSundram/gruxi/internal/filecache"
	"github.com/iSundram/gruxi/internal/gzipenc"
	"github.com/iSundram/gruxi/pkg/utils"
)

var errOutsideRoot = errors.New("staticfile: path escapes web root")

// Processor serves files rooted at WebRoot through Cache.
type Processor struct {
	WebRoot      string
	IndexFiles   []string
	Cache        *filecache.Cache
	Gzip         gzipenc.Settings
	DirListing   bool
}

// New builds a Processor backed by the given cache.
func New(webRoot string, indexFiles []string, cache *filecache.Cache, gz gzipenc.Settings) *Processor {
	if len(indexFiles) == 0 {
		indexFiles = []string{"index.html"}
	}
	return &Processor{WebRoot: webRoot, IndexFiles: indexFiles, Cache: cache, Gzip: gz}
}

// resolve maps a request path onto an absolute, contained filesystem path,
// trying index files for directory-like requests.
func (p *Processor) resolve(reqPath string) (string, error) {
	cleaned := path.Clean("/" + utils.SanitizePath(reqPath))
	abs := filepath.Join(p.WebRoot, filepath.FromSlash(cleaned))

	root, err := filepath.Abs(p.WebRoot)
	if err != nil {
		return "", err
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if absClean != root && !strings.HasPrefix(absClean, root+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return absClean, nil
}

// ServeHTTP resolves reqPath under the web root, tries index files when it
// names a directory, applies conditional-request and range handling, and
// streams the body (optionally gzip-encoded) to w.
func (p *Processor) ServeHTTP(w http.ResponseWriter, r *http.Request, reqPath string) {
	abs, err := p.resolve(reqPath)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	entry, err := p.Cache.Get(abs)
	if errors.Is(err, filecache.ErrTooLarge()) {
		p.serveStream(w, r, abs)
		return
	}
	if err != nil {
		if strings.HasSuffix(reqPath, "/") || path.Ext(reqPath) == "" {
			for _, idx := range p.IndexFiles {
				candidate, cerr := p.resolve(strings.TrimSuffix(reqPath, "/") + "/" + idx)
				if cerr != nil {
					continue
				}
				if e, ferr := p.Cache.Get(candidate); ferr == nil {
					entry = e
					err = nil
					break
				} else if errors.Is(ferr, filecache.ErrTooLarge()) {
					p.serveStream(w, r, candidate)
					return
				}
			}
		}
	}
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if condMatch(r, entry.ETag, entry.ModTime) {
		w.Header().Set("ETag", entry.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	body := entry.Bytes
	etag := entry.ETag
	contentType := entry.ContentType
	useGzip := p.Gzip.Enabled && gzipenc.AcceptsGzip(r) && p.Gzip.Eligible(contentType, len(body))
	if useGzip {
		if entry.GzipBytes == nil {
			gz, gerr := gzipenc.Compress(body)
			if gerr == nil {
				entry.GzipBytes = gz
				p.Cache.SetGzipBytes(abs, gz)
			}
		}
		if entry.GzipBytes != nil {
			body = entry.GzipBytes
			etag = gzipenc.ApplyHeaders(w, entry.ETag, len(body))
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", entry.ModTime.UTC().Format(http.TimeFormat))

	if !useGzip {
		if rng, ok := parseSingleRange(r.Header.Get("Range"), len(body)); ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, len(body)))
			w.Header().Set("Content-Length", strconv.Itoa(rng.end-rng.start+1))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(body[rng.start : rng.end+1])
			return
		}
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// serveStream handles a file the cache refuses to admit (spec.md §4.4: larger
// than max_size_per_file_bytes), streaming it straight off disk rather than
// reading it fully into memory.
func (p *Processor) serveStream(w http.ResponseWriter, r *http.Request, absPath string) {
	f, info, err := filecache.ReadStream(absPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	ct := mime.TypeByExtension(filepath.Ext(absPath))
	if ct == "" {
		ct = "application/octet-stream"
	}
	etag := fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano())

	if condMatch(r, etag, info.ModTime()) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	if rng, ok := parseSingleRange(r.Header.Get("Range"), int(info.Size())); ok {
		if seeker, ok := f.(io.Seeker); ok {
			if _, serr := seeker.Seek(int64(rng.start), io.SeekStart); serr == nil {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, info.Size()))
				w.Header().Set("Content-Length", strconv.Itoa(rng.end-rng.start+1))
				w.WriteHeader(http.StatusPartialContent)
				io.CopyN(w, f, int64(rng.end-rng.start+1))
				return
			}
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

// condMatch implements conditional GET (spec.md §4.3): If-None-Match takes
// precedence over If-Modified-Since when both are present, matching
// net/http's own ServeContent precedence.
func condMatch(r *http.Request, etag string, modTime time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return inm == etag || inm == "*"
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		t, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		return !modTime.Truncate(time.Second).After(t)
	}
	return false
}

type byteRange struct{ start, end int }

// parseSingleRange supports the single "bytes=start-end" form used by media
// seeking and partial downloads; multi-range requests fall back to a full
// 200 response (spec.md §4.6 Non-goal: no multipart/byteranges).
func parseSingleRange(header string, size int) (byteRange, bool) {
	if header == "" || size == 0 {
		return byteRange{}, false
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, false
	}

	var start, end int
	var err error
	switch {
	case parts[0] == "":
		// suffix range: last N bytes
		n, serr := strconv.Atoi(parts[1])
		if serr != nil || n <= 0 {
			return byteRange{}, false
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	case parts[1] == "":
		start, err = strconv.Atoi(parts[0])
		if err != nil {
			return byteRange{}, false
		}
		end = size - 1
	default:
		start, err = strconv.Atoi(parts[0])
		if err != nil {
			return byteRange{}, false
		}
		end, err = strconv.Atoi(parts[1])
		if err != nil {
			return byteRange{}, false
		}
	}

	if start < 0 || end >= size || start > end {
		return byteRange{}, false
	}
	return byteRange{start, end}, true
}
