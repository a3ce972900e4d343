// Package handler glues the request pipeline together: resolve the site
// and handler for the incoming request, dispatch to the matched
// processor (static, PHP, or proxy), apply extra headers, and write the
// per-site access log line. Grounded on the teacher's main request-routing
// entry point (internal/webserver, since deleted — see DESIGN.md),
// reworked from the teacher's tenant-routing dispatch into the
// site/processor dispatch named by spec.md §5.
package handler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/iSundram/gruxi/internal/accesslog"
	"github.com/iSundram/gruxi/internal/admin"
	"github.com/iSundram/gruxi/internal/cgipool"
	"github.com/iSundram/gruxi/internal/config"
	"github.com/iSundram/gruxi/internal/fastcgi"
	"github.com/iSundram/gruxi/internal/filecache"
	"github.com/iSundram/gruxi/internal/gzipenc"
	"github.com/iSundram/gruxi/internal/logging"
	"github.com/iSundram/gruxi/internal/monitor"
	"github.com/iSundram/gruxi/internal/proxy"
	"github.com/iSundram/gruxi/internal/resolver"
	"github.com/iSundram/gruxi/internal/staticfile"
	"github.com/iSundram/gruxi/pkg/models"
)

// Handler is the per-binding HTTP entry point.
type Handler struct {
	BindingID uint32
	IsTLS     bool

	Bus      *config.Bus
	Cache    *filecache.Cache
	CGIPools *cgipool.Manager
	Access   *accesslog.Logger
	Log      *logging.Service
	Metrics  *monitor.Registry
	Mode     *admin.OperationModeHolder

	proxyMu    sync.Mutex
	proxyRev   int64                       // snapshot revision the cache below was built from
	proxyCache map[string]*proxy.Processor // proxy processor ID -> built Processor, reused until the revision changes
}

// New builds a Handler for one binding.
func New(bindingID uint32, isTLS bool, bus *config.Bus, cache *filecache.Cache, pools *cgipool.Manager, access *accesslog.Logger, log *logging.Service, metrics *monitor.Registry, mode *admin.OperationModeHolder) *Handler {
	return &Handler{
		BindingID:  bindingID,
		IsTLS:      isTLS,
		Bus:        bus,
		Cache:      cache,
		CGIPools:   pools,
		Access:     access,
		Log:        log,
		Metrics:    metrics,
		Mode:       mode,
		proxyCache: make(map[string]*proxy.Processor),
	}
}

// statusRecorder captures the status code and byte count written, for
// access logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// ServeHTTP implements the full request pipeline: site resolution,
// rewrite application, handler resolution, processor dispatch.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.Metrics.IncInFlight()
	defer h.Metrics.DecInFlight()

	rec := &statusRecorder{ResponseWriter: w}
	snapshot := h.Bus.Current()

	site := resolver.ResolveSite(snapshot, h.BindingID, r.Host)
	if site == nil {
		http.Error(rec, "no matching site", http.StatusNotFound)
		h.finish(rec, r, "", start)
		return
	}

	reqPath := resolver.ApplyRewrites(site, r.URL.Path)

	handlersByID := make(map[string]*models.RequestHandler, len(snapshot.RequestHandlers))
	for i := range snapshot.RequestHandlers {
		handlersByID[snapshot.RequestHandlers[i].ID] = &snapshot.RequestHandlers[i]
	}
	rh := resolver.ResolveHandler(site, handlersByID, reqPath)
	if rh == nil {
		http.Error(rec, "no matching request handler", http.StatusNotFound)
		h.finish(rec, r, fmt.Sprint(site.ID), start)
		return
	}

	applyExtraHeaders(rec, site.ExtraHeaders)

	switch rh.ProcessorType {
	case models.ProcessorStatic:
		h.serveStatic(rec, r, snapshot, rh, reqPath)
	case models.ProcessorPHP:
		h.servePHP(rec, r, snapshot, rh, reqPath)
	case models.ProcessorProxy:
		h.serveProxy(rec, r, snapshot, rh)
	default:
		http.Error(rec, "misconfigured handler", http.StatusInternalServerError)
	}

	if models.EffectiveAccessLogEnabled(*site, h.Mode.Get()) && site.AccessLogFile != "" {
		entry := accesslog.FromRequest(r, rec.status, rec.bytes, start)
		h.Access.Log(fmt.Sprint(site.ID), site.AccessLogFile, entry)
	}
	h.finish(rec, r, fmt.Sprint(site.ID), start)
}

func (h *Handler) finish(rec *statusRecorder, r *http.Request, siteLabel string, start time.Time) {
	class := statusClass(rec.status)
	h.Metrics.ObserveRequest(siteLabel, class, time.Since(start))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

func applyExtraHeaders(w http.ResponseWriter, headers []models.HeaderPair) {
	for _, hp := range headers {
		w.Header().Set(hp.Name, hp.Value)
	}
}

func findStatic(snap *models.ConfigSnapshot, id string) *models.StaticFileProcessor {
	for i := range snap.StaticFileProcessors {
		if snap.StaticFileProcessors[i].ID == id {
			return &snap.StaticFileProcessors[i]
		}
	}
	return nil
}

func findPHP(snap *models.ConfigSnapshot, id string) *models.PhpProcessor {
	for i := range snap.PhpProcessors {
		if snap.PhpProcessors[i].ID == id {
			return &snap.PhpProcessors[i]
		}
	}
	return nil
}

func findProxy(snap *models.ConfigSnapshot, id string) *models.ProxyProcessor {
	for i := range snap.ProxyProcessors {
		if snap.ProxyProcessors[i].ID == id {
			return &snap.ProxyProcessors[i]
		}
	}
	return nil
}

func (h *Handler) serveStatic(w http.ResponseWriter, r *http.Request, snap *models.ConfigSnapshot, rh *models.RequestHandler, reqPath string) {
	p := findStatic(snap, rh.ProcessorID)
	if p == nil {
		http.Error(w, "processor not found", http.StatusInternalServerError)
		return
	}
	gz := gzipenc.NewSettings(snap.Core.Gzip.Enabled, snap.Core.Gzip.CompressibleContentTypes)
	proc := staticfile.New(p.WebRoot, p.WebRootIndexFileList, h.Cache, gz)
	proc.ServeHTTP(w, r, reqPath)
}

func (h *Handler) servePHP(w http.ResponseWriter, r *http.Request, snap *models.ConfigSnapshot, rh *models.RequestHandler, reqPath string) {
	p := findPHP(snap, rh.ProcessorID)
	if p == nil {
		http.Error(w, "processor not found", http.StatusInternalServerError)
		return
	}

	timeout := time.Duration(p.RequestTimeoutS) * time.Second
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	switch p.ServedByType {
	case models.PhpServedByFPM:
		env := fastcgi.BuildEnv(r, reqPath, p.FastCGIWebRoot, h.IsTLS)
		resp, err := fastcgi.Do(ctx, p.FastCGIIPAndPort, &fastcgi.Request{Env: env, Body: r.Body, Timeout: timeout})
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			} else {
				http.Error(w, "bad gateway", http.StatusBadGateway)
			}
			return
		}
		for k, vals := range resp.Header {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				w.Write(buf[:n])
			}
			if rerr != nil {
				break
			}
		}

	case models.PhpServedByWinCGI:
		pool, ok := h.CGIPools.Pool(p.PhpCgiHandlerID)
		if !ok {
			http.Error(w, "cgi pool not running", http.StatusBadGateway)
			return
		}
		env := fastcgi.BuildEnv(r, reqPath, p.LocalWebRoot, h.IsTLS)
		out, err := pool.Handle(ctx, env, r.Body)
		if err != nil {
			if err == cgipool.ErrAdmissionTimeout {
				http.Error(w, "cgi pool exhausted", http.StatusServiceUnavailable)
			} else {
				http.Error(w, "cgi request failed", http.StatusBadGateway)
			}
			return
		}
		writeCGIOutput(w, out)

	default:
		http.Error(w, "misconfigured php processor", http.StatusInternalServerError)
	}
}

// writeCGIOutput parses the CGI/1.1 "Name: Value" header block a worker
// wrote to stdout (the standard format any CGI executable, including
// win-php-cgi, produces regardless of how its own input arrived) and
// copies the remaining bytes as the body.
func writeCGIOutput(w http.ResponseWriter, out []byte) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(out)))
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		http.Error(w, "malformed cgi response", http.StatusBadGateway)
		return
	}

	header := http.Header(mimeHeader)
	status := http.StatusOK
	if s := header.Get("Status"); s != "" {
		fmt.Sscanf(s, "%d", &status)
		header.Del("Status")
	}
	for k, vals := range header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}

	sep := []byte("\r\n\r\n")
	idx := bytes.Index(out, sep)
	var body []byte
	if idx >= 0 {
		body = out[idx+len(sep):]
	}

	w.WriteHeader(status)
	w.Write(body)
}

func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request, snap *models.ConfigSnapshot, rh *models.RequestHandler) {
	p := findProxy(snap, rh.ProcessorID)
	if p == nil {
		http.Error(w, "processor not found", http.StatusInternalServerError)
		return
	}
	proc, err := h.proxyProcessor(snap.Revision, p)
	if err != nil {
		http.Error(w, "misconfigured proxy processor", http.StatusInternalServerError)
		return
	}
	proc.ServeHTTP(w, r)
}

// proxyProcessor returns the cached *proxy.Processor for p, rebuilding it
// (and discarding the whole cache) whenever the snapshot revision changes.
// Reusing the Processor across requests is what lets its upstream health
// hysteresis (consecutiveSame/lastOutcomeHealthy) actually accumulate.
func (h *Handler) proxyProcessor(revision int64, p *models.ProxyProcessor) (*proxy.Processor, error) {
	h.proxyMu.Lock()
	defer h.proxyMu.Unlock()

	if revision != h.proxyRev {
		for _, stale := range h.proxyCache {
			stale.Close()
		}
		h.proxyCache = make(map[string]*proxy.Processor)
		h.proxyRev = revision
	}
	if proc, ok := h.proxyCache[p.ID]; ok {
		return proc, nil
	}

	proc, err := proxy.New(
		p.UpstreamServers,
		time.Duration(p.TimeoutS)*time.Second,
		p.HealthCheckPath,
		p.VerifyTLSCertificates,
		time.Duration(p.HealthCheckIntervalS)*time.Second,
		time.Duration(p.HealthCheckTimeoutS)*time.Second,
	)
	if err != nil {
		return nil, err
	}
	rewrites := make([]proxy.Rewrite, 0, len(p.URLRewrites))
	for _, rw := range p.URLRewrites {
		rewrites = append(rewrites, proxy.Rewrite{From: rw.From, To: rw.To, CaseInsensitive: rw.CaseInsensitive})
	}
	proc.URLRewrites = rewrites
	proc.PreserveHostHeader = p.PreserveHostHeader
	proc.ForcedHostHeader = p.ForcedHostHeader

	h.proxyCache[p.ID] = proc
	return proc, nil
}
