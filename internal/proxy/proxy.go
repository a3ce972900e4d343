// Package proxy implements the reverse-proxy processor (spec.md §4.8):
// round-robin load balancing over healthy upstreams, URL rewrites, header
// policy, and streamed request/response bodies. Grounded on the other
// examples' Caddy-style reverse proxy shape and rehmatworks-fastcp's
// Caddy-admin-API reload pattern, reworked into a direct net/http.Transport
// round tripper per upstream since Gruxi proxies to arbitrary configured
// URLs rather than a fixed local Caddy instance.
package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Upstream is one backend server plus its live health state.
type Upstream struct {
	URL     *url.URL
	healthy atomic.Bool

	mu                 sync.Mutex
	consecutiveSame    int
	lastOutcomeHealthy bool
}

func newUpstream(raw string, startHealthy bool) (*Upstream, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	up := &Upstream{URL: u}
	up.healthy.Store(startHealthy)
	up.lastOutcomeHealthy = startHealthy
	return up, nil
}

// recordCheck applies the two-consecutive-result hysteresis rule from
// spec.md §4.8/§8: a state flip requires two consecutive checks of the
// opposite outcome.
func (u *Upstream) recordCheck(ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if ok == u.lastOutcomeHealthy {
		u.consecutiveSame++
	} else {
		u.lastOutcomeHealthy = ok
		u.consecutiveSame = 1
	}
	if u.consecutiveSame >= 2 {
		u.healthy.Store(ok)
	}
}

// Processor is one ProxyProcessor's runtime state: upstream set, rotation
// index, and rewrite/header policy.
type Processor struct {
	Upstreams             []*Upstream
	LoadBalancingStrategy string
	Timeout               time.Duration
	URLRewrites           []Rewrite
	PreserveHostHeader    bool
	ForcedHostHeader      string
	VerifyTLSCertificates bool

	rrIndex uint64

	client       *http.Client
	healthClient *http.Client

	healthCheckPath string
	healthTimeout   time.Duration

	stopHealth chan struct{}
	healthWG   sync.WaitGroup
}

// Rewrite is a literal substring substitution over path+query.
type Rewrite struct {
	From            string
	To              string
	CaseInsensitive bool
}

// New builds a Processor for upstreamURLs, all initially considered healthy
// when healthCheckPath is empty (spec.md §4.8: "all upstreams are always
// considered healthy" in that case). When healthCheckPath is set, a
// background goroutine sends it to every upstream every healthCheckInterval
// with a timeout of healthCheckTimeout, per spec.md §4.8; call Close to stop
// it once the Processor is discarded.
func New(upstreamURLs []string, timeout time.Duration, healthCheckPath string, verifyTLS bool, healthCheckInterval, healthCheckTimeout time.Duration) (*Processor, error) {
	p := &Processor{
		LoadBalancingStrategy: "round_robin",
		Timeout:               timeout,
		VerifyTLSCertificates: verifyTLS,
		healthCheckPath:       healthCheckPath,
		healthTimeout:         healthCheckTimeout,
	}
	startHealthy := healthCheckPath == ""
	for _, raw := range upstreamURLs {
		up, err := newUpstream(raw, startHealthy)
		if err != nil {
			return nil, err
		}
		p.Upstreams = append(p.Upstreams, up)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !verifyTLS},
	}
	p.client = &http.Client{Transport: transport, Timeout: 0} // per-op timeouts applied via context
	p.healthClient = &http.Client{Transport: transport}

	if healthCheckPath != "" && healthCheckInterval > 0 {
		p.stopHealth = make(chan struct{})
		p.healthWG.Add(1)
		go p.runHealthChecks(healthCheckInterval)
	}

	return p, nil
}

// runHealthChecks ticks every interval, probing healthCheckPath on every
// upstream and feeding the outcome to its hysteresis state machine.
func (p *Processor) runHealthChecks(interval time.Duration) {
	defer p.healthWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			for _, up := range p.Upstreams {
				up.recordCheck(p.probe(up))
			}
		}
	}
}

// probe sends one GET healthCheckPath to up, succeeding only on a 200.
func (p *Processor) probe(up *Upstream) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.healthTimeout)
	defer cancel()

	target := *up.URL
	target.Path = p.healthCheckPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false
	}
	resp, err := p.healthClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close stops the background health-check goroutine, if one was started.
func (p *Processor) Close() {
	if p.stopHealth == nil {
		return
	}
	close(p.stopHealth)
	p.healthWG.Wait()
}

// Pick selects the next healthy upstream in round-robin order, or nil if
// none are healthy (spec.md: caller returns 502).
func (p *Processor) Pick() *Upstream {
	n := len(p.Upstreams)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		idx := atomic.AddUint64(&p.rrIndex, 1) % uint64(n)
		if p.Upstreams[idx].healthy.Load() {
			return p.Upstreams[idx]
		}
	}
	return nil
}

// RewritePathQuery applies each configured rewrite in order to the full
// path+query, by literal substring replacement.
func RewritePathQuery(rewrites []Rewrite, pathAndQuery string) string {
	out := pathAndQuery
	for _, rw := range rewrites {
		if rw.CaseInsensitive {
			out = replaceCaseInsensitive(out, rw.From, rw.To)
		} else {
			out = strings.ReplaceAll(out, rw.From, rw.To)
		}
	}
	return out
}

func replaceCaseInsensitive(s, from, to string) string {
	if from == "" {
		return s
	}
	lowerS, lowerFrom := strings.ToLower(s), strings.ToLower(from)
	var b strings.Builder
	for {
		idx := strings.Index(lowerS, lowerFrom)
		if idx < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:idx])
		b.WriteString(to)
		s = s[idx+len(from):]
		lowerS = lowerS[idx+len(from):]
	}
	return b.String()
}

// StripHopByHop removes hop-by-hop headers in place.
func StripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// ServeHTTP proxies r to the chosen upstream and copies the response back
// to w, streaming both bodies without full buffering.
func (p *Processor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := p.Pick()
	if up == nil {
		http.Error(w, "no healthy upstream", http.StatusBadGateway)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.Timeout)
	defer cancel()

	target := *up.URL
	rewritten := RewritePathQuery(p.URLRewrites, r.URL.RequestURI())
	if u, err := url.Parse(rewritten); err == nil {
		target.Path = u.Path
		target.RawQuery = u.RawQuery
	}

	outReq := r.Clone(ctx)
	outReq.URL = &target
	outReq.RequestURI = ""
	StripHopByHop(outReq.Header)

	switch {
	case p.ForcedHostHeader != "":
		outReq.Host = p.ForcedHostHeader
	case p.PreserveHostHeader:
		outReq.Host = r.Host
	default:
		outReq.Host = target.Host
	}

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientIP = r.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)

	resp, err := p.client.Do(outReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	StripHopByHop(resp.Header)
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
