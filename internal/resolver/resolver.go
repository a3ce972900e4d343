// Package resolver implements the site & processor resolution pipeline:
// picking a site for (binding, Host), applying rewrite functions, and
// walking a site's ordered request handlers to the first match.
package resolver

import (
	"path"
	"sort"
	"strings"

	"github.com/iSundram/gruxi/internal/globmatch"
	"github.com/iSundram/gruxi/pkg/models"
)

// ErrNoSite names the case where no site could be resolved for the
// binding/host and the binding has no default site either. ResolveSite
// reports that case by returning nil, not this error.
var ErrNoSite = errNoSite{}

type errNoSite struct{}

func (errNoSite) Error() string { return "no matching site" }

// ErrNoHandler names the case where a site was resolved but no enabled
// handler matched the (possibly rewritten) path. ResolveHandler reports that
// case by returning nil, not this error.
var ErrNoHandler = errNoHandler{}

type errNoHandler struct{}

func (errNoHandler) Error() string { return "no matching request handler" }

// siteCandidate pairs a site with the hostname pattern it matched, for tiebreaking.
type siteCandidate struct {
	site    *models.Site
	pattern string
	literal bool
}

// ResolveSite picks the site for a binding/host pair per spec.md §4.2 step 3:
// exact literal beats any wildcard; among wildcards the longer literal
// suffix wins; ties broken by site id ascending; falls back to the
// binding's default site.
func ResolveSite(snapshot *models.ConfigSnapshot, bindingID uint32, host string) *models.Site {
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	siteByID := make(map[uint32]*models.Site, len(snapshot.Sites))
	for i := range snapshot.Sites {
		siteByID[snapshot.Sites[i].ID] = &snapshot.Sites[i]
	}

	var attached []*models.Site
	var defaultSite *models.Site
	for _, bs := range snapshot.BindingSites {
		if bs.BindingID != bindingID {
			continue
		}
		site, ok := siteByID[bs.SiteID]
		if !ok || !site.IsEnabled {
			continue
		}
		attached = append(attached, site)
		if site.IsDefault {
			defaultSite = site
		}
	}

	var candidates []siteCandidate
	for _, site := range attached {
		for _, pattern := range site.Hostnames {
			if !globmatch.Match(pattern, host) {
				continue
			}
			candidates = append(candidates, siteCandidate{
				site:    site,
				pattern: pattern,
				literal: !strings.Contains(pattern, "*"),
			})
		}
	}

	if len(candidates) == 0 {
		return defaultSite
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.literal != b.literal {
			return a.literal // literal sorts first (wins)
		}
		if !a.literal {
			la, lb := globmatch.LiteralSuffixLen(a.pattern), globmatch.LiteralSuffixLen(b.pattern)
			if la != lb {
				return la > lb // longer literal suffix wins
			}
		}
		return a.site.ID < b.site.ID
	})

	return candidates[0].site
}

// ApplyRewrites runs a site's rewrite_functions over path in order.
// The only defined function is OnlyWebRootIndexForSubdirs. Unknown names
// are skipped here without an error and without logging anything; they are
// rejected earlier, at config-save time, by internal/store.
func ApplyRewrites(site *models.Site, reqPath string) string {
	out := reqPath
	for _, fn := range site.RewriteFunctions {
		switch fn.Name {
		case "OnlyWebRootIndexForSubdirs":
			out = onlyWebRootIndexForSubdirs(out)
		}
	}
	return out
}

// onlyWebRootIndexForSubdirs substitutes any subdirectory-looking path
// (trailing "/" or no file extension) with "/".
func onlyWebRootIndexForSubdirs(p string) string {
	if strings.HasSuffix(p, "/") {
		return "/"
	}
	base := path.Base(p)
	if !strings.Contains(base, ".") {
		return "/"
	}
	return p
}

// ResolveHandler walks a site's enabled request handlers in order and
// returns the first whose url_match matches path.
func ResolveHandler(site *models.Site, handlers map[string]*models.RequestHandler, reqPath string) *models.RequestHandler {
	for _, id := range site.RequestHandlers {
		h, ok := handlers[id]
		if !ok || !h.IsEnabled {
			continue
		}
		if globmatch.MatchAny(h.URLMatch, reqPath) {
			return h
		}
	}
	return nil
}
