// Package globmatch implements the single glob dialect used throughout
// Gruxi for Site.Hostnames and RequestHandler.URLMatch: "*" matches any
// sequence of characters, including "/". This resolves the Open Question
// in spec.md §9 about whether "*" crosses path separators — it does, so a
// pattern like "/api/*" matches "/api/v1/users".
package globmatch

import (
	"regexp"
	"strings"
	"sync"
)

var (
	mu    sync.Mutex
	cache = make(map[string]*regexp.Regexp)
)

// compile turns a glob pattern into an anchored, cached regexp.
func compile(pattern string) *regexp.Regexp {
	mu.Lock()
	defer mu.Unlock()

	if re, ok := cache[pattern]; ok {
		return re
	}

	var sb strings.Builder
	sb.WriteString("^")
	for _, part := range strings.Split(pattern, "*") {
		sb.WriteString(regexp.QuoteMeta(part))
		sb.WriteString(".*")
	}
	expr := strings.TrimSuffix(sb.String(), ".*") + "$"
	if strings.HasSuffix(pattern, "*") {
		expr = sb.String() + "$"
	}

	re := regexp.MustCompile(expr)
	cache[pattern] = re
	return re
}

// Match reports whether value matches pattern under Gruxi's glob dialect.
func Match(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	return compile(pattern).MatchString(value)
}

// MatchAny reports whether value matches any of patterns.
func MatchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if Match(p, value) {
			return true
		}
	}
	return false
}

// LiteralSuffixLen returns the length of the longest literal (non-"*") run
// at the end of a wildcard pattern, used to break ties among wildcard
// hostname matches per spec.md §4.2 ("the longer literal suffix wins").
func LiteralSuffixLen(pattern string) int {
	idx := strings.LastIndex(pattern, "*")
	if idx < 0 {
		return len(pattern)
	}
	return len(pattern) - idx - 1
}
