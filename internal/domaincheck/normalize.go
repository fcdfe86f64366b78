// Package domaincheck validates lead domains: normalization, DNS
// liveness, geo/CDN classification, TLD policy, blocked-domain
// categories, and homepage B2B signal scoring.
package domaincheck

import (
	"regexp"
	"strings"
)

var domainRe = regexp.MustCompile(`(?i)^[a-z0-9][a-z0-9.-]+\.[a-z]{2,}$`)

// Normalize strips scheme, userinfo, port, path, and a leading "www."
// from a raw domain or URL and lowercases the result. Returns "" for
// values that cannot hold a domain.
func Normalize(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}
	for _, prefix := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, prefix)
	}
	if at := strings.LastIndex(d, "@"); at != -1 {
		d = d[at+1:]
	}
	if i := strings.IndexAny(d, "/?#"); i != -1 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i != -1 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

// IsPlausible reports whether a normalized domain is syntactically a
// registrable name.
func IsPlausible(domain string) bool {
	return domainRe.MatchString(domain)
}

// isPlaceholder catches cell values that mean "no domain".
func isPlaceholder(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "unknown", "n/a", "na", "none", "null", "-":
		return true
	}
	return false
}

// TLD returns the last label of a domain, without the dot.
func TLD(domain string) string {
	i := strings.LastIndex(domain, ".")
	if i == -1 || i == len(domain)-1 {
		return ""
	}
	return domain[i+1:]
}
