// Package dedupe removes leads that already exist in a reference CRM
// export, and collapses duplicates within a single dataset. Matching
// works over normalized keys in four classes: domain, linkedin, email,
// and company name.
package dedupe

import (
	"net/url"
	"regexp"
	"strings"
)

// KeyClass identifies how a value is normalized and matched.
type KeyClass string

const (
	KeyDomain   KeyClass = "domain"
	KeyLinkedIn KeyClass = "linkedin"
	KeyEmail    KeyClass = "email"
	KeyCompany  KeyClass = "company"
)

// strongClasses are high-confidence key classes; company-name matching
// is only a fallback when a row carries none of these.
var strongClasses = []KeyClass{KeyDomain, KeyLinkedIn, KeyEmail}

// Strong reports whether the class is one of the high-confidence keys.
func (c KeyClass) Strong() bool {
	for _, s := range strongClasses {
		if c == s {
			return true
		}
	}
	return false
}

var commonSubdomains = []string{
	"www.", "app.", "mail.", "blog.", "m.", "ww1.", "ww2.", "www2.", "web.", "portal.",
}

var (
	emailRe      = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	schemeRe     = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
	multiSplitRe = regexp.MustCompile(`[,\n;|]+`)
)

var junkValues = map[string]struct{}{
	"unknown": {}, "n/a": {}, "none": {}, "null": {},
}

// NormalizeDomainKey canonicalizes a domain or website URL into a bare
// host, dropping common service subdomains. Values that cannot hold a
// domain normalize to "".
func NormalizeDomainKey(value string) string {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" || strings.Contains(raw, " ") {
		return ""
	}
	candidate := raw
	if !schemeRe.MatchString(candidate) {
		candidate = "http://" + candidate
	}
	host := raw
	if parsed, err := url.Parse(candidate); err == nil && parsed.Host != "" {
		host = parsed.Host
	} else {
		host = strings.NewReplacer("https://", "", "http://", "", "www.", "").Replace(raw)
	}
	if at := strings.LastIndex(host, "@"); at != -1 {
		host = host[at+1:]
	}
	for _, sep := range []string{"/", "?", "#", ":"} {
		if i := strings.Index(host, sep); i != -1 {
			host = host[:i]
		}
	}
	host = strings.Trim(host, ".")
	for _, prefix := range commonSubdomains {
		if strings.HasPrefix(host, prefix) {
			host = host[len(prefix):]
			break
		}
	}
	return host
}

// NormalizeLinkedInKey canonicalizes LinkedIn URLs and handles. Profile
// paths on linkedin.com are preserved since the path is the identity.
func NormalizeLinkedInKey(value string) string {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "@") {
		return strings.TrimSpace(strings.TrimPrefix(raw, "@"))
	}
	if strings.Contains(raw, " ") && !strings.Contains(raw, "linkedin") {
		return ""
	}
	if !strings.Contains(raw, "linkedin") && !strings.Contains(raw, "/") && !strings.Contains(raw, ".") {
		// Plain handle without the @.
		return raw
	}

	candidate := raw
	if !schemeRe.MatchString(candidate) {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		cleaned := strings.NewReplacer("https://", "", "http://", "", "www.", "").Replace(raw)
		for _, sep := range []string{"?", "#"} {
			if i := strings.Index(cleaned, sep); i != -1 {
				cleaned = cleaned[:i]
			}
		}
		cleaned = strings.TrimRight(cleaned, "/")
		if strings.Contains(cleaned, "linkedin") {
			return cleaned
		}
		return ""
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	path := strings.TrimRight(strings.ToLower(parsed.EscapedPath()), "/")
	if strings.HasSuffix(host, "linkedin.com") {
		return host + path
	}
	return strings.TrimRight(host+path, "/")
}

// NormalizeEmailKey lowercases and validates an email address,
// returning "" for anything that does not look like one.
func NormalizeEmailKey(value string) string {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" || !emailRe.MatchString(raw) {
		return ""
	}
	return raw
}

// NormalizeCompanyKey reduces a company name to lowercase alphanumeric
// words for duplicate comparison.
func NormalizeCompanyKey(value string) string {
	cleaned := nonAlnumRe.ReplaceAllString(strings.ToLower(value), " ")
	return strings.TrimSpace(cleaned)
}

// normalizeKey dispatches to the class-specific normalizer.
func normalizeKey(value string, class KeyClass) string {
	switch class {
	case KeyDomain:
		return NormalizeDomainKey(value)
	case KeyLinkedIn:
		return NormalizeLinkedInKey(value)
	case KeyEmail:
		return NormalizeEmailKey(value)
	}
	return NormalizeCompanyKey(value)
}

// ExtractKeys normalizes a cell into zero or more keys. Strong-class
// cells may hold several values ("a.com, b.com"); company cells are
// treated as one name.
func ExtractKeys(value string, class KeyClass) []string {
	var tokens []string
	if class == KeyCompany {
		tokens = []string{value}
	} else {
		parts := multiSplitRe.Split(strings.TrimSpace(value), -1)
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				tokens = append(tokens, p)
			}
		}
		if len(tokens) == 0 {
			tokens = []string{value}
		}
	}

	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, tok := range tokens {
		key := normalizeKey(tok, class)
		if key == "" {
			continue
		}
		if _, junk := junkValues[key]; junk {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
