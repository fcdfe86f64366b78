package domaincheck

import (
	"sort"
	"strings"
)

// TLDPolicy filters domains by suffix. Entries may be single labels
// ("xyz") or multi-label suffixes ("co.uk"); the longest matching
// suffix wins. The allow list always overrides everything else.
type TLDPolicy struct {
	Allow            []string `json:"allow" yaml:"allow"`
	Disallow         []string `json:"disallow" yaml:"disallow"`
	RejectCountryTLD bool     `json:"rejectCountryTld" yaml:"reject_country_tld"`
}

// Evaluate returns ("", true) when the domain passes the policy, or
// the offending suffix (dots replaced with underscores, for reason
// payloads) and false when it does not.
func (p TLDPolicy) Evaluate(domain string) (string, bool) {
	host := strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
	if host == "" {
		return "", true
	}

	if matchTLDSuffix(host, p.Allow) != "" {
		return "", true
	}

	if m := matchTLDSuffix(host, p.Disallow); m != "" {
		return strings.ReplaceAll(strings.TrimPrefix(m, "."), ".", "_"), false
	}

	if p.RejectCountryTLD && isCountryCodeRoot(host) {
		return host[strings.LastIndex(host, ".")+1:], false
	}

	return "", true
}

// matchTLDSuffix returns the longest policy suffix matching the host,
// or "".
func matchTLDSuffix(host string, suffixes []string) string {
	cleaned := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	sort.Slice(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })
	for _, s := range cleaned {
		if host == s || strings.HasSuffix(host, "."+s) {
			return s
		}
	}
	return ""
}

// isCountryCodeRoot reports whether the host's last label is a
// two-letter alpha country-code style root.
func isCountryCodeRoot(host string) bool {
	i := strings.LastIndex(host, ".")
	if i == -1 {
		return false
	}
	root := host[i+1:]
	if len(root) != 2 {
		return false
	}
	for _, c := range root {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
