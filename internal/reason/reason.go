// Package reason defines the structured removal reason attached to every
// disqualified row. Reasons carry a machine kind plus payload fields;
// String renders the flat form used in CSV exports.
package reason

import "fmt"

// Kind identifies why a row was removed.
type Kind string

const (
	RuleFailed           Kind = "rule_failed"
	BlockedDomain        Kind = "blocked_domain"
	DisallowedTLD        Kind = "disallowed_tld"
	DNSDead              Kind = "dns_dead"
	NonUSCountry         Kind = "non_us_country"
	HomepageDisqualified Kind = "homepage_disqualified"
	HomepageStrikes      Kind = "homepage_strikes"
	DuplicateReference   Kind = "duplicate_reference"
	DuplicateIntra       Kind = "duplicate_intra"
	PausedUnprocessed    Kind = "paused_unprocessed"
)

// Reason describes a single removal. Column and Value identify the cell
// that triggered it where one exists; Detail carries the kind-specific
// payload (blocklist category, TLD, DNS status, strike list, ...).
type Reason struct {
	Kind   Kind   `json:"kind"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// String renders the flat export form: "blocked_domain_social",
// "disallowed_tld_xyz", "rule_failed:Industry", or the bare kind.
func (r Reason) String() string {
	switch r.Kind {
	case BlockedDomain, DisallowedTLD, DNSDead:
		if r.Detail != "" {
			return fmt.Sprintf("%s_%s", r.Kind, r.Detail)
		}
	case RuleFailed:
		if r.Column != "" {
			return fmt.Sprintf("%s:%s", r.Kind, r.Column)
		}
	case HomepageStrikes:
		if r.Detail != "" {
			return fmt.Sprintf("%s:%s", r.Kind, r.Detail)
		}
	}
	return string(r.Kind)
}

// IsZero reports whether the reason is unset.
func (r Reason) IsZero() bool { return r.Kind == "" }
