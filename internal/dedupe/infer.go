package dedupe

import "strings"

var classHints = map[KeyClass][]string{
	KeyDomain:   {"domain", "website", "url", "homepage"},
	KeyLinkedIn: {"linkedin", "li url", "linkedin url"},
	KeyEmail:    {"email", "e-mail", "mail"},
	KeyCompany:  {"company", "account", "organization", "org", "name"},
}

// companyExclusions are header tokens that disqualify a column from
// being treated as a company name ("Company Owner", "Deal Name", ...).
var companyExclusions = []string{
	" id", "ids", "owner", "associated", "parent", "child", "deal",
	"ticket", "contact", "project", "quote", "task", "lead", "campaign",
	"source", "record", "date", "time", "number of", "count", "industry",
	"keyword", "domain", "url", "facebook", "linkedin", "twitter",
	"revenue", "employee", "country", "state", "city", "postal",
	"phone", "address",
}

var domainExclusions = []string{"logo", "technolog", "pagerank", "page rank", "tranco", "umbrella"}

var emailExclusions = []string{"email owner", "email status", "email type", "email domain", "email count"}

var nameExclusions = []string{"first name", "last name", "fullname", "full name"}

// GuessKeyColumns returns candidate key columns per class from header
// names alone.
func GuessKeyColumns(columns []string) map[KeyClass][]string {
	out := map[KeyClass][]string{}
	for class, hints := range classHints {
		for _, col := range columns {
			lower := strings.ToLower(col)
			if !matchesAny(lower, hints) {
				continue
			}
			switch class {
			case KeyDomain:
				if strings.Contains(lower, "linkedin") || matchesAny(lower, domainExclusions) {
					continue
				}
			case KeyLinkedIn:
				if !strings.Contains(lower, "linkedin") && !strings.Contains(lower, "li url") {
					continue
				}
			case KeyEmail:
				if matchesAny(lower, emailExclusions) {
					continue
				}
			case KeyCompany:
				if matchesAny(lower, nameExclusions) || matchesAny(lower, companyExclusions) {
					continue
				}
			}
			out[class] = append(out[class], col)
		}
	}
	return out
}

// ColumnMatch pairs source and reference columns for one key class.
type ColumnMatch struct {
	KeyType       KeyClass `json:"keyType"`
	SourceColumns []string `json:"sourceColumns"`
	RefColumns    []string `json:"refColumns"`
}

// InferMatches works out which columns can be compared across the two
// datasets, per key class. Classes present on only one side drop out.
func InferMatches(sourceColumns, refColumns []string) []ColumnMatch {
	sourceByClass := GuessKeyColumns(sourceColumns)
	refByClass := GuessKeyColumns(refColumns)

	var matches []ColumnMatch
	for _, class := range []KeyClass{KeyDomain, KeyLinkedIn, KeyEmail, KeyCompany} {
		src := sourceByClass[class]
		ref := refByClass[class]
		if len(src) > 0 && len(ref) > 0 {
			matches = append(matches, ColumnMatch{KeyType: class, SourceColumns: src, RefColumns: ref})
		}
	}
	return matches
}

func matchesAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
