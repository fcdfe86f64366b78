package rules

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ratio returns a 0-100 similarity score between two strings based on
// edit distance.
func ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(maxLen))
}

// tokenSortRatio compares the two strings after sorting their
// whitespace-separated tokens, so "acme steel" matches "steel acme".
func tokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// partialRatio slides the shorter string across the longer one and
// returns the best window score, so "steel" scores 100 against
// "acme steel works".
func partialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return 0
	}
	if len(ra) == len(rb) {
		return ratio(string(ra), string(rb))
	}
	best := 0.0
	short := string(ra)
	for i := 0; i+len(ra) <= len(rb); i++ {
		if r := ratio(short, string(rb[i:i+len(ra)])); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

// fuzzyMatch reports whether value scores at or above threshold against
// any target, using token-sort and partial ratios. Blank values never
// match.
func fuzzyMatch(value string, targets []string, threshold float64) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, t := range targets {
		tc := strings.ToLower(strings.TrimSpace(t))
		if tokenSortRatio(v, tc) >= threshold {
			return true
		}
		if partialRatio(v, tc) >= threshold {
			return true
		}
	}
	return false
}
