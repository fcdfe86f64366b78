// Package rules implements the lead filter rule matcher. A rule set is a
// list of rules ANDed together; each rule targets one column with one
// match type. Contains-style rules support two-level value groups: tags
// combine inside a group via the group's logic, groups combine via the
// set's groups logic.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/leadhound/qualifier/internal/dataset"
)

// DefaultFuzzyThreshold is the score floor for fuzzy and excludes rules.
const DefaultFuzzyThreshold = 80

// Rule is one filter predicate over a single dataset column. A row that
// fails any rule in a set is disqualified.
//
// Eval is only called when the row's dataset actually carries the
// rule's column; rules on missing columns are skipped.
type Rule interface {
	Field() string
	Kind() string
	// Eval reports whether the row passes the rule.
	Eval(row dataset.Row) bool
	// Validate returns human-readable configuration problems.
	Validate() []string
	// Describe renders a short clause for removal reasons,
	// e.g. "Industry contains steel, metal, +3 more".
	Describe() string
}

// ValueGroup is one tag bundle inside a contains-style rule.
type ValueGroup struct {
	Logic string   `json:"logic"` // "and" | "or", default "and"
	Tags  []string `json:"tags"`
}

// RuleSet is an ordered list of rules. Rules are ANDed; an empty set
// passes every row.
type RuleSet struct {
	Rules []Rule
}

// EvalTrace evaluates the set against a row and returns the first rule
// that removed it, or (true, -1, nil) when the row passes. hasColumn
// gates rules whose column is absent from the dataset.
func (rs RuleSet) EvalTrace(row dataset.Row, hasColumn func(string) bool) (bool, int, Rule) {
	for i, r := range rs.Rules {
		if hasColumn != nil && !hasColumn(r.Field()) {
			continue
		}
		if !r.Eval(row) {
			return false, i, r
		}
	}
	return true, -1, nil
}

// Validate collects configuration problems across every rule in the set.
func (rs RuleSet) Validate() []string {
	var problems []string
	for i, r := range rs.Rules {
		for _, p := range r.Validate() {
			problems = append(problems, fmt.Sprintf("rule %d (%s %s): %s", i+1, r.Field(), r.Kind(), p))
		}
	}
	return problems
}

// ===== TEXT RULES (contains / not_contains) =====

// ContainsRule matches case-insensitive substrings through value
// groups. Blank cells always pass; only rows carrying a value that
// fails the rule are removed.
type ContainsRule struct {
	Column      string
	Groups      []ValueGroup
	GroupsLogic string // "and" | "or", default "or"
	Negate      bool   // not_contains
}

func (r *ContainsRule) Field() string { return r.Column }

func (r *ContainsRule) Kind() string {
	if r.Negate {
		return "not_contains"
	}
	return "contains"
}

func (r *ContainsRule) Eval(row dataset.Row) bool {
	cell := strings.ToLower(row.Get(r.Column))
	if cell == "" {
		return true
	}
	matched, any := r.groupsMatch(cell)
	if !any {
		return true
	}
	if r.Negate {
		return !matched
	}
	return matched
}

// groupsMatch combines group results per GroupsLogic. The second return
// is false when every group is empty, meaning the rule is vacuous.
func (r *ContainsRule) groupsMatch(cell string) (bool, bool) {
	andLogic := strings.EqualFold(r.GroupsLogic, "and")
	evaluated := false
	combined := andLogic // identity element
	for _, g := range r.Groups {
		tags := cleanTags(g.Tags)
		if len(tags) == 0 {
			continue
		}
		m := groupMatches(cell, tags, g.Logic)
		if !evaluated {
			combined = m
			evaluated = true
			continue
		}
		if andLogic {
			combined = combined && m
		} else {
			combined = combined || m
		}
	}
	return combined, evaluated
}

func groupMatches(cell string, tags []string, logic string) bool {
	if strings.EqualFold(logic, "or") {
		for _, t := range tags {
			if strings.Contains(cell, strings.ToLower(t)) {
				return true
			}
		}
		return false
	}
	// default "and"
	for _, t := range tags {
		if !strings.Contains(cell, strings.ToLower(t)) {
			return false
		}
	}
	return true
}

func (r *ContainsRule) Validate() []string {
	var problems []string
	if r.Column == "" {
		problems = append(problems, "missing column")
	}
	total := 0
	for _, g := range r.Groups {
		total += len(cleanTags(g.Tags))
	}
	if total == 0 {
		problems = append(problems, "no match values; rule passes every row")
	}
	return problems
}

func (r *ContainsRule) Describe() string {
	verb := "contains"
	if r.Negate {
		verb = "does not contain"
	}
	var all []string
	for _, g := range r.Groups {
		all = append(all, cleanTags(g.Tags)...)
	}
	return describeClause(r.Column, verb, all)
}

// ===== EXACT RULES (exact / not_exact) =====

// ExactRule matches case-insensitive equality against a flat value
// list. Blank cells pass.
type ExactRule struct {
	Column string
	Values []string
	Negate bool
}

func (r *ExactRule) Field() string { return r.Column }

func (r *ExactRule) Kind() string {
	if r.Negate {
		return "not_exact"
	}
	return "exact"
}

func (r *ExactRule) Eval(row dataset.Row) bool {
	cell := strings.ToLower(row.Get(r.Column))
	if cell == "" {
		return true
	}
	values := cleanTags(r.Values)
	if len(values) == 0 {
		return true
	}
	matched := false
	for _, v := range values {
		if cell == strings.ToLower(v) {
			matched = true
			break
		}
	}
	if r.Negate {
		return !matched
	}
	return matched
}

func (r *ExactRule) Validate() []string {
	var problems []string
	if r.Column == "" {
		problems = append(problems, "missing column")
	}
	if len(cleanTags(r.Values)) == 0 {
		problems = append(problems, "no match values; rule passes every row")
	}
	return problems
}

func (r *ExactRule) Describe() string {
	verb := "equals"
	if r.Negate {
		verb = "is not"
	}
	return describeClause(r.Column, verb, r.Values)
}

// ===== FUZZY RULES (fuzzy / excludes) =====

// FuzzyRule matches via token-sort and partial edit-distance ratios.
// With Negate set it becomes the "excludes" rule: rows whose value
// fuzzy-matches any target are removed. Blank cells pass either way.
type FuzzyRule struct {
	Column    string
	Values    []string
	Threshold float64
	Negate    bool
}

func (r *FuzzyRule) Field() string { return r.Column }

func (r *FuzzyRule) Kind() string {
	if r.Negate {
		return "excludes"
	}
	return "fuzzy"
}

func (r *FuzzyRule) threshold() float64 {
	if r.Threshold <= 0 {
		return DefaultFuzzyThreshold
	}
	return r.Threshold
}

func (r *FuzzyRule) Eval(row dataset.Row) bool {
	cell := row.Get(r.Column)
	values := cleanTags(r.Values)
	if len(values) == 0 {
		return true
	}
	matched := fuzzyMatch(cell, values, r.threshold())
	if r.Negate {
		return !matched
	}
	// Blank cells never fuzzy-match; let them through.
	if cell == "" {
		return true
	}
	return matched
}

func (r *FuzzyRule) Validate() []string {
	var problems []string
	if r.Column == "" {
		problems = append(problems, "missing column")
	}
	if len(cleanTags(r.Values)) == 0 {
		problems = append(problems, "no match values; rule passes every row")
	}
	if r.Threshold < 0 || r.Threshold > 100 {
		problems = append(problems, fmt.Sprintf("threshold %.0f outside 0-100", r.Threshold))
	}
	return problems
}

func (r *FuzzyRule) Describe() string {
	verb := "fuzzy match"
	if r.Negate {
		verb = "excludes"
	}
	return describeClause(r.Column, verb, r.Values)
}

// ===== RANGE RULE =====

// RangeRule compares the first number found in the cell (commas
// stripped, so "1,000 employees" and "51-200" both parse) against an
// inclusive [Min, Max] window. Cells with no parsable number fail
// unless IncludeBlank is set.
type RangeRule struct {
	Column       string
	Min, Max     *float64
	IncludeBlank bool
}

func (r *RangeRule) Field() string { return r.Column }
func (r *RangeRule) Kind() string  { return "range" }

func (r *RangeRule) Eval(row dataset.Row) bool {
	if r.Min == nil && r.Max == nil {
		return true
	}
	n, ok := extractNumber(row.Get(r.Column))
	if !ok {
		return r.IncludeBlank
	}
	if r.Min != nil && n < *r.Min {
		return false
	}
	if r.Max != nil && n > *r.Max {
		return false
	}
	return true
}

func (r *RangeRule) Validate() []string {
	var problems []string
	if r.Column == "" {
		problems = append(problems, "missing column")
	}
	if r.Min == nil && r.Max == nil {
		problems = append(problems, "neither min nor max set; rule passes every row")
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		problems = append(problems, "min exceeds max")
	}
	return problems
}

func (r *RangeRule) Describe() string {
	switch {
	case r.Min != nil && r.Max != nil:
		return fmt.Sprintf("%s between %g and %g", r.Column, *r.Min, *r.Max)
	case r.Min != nil:
		return fmt.Sprintf("%s at least %g", r.Column, *r.Min)
	case r.Max != nil:
		return fmt.Sprintf("%s at most %g", r.Column, *r.Max)
	}
	return r.Column + " range rule"
}

// ===== DATE RULE =====

// DateRule keeps rows whose cell parses to a date inside the inclusive
// [After, Before] window. Unparsable or blank cells fail unless
// IncludeBlank is set.
type DateRule struct {
	Column        string
	After, Before *time.Time
	IncludeBlank  bool
}

func (r *DateRule) Field() string { return r.Column }
func (r *DateRule) Kind() string  { return "dates" }

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate tries the supported layouts in order.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (r *DateRule) Eval(row dataset.Row) bool {
	if r.After == nil && r.Before == nil {
		return true
	}
	t, ok := ParseDate(row.Get(r.Column))
	if !ok {
		return r.IncludeBlank
	}
	if r.After != nil && t.Before(*r.After) {
		return false
	}
	if r.Before != nil && t.After(*r.Before) {
		return false
	}
	return true
}

func (r *DateRule) Validate() []string {
	var problems []string
	if r.Column == "" {
		problems = append(problems, "missing column")
	}
	if r.After == nil && r.Before == nil {
		problems = append(problems, "neither start nor end date set; rule passes every row")
	}
	if r.After != nil && r.Before != nil && r.After.After(*r.Before) {
		problems = append(problems, "start date after end date")
	}
	return problems
}

func (r *DateRule) Describe() string {
	const day = "2006-01-02"
	switch {
	case r.After != nil && r.Before != nil:
		return fmt.Sprintf("%s between %s and %s", r.Column, r.After.Format(day), r.Before.Format(day))
	case r.After != nil:
		return fmt.Sprintf("%s on or after %s", r.Column, r.After.Format(day))
	case r.Before != nil:
		return fmt.Sprintf("%s on or before %s", r.Column, r.Before.Format(day))
	}
	return r.Column + " date range rule"
}

// ===== MULTIVALUE RULES =====

// MultivalueMode selects how a multivalue rule combines tag membership.
type MultivalueMode string

const (
	MultivalueAny     MultivalueMode = "any"
	MultivalueAll     MultivalueMode = "all"
	MultivalueExclude MultivalueMode = "exclude"
)

// MultivalueRule splits the cell into tokens and tests tag membership.
// Blank cells pass in every mode: absence of data is not evidence
// either way.
type MultivalueRule struct {
	Column    string
	Mode      MultivalueMode
	Values    []string
	Separator string // optional, defaults to the dataset splitter
}

func (r *MultivalueRule) Field() string { return r.Column }
func (r *MultivalueRule) Kind() string  { return "multivalue_" + string(r.Mode) }

func (r *MultivalueRule) tokens(cell string) map[string]struct{} {
	var parts []string
	if r.Separator != "" {
		parts = strings.Split(cell, r.Separator)
	} else {
		parts = dataset.SplitMultivalue(cell)
	}
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func (r *MultivalueRule) Eval(row dataset.Row) bool {
	values := cleanTags(r.Values)
	if len(values) == 0 {
		return true
	}
	cell := row.Get(r.Column)
	if cell == "" {
		return true
	}
	parts := r.tokens(cell)
	switch r.Mode {
	case MultivalueAll:
		for _, v := range values {
			if _, ok := parts[strings.ToLower(v)]; !ok {
				return false
			}
		}
		return true
	case MultivalueExclude:
		for _, v := range values {
			if _, ok := parts[strings.ToLower(v)]; ok {
				return false
			}
		}
		return true
	default: // any
		for _, v := range values {
			if _, ok := parts[strings.ToLower(v)]; ok {
				return true
			}
		}
		return false
	}
}

func (r *MultivalueRule) Validate() []string {
	var problems []string
	if r.Column == "" {
		problems = append(problems, "missing column")
	}
	if len(cleanTags(r.Values)) == 0 {
		problems = append(problems, "no match values; rule passes every row")
	}
	switch r.Mode {
	case MultivalueAny, MultivalueAll, MultivalueExclude:
	default:
		problems = append(problems, fmt.Sprintf("unknown multivalue mode %q", r.Mode))
	}
	return problems
}

func (r *MultivalueRule) Describe() string {
	verb := "contains any of"
	switch r.Mode {
	case MultivalueAll:
		verb = "contains all of"
	case MultivalueExclude:
		verb = "excludes any of"
	}
	return describeClause(r.Column, verb, r.Values)
}

// ===== GEO COUNTRY RULE =====

// GeoCountryRule keeps rows whose country cell normalizes to one of the
// rule's ISO2 codes. Blank cells fail: a geo rule demands a location.
type GeoCountryRule struct {
	Column    string
	Countries []string
}

func (r *GeoCountryRule) Field() string { return r.Column }
func (r *GeoCountryRule) Kind() string  { return "geo_country" }

func (r *GeoCountryRule) Eval(row dataset.Row) bool {
	targets := cleanTags(r.Countries)
	if len(targets) == 0 {
		return true
	}
	got := NormalizeCountry(row.Get(r.Column))
	for _, t := range targets {
		if got == NormalizeCountry(t) {
			return true
		}
	}
	return false
}

func (r *GeoCountryRule) Validate() []string {
	var problems []string
	if r.Column == "" {
		problems = append(problems, "missing column")
	}
	if len(cleanTags(r.Countries)) == 0 {
		problems = append(problems, "no countries; rule passes every row")
	}
	return problems
}

func (r *GeoCountryRule) Describe() string {
	return describeClause(r.Column, "is in country", r.Countries)
}

// ===== helpers =====

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// describeClause renders "Column verb v1, v2, +N more" with at most
// three values shown.
func describeClause(column, verb string, values []string) string {
	values = cleanTags(values)
	if len(values) == 0 {
		return fmt.Sprintf("%s %s", column, verb)
	}
	shown := values
	if len(shown) > 3 {
		shown = shown[:3]
	}
	text := strings.Join(shown, ", ")
	if len(values) > 3 {
		text = fmt.Sprintf("%s, +%d more", text, len(values)-3)
	}
	return fmt.Sprintf("%s %s %s", column, verb, text)
}

func extractNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	start := -1
	for i, c := range s {
		if c >= '0' && c <= '9' {
			start = i
			break
		}
	}
	if start == -1 {
		return 0, false
	}
	// A sign directly before the first digit belongs to the number.
	if start > 0 && s[start-1] == '-' {
		start--
	}
	end := start
	if s[end] == '-' {
		end++
	}
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !seenDot && end+1 < len(s) && s[end+1] >= '0' && s[end+1] <= '9' {
			seenDot = true
			end++
			continue
		}
		break
	}
	var n float64
	if _, err := fmt.Sscanf(s[start:end], "%g", &n); err != nil {
		return 0, false
	}
	return n, true
}
