package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadhound/qualifier/internal/dataset"
)

func row(values map[string]string) dataset.Row {
	return dataset.Row{Index: 0, Values: values}
}

func allColumns(string) bool { return true }

func TestContainsRuleGroups(t *testing.T) {
	// (steel AND pipe) OR (aluminum)
	r := &ContainsRule{
		Column:      "Industry",
		GroupsLogic: "or",
		Groups: []ValueGroup{
			{Logic: "and", Tags: []string{"steel", "pipe"}},
			{Logic: "and", Tags: []string{"aluminum"}},
		},
	}

	assert.True(t, r.Eval(row(map[string]string{"Industry": "Steel Pipe Supply"})))
	assert.True(t, r.Eval(row(map[string]string{"Industry": "Aluminum Extrusion"})))
	assert.False(t, r.Eval(row(map[string]string{"Industry": "Steel Mill"})))
	// Blank cells always pass text rules.
	assert.True(t, r.Eval(row(map[string]string{"Industry": ""})))
}

func TestContainsRuleNegate(t *testing.T) {
	r := &ContainsRule{
		Column: "Industry",
		Groups: []ValueGroup{{Logic: "or", Tags: []string{"retail"}}},
		Negate: true,
	}
	assert.False(t, r.Eval(row(map[string]string{"Industry": "Retail Chain"})))
	assert.True(t, r.Eval(row(map[string]string{"Industry": "Wholesale"})))
	assert.True(t, r.Eval(row(map[string]string{"Industry": ""})))
}

func TestContainsRuleEmptyGroupsVacuous(t *testing.T) {
	r := &ContainsRule{Column: "Industry", Groups: []ValueGroup{{Tags: []string{" "}}}}
	assert.True(t, r.Eval(row(map[string]string{"Industry": "anything"})))
	assert.Contains(t, r.Validate()[0], "no match values")
}

func TestExactRule(t *testing.T) {
	r := &ExactRule{Column: "Tier", Values: []string{"A", "B"}}
	assert.True(t, r.Eval(row(map[string]string{"Tier": "a"})))
	assert.False(t, r.Eval(row(map[string]string{"Tier": "C"})))
	assert.True(t, r.Eval(row(map[string]string{"Tier": ""})))

	neg := &ExactRule{Column: "Tier", Values: []string{"C"}, Negate: true}
	assert.True(t, neg.Eval(row(map[string]string{"Tier": "A"})))
	assert.False(t, neg.Eval(row(map[string]string{"Tier": "c"})))
}

func TestFuzzyRule(t *testing.T) {
	r := &FuzzyRule{Column: "Company", Values: []string{"Acme Steel"}, Threshold: 80}
	// Token order should not matter.
	assert.True(t, r.Eval(row(map[string]string{"Company": "steel acme"})))
	// Partial match inside a longer name.
	assert.True(t, r.Eval(row(map[string]string{"Company": "Acme Steel Works Inc"})))
	assert.False(t, r.Eval(row(map[string]string{"Company": "Globex Plastics"})))
	assert.True(t, r.Eval(row(map[string]string{"Company": ""})))
}

func TestFuzzyRuleExcludes(t *testing.T) {
	r := &FuzzyRule{Column: "Company", Values: []string{"Acme Steel"}, Negate: true}
	assert.False(t, r.Eval(row(map[string]string{"Company": "ACME STEEL"})))
	assert.True(t, r.Eval(row(map[string]string{"Company": "Globex"})))
	assert.True(t, r.Eval(row(map[string]string{"Company": ""})))
}

func TestRangeRule(t *testing.T) {
	min, max := 50.0, 200.0
	r := &RangeRule{Column: "Employees", Min: &min, Max: &max}

	assert.True(t, r.Eval(row(map[string]string{"Employees": "120"})))
	// First number wins: "51-200" parses as 51.
	assert.True(t, r.Eval(row(map[string]string{"Employees": "51-200"})))
	// Commas stripped.
	assert.False(t, r.Eval(row(map[string]string{"Employees": "1,000 employees"})))
	assert.False(t, r.Eval(row(map[string]string{"Employees": "10"})))
	// Unparsable fails unless IncludeBlank.
	assert.False(t, r.Eval(row(map[string]string{"Employees": "unknown"})))

	r.IncludeBlank = true
	assert.True(t, r.Eval(row(map[string]string{"Employees": ""})))
}

func TestRangeRuleNegativeNumbers(t *testing.T) {
	min := 0.0
	r := &RangeRule{Column: "Growth", Min: &min}

	// The sign survives extraction: -5 is below min 0.
	assert.False(t, r.Eval(row(map[string]string{"Growth": "-5"})))
	assert.False(t, r.Eval(row(map[string]string{"Growth": "-5.5%"})))
	assert.True(t, r.Eval(row(map[string]string{"Growth": "5"})))
	// A dash between numbers is a range separator, not a sign.
	assert.True(t, r.Eval(row(map[string]string{"Growth": "5-10"})))

	n, ok := extractNumber("-1,250.75")
	require.True(t, ok)
	assert.Equal(t, -1250.75, n)
}

func TestDateRule(t *testing.T) {
	after, ok := ParseDate("2024-01-01")
	require.True(t, ok)
	before, ok := ParseDate("2024-12-31")
	require.True(t, ok)

	r := &DateRule{Column: "Created", After: &after, Before: &before}
	assert.True(t, r.Eval(row(map[string]string{"Created": "2024-06-15"})))
	assert.True(t, r.Eval(row(map[string]string{"Created": "06/15/2024"})))
	assert.False(t, r.Eval(row(map[string]string{"Created": "2023-01-01"})))
	assert.False(t, r.Eval(row(map[string]string{"Created": "not a date"})))

	r.IncludeBlank = true
	assert.True(t, r.Eval(row(map[string]string{"Created": ""})))
}

func TestMultivalueRules(t *testing.T) {
	cell := map[string]string{"Tags": "steel; pipes; fittings"}

	anyRule := &MultivalueRule{Column: "Tags", Mode: MultivalueAny, Values: []string{"pipes", "valves"}}
	assert.True(t, anyRule.Eval(row(cell)))

	allRule := &MultivalueRule{Column: "Tags", Mode: MultivalueAll, Values: []string{"steel", "valves"}}
	assert.False(t, allRule.Eval(row(cell)))

	exclRule := &MultivalueRule{Column: "Tags", Mode: MultivalueExclude, Values: []string{"fittings"}}
	assert.False(t, exclRule.Eval(row(cell)))

	// Blank cells pass in every mode.
	blank := map[string]string{"Tags": ""}
	assert.True(t, anyRule.Eval(row(blank)))
	assert.True(t, allRule.Eval(row(blank)))
	assert.True(t, exclRule.Eval(row(blank)))
}

func TestGeoCountryRule(t *testing.T) {
	r := &GeoCountryRule{Column: "Country", Countries: []string{"US", "canada"}}

	assert.True(t, r.Eval(row(map[string]string{"Country": "United States"})))
	assert.True(t, r.Eval(row(map[string]string{"Country": "usa"})))
	assert.True(t, r.Eval(row(map[string]string{"Country": "CA"})))
	assert.False(t, r.Eval(row(map[string]string{"Country": "Germany"})))
	// Geo rules demand a location.
	assert.False(t, r.Eval(row(map[string]string{"Country": ""})))
}

func TestNormalizeCountry(t *testing.T) {
	assert.Equal(t, "US", NormalizeCountry("United States of America"))
	assert.Equal(t, "GB", NormalizeCountry("uk"))
	assert.Equal(t, "XY", NormalizeCountry("xy"))
	// Unknown countries fold to uppercase so comparisons ignore case.
	assert.Equal(t, "ATLANTIS", NormalizeCountry("Atlantis"))
	assert.Equal(t, "ATLANTIS", NormalizeCountry("  atlantis "))
}

func TestGeoCountryRuleUnknownCountryIgnoresCase(t *testing.T) {
	r := &GeoCountryRule{Column: "Country", Countries: []string{"Atlantis"}}

	assert.True(t, r.Eval(row(map[string]string{"Country": "atlantis"})))
	assert.True(t, r.Eval(row(map[string]string{"Country": "ATLANTIS"})))
	assert.False(t, r.Eval(row(map[string]string{"Country": "Lemuria"})))
}

func TestRuleSetEvalTrace(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`[
		{"field":"Industry","matchType":"contains","groups":[{"logic":"or","tags":["steel"]}]},
		{"field":"Employees","matchType":"range","min":"50","max":200}
	]`))
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)

	pass, _, _ := rs.EvalTrace(row(map[string]string{"Industry": "Steel", "Employees": "100"}), allColumns)
	assert.True(t, pass)

	pass, idx, failed := rs.EvalTrace(row(map[string]string{"Industry": "Steel", "Employees": "10"}), allColumns)
	assert.False(t, pass)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "range", failed.Kind())

	// Rules on columns the dataset does not carry are skipped.
	missing := func(col string) bool { return col == "Industry" }
	pass, _, _ = rs.EvalTrace(row(map[string]string{"Industry": "Steel"}), missing)
	assert.True(t, pass)
}

func TestRuleSetEmptyPassesEverything(t *testing.T) {
	rs := RuleSet{}
	pass, idx, _ := rs.EvalTrace(row(map[string]string{"X": "y"}), allColumns)
	assert.True(t, pass)
	assert.Equal(t, -1, idx)
}

func TestParseRuleSetLegacyValues(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`[
		{"field":"Industry","matchType":"contains","values":["steel","metal"],"logic":"or"}
	]`))
	require.NoError(t, err)

	r, ok := rs.Rules[0].(*ContainsRule)
	require.True(t, ok)
	require.Len(t, r.Groups, 1)
	assert.Equal(t, []string{"steel", "metal"}, r.Groups[0].Tags)
	assert.True(t, r.Eval(row(map[string]string{"Industry": "Sheet Metal"})))
}

func TestParseRuleSetUnknownMatchType(t *testing.T) {
	_, err := ParseRuleSet([]byte(`[{"field":"X","matchType":"regex"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown match type")
}

func TestRuleSetValidate(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`[
		{"field":"","matchType":"exact","values":[]},
		{"field":"Employees","matchType":"range","min":"200","max":"50"}
	]`))
	require.NoError(t, err)

	problems := rs.Validate()
	require.Len(t, problems, 3)
	assert.Contains(t, problems[0], "missing column")
	assert.Contains(t, problems[1], "no match values")
	assert.Contains(t, problems[2], "min exceeds max")
}

func TestDescribe(t *testing.T) {
	r := &ContainsRule{
		Column: "Industry",
		Groups: []ValueGroup{{Tags: []string{"a", "b", "c", "d", "e"}}},
	}
	assert.Equal(t, "Industry contains a, b, c, +2 more", r.Describe())

	min := 10.0
	assert.Equal(t, "Employees at least 10", (&RangeRule{Column: "Employees", Min: &min}).Describe())
}
