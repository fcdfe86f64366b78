package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ruleWire is the JSON shape a rule arrives in. Legacy rule sets carry
// a flat "values"/"logic" pair instead of "groups"; both are accepted.
type ruleWire struct {
	Field         string       `json:"field"`
	MatchType     string       `json:"matchType"`
	Values        []string     `json:"values"`
	Logic         string       `json:"logic"`
	Groups        []ValueGroup `json:"groups"`
	GroupsLogic   string       `json:"groupsLogic"`
	Threshold     *float64     `json:"threshold"`
	Min           any          `json:"min"`
	Max           any          `json:"max"`
	StartDate     string       `json:"startDate"`
	EndDate       string       `json:"endDate"`
	IncludeBlanks bool         `json:"includeBlankValues"`
	Separator     string       `json:"separator"`
}

// ParseRuleSet decodes a JSON rule array into typed rules. Unknown
// match types are a parse error; everything else is deferred to
// RuleSet.Validate.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var wires []ruleWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return RuleSet{}, fmt.Errorf("rules: decoding rule set: %w", err)
	}
	return buildRuleSet(wires)
}

func buildRuleSet(wires []ruleWire) (RuleSet, error) {
	rs := RuleSet{Rules: make([]Rule, 0, len(wires))}
	for i, w := range wires {
		r, err := buildRule(w)
		if err != nil {
			return RuleSet{}, fmt.Errorf("rules: rule %d: %w", i+1, err)
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

func buildRule(w ruleWire) (Rule, error) {
	mt := strings.ToLower(strings.TrimSpace(w.MatchType))
	switch mt {
	case "contains", "not_contains":
		return &ContainsRule{
			Column:      w.Field,
			Groups:      w.effectiveGroups(),
			GroupsLogic: w.GroupsLogic,
			Negate:      mt == "not_contains",
		}, nil

	case "exact", "not_exact":
		return &ExactRule{
			Column: w.Field,
			Values: w.flatValues(),
			Negate: mt == "not_exact",
		}, nil

	case "fuzzy", "excludes", "exclude":
		threshold := float64(DefaultFuzzyThreshold)
		if w.Threshold != nil {
			threshold = *w.Threshold
		}
		return &FuzzyRule{
			Column:    w.Field,
			Values:    w.flatValues(),
			Threshold: threshold,
			Negate:    mt != "fuzzy",
		}, nil

	case "range":
		min, err := coerceNumber(w.Min)
		if err != nil {
			return nil, fmt.Errorf("min: %w", err)
		}
		max, err := coerceNumber(w.Max)
		if err != nil {
			return nil, fmt.Errorf("max: %w", err)
		}
		return &RangeRule{
			Column:       w.Field,
			Min:          min,
			Max:          max,
			IncludeBlank: w.IncludeBlanks,
		}, nil

	case "dates":
		rule := &DateRule{Column: w.Field, IncludeBlank: w.IncludeBlanks}
		if s := strings.TrimSpace(w.StartDate); s != "" {
			t, ok := ParseDate(s)
			if !ok {
				return nil, fmt.Errorf("unparsable start date %q", s)
			}
			rule.After = &t
		}
		if s := strings.TrimSpace(w.EndDate); s != "" {
			t, ok := ParseDate(s)
			if !ok {
				return nil, fmt.Errorf("unparsable end date %q", s)
			}
			rule.Before = &t
		}
		return rule, nil

	case "multivalue_any", "multivalue_all", "multivalue_exclude":
		return &MultivalueRule{
			Column:    w.Field,
			Mode:      MultivalueMode(strings.TrimPrefix(mt, "multivalue_")),
			Values:    w.flatValues(),
			Separator: w.Separator,
		}, nil

	case "geo_country":
		return &GeoCountryRule{
			Column:    w.Field,
			Countries: w.flatValues(),
		}, nil
	}
	return nil, fmt.Errorf("unknown match type %q", w.MatchType)
}

// flatValues flattens group tags when present, else the legacy values.
func (w ruleWire) flatValues() []string {
	if len(w.Groups) > 0 {
		var out []string
		for _, g := range w.Groups {
			out = append(out, cleanTags(g.Tags)...)
		}
		return out
	}
	return cleanTags(w.Values)
}

// effectiveGroups returns the wire groups, or the legacy flat values
// wrapped into a single group carrying the legacy logic.
func (w ruleWire) effectiveGroups() []ValueGroup {
	if len(w.Groups) > 0 {
		return w.Groups
	}
	vals := cleanTags(w.Values)
	if len(vals) == 0 {
		return nil
	}
	logic := w.Logic
	if logic == "" {
		logic = "or"
	}
	return []ValueGroup{{Logic: logic, Tags: vals}}
}

// coerceNumber accepts JSON numbers and numeric strings; nil and blank
// strings mean "unset".
func coerceNumber(v any) (*float64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &n, nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", n)
		}
		return &f, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return &f, nil
	}
	return nil, fmt.Errorf("unsupported numeric type %T", v)
}
