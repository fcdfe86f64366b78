package dedupe

import (
	"errors"
	"strings"

	"github.com/leadhound/qualifier/internal/dataset"
)

// Intra-list dedupe strategies.
const (
	StrategyFirst = "first"
	StrategyLast  = "last"
	StrategyMerge = "merge"
)

var ErrNoKeyColumn = errors.New("dedupe: no key column found for intra dedupe")

// IntraOptions controls duplicate collapse within a single dataset.
// KeyColumn may be empty, in which case the column is auto-detected by
// class priority (domain, then linkedin, email, company).
type IntraOptions struct {
	KeyColumn string
	Strategy  string
}

// IntraResult reports what IntraDedupe did.
type IntraResult struct {
	KeyColumn string
	KeyClass  KeyClass
	Removed   []int // original row indexes that were dropped
}

// classForColumn infers a key class from a column name, falling back to
// company when nothing matches.
func classForColumn(column string) KeyClass {
	lc := strings.ToLower(column)
	for _, class := range []KeyClass{KeyDomain, KeyLinkedIn, KeyEmail, KeyCompany} {
		for _, hint := range classHints[class] {
			if strings.Contains(lc, hint) {
				return class
			}
		}
	}
	return KeyCompany
}

// detectIntraColumn picks the dedupe key column by class priority.
func detectIntraColumn(columns []string) (string, KeyClass, bool) {
	guessed := GuessKeyColumns(columns)
	for _, class := range []KeyClass{KeyDomain, KeyLinkedIn, KeyEmail, KeyCompany} {
		if cols := guessed[class]; len(cols) > 0 {
			return cols[0], class, true
		}
	}
	return "", "", false
}

// IntraDedupe collapses rows within the dataset that share a normalized
// key. Rows whose key cell is empty or junk are always kept. The
// returned dataset preserves the order of the surviving rows.
func IntraDedupe(ds *dataset.Dataset, opts IntraOptions) (*dataset.Dataset, IntraResult, error) {
	col := opts.KeyColumn
	var class KeyClass
	if col == "" {
		var ok bool
		col, class, ok = detectIntraColumn(ds.Headers)
		if !ok {
			return nil, IntraResult{}, ErrNoKeyColumn
		}
	} else {
		if !ds.HasColumn(col) {
			return nil, IntraResult{}, ErrNoKeyColumn
		}
		class = classForColumn(col)
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyFirst
	}

	keyOf := func(row dataset.Row) string {
		keys := ExtractKeys(row.Get(col), class)
		if len(keys) == 0 {
			return ""
		}
		return keys[0]
	}

	result := IntraResult{KeyColumn: col, KeyClass: class}

	switch strategy {
	case StrategyFirst, StrategyMerge:
		groups := make(map[string]int) // key -> index in kept
		var kept []dataset.Row
		for _, row := range ds.Rows {
			key := keyOf(row)
			if key == "" {
				kept = append(kept, row)
				continue
			}
			at, seen := groups[key]
			if !seen {
				groups[key] = len(kept)
				kept = append(kept, row)
				continue
			}
			if strategy == StrategyMerge {
				kept[at] = mergeRows(ds.Headers, kept[at], row)
			}
			result.Removed = append(result.Removed, row.Index)
		}
		return &dataset.Dataset{Headers: ds.Headers, Rows: kept}, result, nil

	case StrategyLast:
		lastAt := make(map[string]int) // key -> original row index of last occurrence
		for _, row := range ds.Rows {
			if key := keyOf(row); key != "" {
				lastAt[key] = row.Index
			}
		}
		var kept []dataset.Row
		for _, row := range ds.Rows {
			key := keyOf(row)
			if key != "" && lastAt[key] != row.Index {
				result.Removed = append(result.Removed, row.Index)
				continue
			}
			kept = append(kept, row)
		}
		return &dataset.Dataset{Headers: ds.Headers, Rows: kept}, result, nil

	default:
		return nil, IntraResult{}, errors.New("dedupe: unknown intra strategy " + strategy)
	}
}

// mergeRows folds dup into base. Cells where the two rows disagree are
// unioned as multivalue lists, otherwise the first non-empty value wins.
func mergeRows(headers []string, base, dup dataset.Row) dataset.Row {
	merged := dataset.Row{Index: base.Index, Values: make(map[string]string, len(headers))}
	for _, h := range headers {
		a, b := base.Get(h), dup.Get(h)
		switch {
		case a == "":
			merged.Values[h] = b
		case b == "" || strings.EqualFold(a, b):
			merged.Values[h] = a
		default:
			merged.Values[h] = dataset.JoinMultivalue(unionValues(a, b))
		}
	}
	return merged
}

func unionValues(a, b string) []string {
	out := dataset.SplitMultivalue(a)
	seen := make(map[string]bool, len(out))
	for _, v := range out {
		seen[strings.ToLower(v)] = true
	}
	for _, v := range dataset.SplitMultivalue(b) {
		if !seen[strings.ToLower(v)] {
			seen[strings.ToLower(v)] = true
			out = append(out, v)
		}
	}
	return out
}
