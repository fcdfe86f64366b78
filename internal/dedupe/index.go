package dedupe

import (
	"github.com/agnivade/levenshtein"

	"github.com/leadhound/qualifier/internal/dataset"
)

// MaxFuzzyReferenceKeys caps the company key set size above which fuzzy
// matching is disabled. Fuzzy compares every row against every company
// key, so past this point only exact matches run.
const MaxFuzzyReferenceKeys = 50_000

// DefaultFuzzyThreshold is the minimum similarity ratio (0-100) for a
// fuzzy company match.
const DefaultFuzzyThreshold = 90

const maxRefValueLen = 240

// Origin records where a reference key came from, for match reporting.
type Origin struct {
	RefColumn string
	RefValue  string
}

// MatchDetail describes why a row matched the reference set.
type MatchDetail struct {
	KeyType       KeyClass `json:"keyType"`
	SourceColumn  string   `json:"sourceColumn"`
	SourceValue   string   `json:"sourceValue"`
	NormalizedKey string   `json:"normalizedKey"`
	MatchMode     string   `json:"matchMode"` // "exact" or "fuzzy"
	RefColumn     string   `json:"refColumn"`
	RefValue      string   `json:"refValue"`
}

// Index holds the reference dataset's normalized keys grouped by class.
// Lookups go through a bloom filter first so the common no-match case
// never touches the maps.
type Index struct {
	keys        map[KeyClass]map[string]Origin
	blooms      map[KeyClass]*bloomFilter
	companyKeys []string
}

// BuildIndex extracts and normalizes keys from the reference dataset
// using the reference columns of the given matches.
func BuildIndex(ref *dataset.Dataset, matches []ColumnMatch) *Index {
	idx := &Index{
		keys:   make(map[KeyClass]map[string]Origin),
		blooms: make(map[KeyClass]*bloomFilter),
	}
	for _, m := range matches {
		class := m.KeyType
		if idx.keys[class] == nil {
			idx.keys[class] = make(map[string]Origin)
		}
		for _, col := range m.RefColumns {
			for _, row := range ref.Rows {
				raw := row.Get(col)
				if raw == "" {
					continue
				}
				for _, key := range ExtractKeys(raw, class) {
					if _, seen := idx.keys[class][key]; seen {
						continue
					}
					idx.keys[class][key] = Origin{RefColumn: col, RefValue: truncate(raw, maxRefValueLen)}
					if class == KeyCompany {
						idx.companyKeys = append(idx.companyKeys, key)
					}
				}
			}
		}
	}
	for class, keys := range idx.keys {
		bf := newBloomFilter(len(keys))
		for k := range keys {
			bf.Add(k)
		}
		idx.blooms[class] = bf
	}
	return idx
}

// Size returns the number of distinct keys indexed for a class.
func (idx *Index) Size(class KeyClass) int {
	return len(idx.keys[class])
}

func (idx *Index) lookup(class KeyClass, key string) (Origin, bool) {
	bf := idx.blooms[class]
	if bf != nil && !bf.MayContain(key) {
		return Origin{}, false
	}
	origin, ok := idx.keys[class][key]
	return origin, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Matcher evaluates rows against a reference index using the source
// columns discovered by InferMatches.
type Matcher struct {
	index          *Index
	matches        []ColumnMatch
	fuzzyEnabled   bool
	fuzzyThreshold int
}

// NewMatcher builds a matcher. Fuzzy company matching is switched off
// when the company key set exceeds MaxFuzzyReferenceKeys.
func NewMatcher(idx *Index, matches []ColumnMatch) *Matcher {
	return &Matcher{
		index:          idx,
		matches:        matches,
		fuzzyEnabled:   idx.Size(KeyCompany) > 0 && idx.Size(KeyCompany) <= MaxFuzzyReferenceKeys,
		fuzzyThreshold: DefaultFuzzyThreshold,
	}
}

// Match reports whether the row duplicates a reference entry. Strong
// keys (domain, linkedin, email) take precedence: when the row carries
// any strong key value, only strong-key hits count and the company
// fallback is skipped.
func (m *Matcher) Match(row dataset.Row) *MatchDetail {
	strongPresent := false

	for _, cm := range m.matches {
		if !cm.KeyType.Strong() {
			continue
		}
		for _, col := range cm.SourceColumns {
			raw := row.Get(col)
			keys := ExtractKeys(raw, cm.KeyType)
			if len(keys) > 0 {
				strongPresent = true
			}
			for _, key := range keys {
				if origin, ok := m.index.lookup(cm.KeyType, key); ok {
					return &MatchDetail{
						KeyType:       cm.KeyType,
						SourceColumn:  col,
						SourceValue:   raw,
						NormalizedKey: key,
						MatchMode:     "exact",
						RefColumn:     origin.RefColumn,
						RefValue:      origin.RefValue,
					}
				}
			}
		}
	}
	if strongPresent {
		return nil
	}

	for _, cm := range m.matches {
		if cm.KeyType != KeyCompany {
			continue
		}
		for _, col := range cm.SourceColumns {
			raw := row.Get(col)
			for _, key := range ExtractKeys(raw, KeyCompany) {
				if origin, ok := m.index.lookup(KeyCompany, key); ok {
					return &MatchDetail{
						KeyType:       KeyCompany,
						SourceColumn:  col,
						SourceValue:   raw,
						NormalizedKey: key,
						MatchMode:     "exact",
						RefColumn:     origin.RefColumn,
						RefValue:      origin.RefValue,
					}
				}
				if !m.fuzzyEnabled {
					continue
				}
				if detail := m.fuzzyCompany(col, raw, key); detail != nil {
					return detail
				}
			}
		}
	}
	return nil
}

func (m *Matcher) fuzzyCompany(col, raw, key string) *MatchDetail {
	for _, refKey := range m.index.companyKeys {
		if similarityRatio(key, refKey) < m.fuzzyThreshold {
			continue
		}
		origin := m.index.keys[KeyCompany][refKey]
		return &MatchDetail{
			KeyType:       KeyCompany,
			SourceColumn:  col,
			SourceValue:   raw,
			NormalizedKey: key,
			MatchMode:     "fuzzy",
			RefColumn:     origin.RefColumn,
			RefValue:      origin.RefValue,
		}
	}
	return nil
}

// similarityRatio maps edit distance to a 0-100 similarity score.
func similarityRatio(a, b string) int {
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
	return int(100 * (1 - float64(dist)/float64(maxLen)))
}
