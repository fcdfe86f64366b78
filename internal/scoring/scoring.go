// Package scoring computes a 0-100 quality score per lead row from
// data richness, multivalue diversity, recency, domain verification,
// and user-defined high-signal values.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/leadhound/qualifier/internal/dataset"
)

// RecencyWindowDays is the linear decay horizon: a date today scores
// full recency points, one two years old scores zero.
const RecencyWindowDays = 730

// diversityCap is the multivalue token count that earns full diversity
// points.
const diversityCap = 20

// Weights sets the maximum points per score component.
type Weights struct {
	Richness  float64 `json:"richness" yaml:"richness"`
	Diversity float64 `json:"diversity" yaml:"diversity"`
	Recency   float64 `json:"recency" yaml:"recency"`
	Domain    float64 `json:"domain" yaml:"domain"`
	Signal    float64 `json:"signal" yaml:"signal"`
}

// DefaultWeights returns the standard component weighting.
func DefaultWeights() Weights {
	return Weights{Richness: 25, Diversity: 25, Recency: 20, Domain: 15, Signal: 15}
}

func (w Weights) total() float64 {
	return math.Max(w.Richness+w.Diversity+w.Recency+w.Domain+w.Signal, 1)
}

// HighSignal names a column and the values whose presence marks a
// high-value lead.
type HighSignal struct {
	Column string   `json:"column" yaml:"column"`
	Values []string `json:"values" yaml:"values"`
}

// Config drives the scorer.
type Config struct {
	Weights    Weights    `json:"weights" yaml:"weights"`
	DateField  string     `json:"dateField" yaml:"dateField"`
	HighSignal HighSignal `json:"highSignal" yaml:"highSignal"`
}

// Breakdown holds each component as a 0-100 percentage of its weight.
type Breakdown struct {
	Richness  int `json:"richness"`
	Diversity int `json:"diversity"`
	Recency   int `json:"recency"`
	Domain    int `json:"domain"`
	Signal    int `json:"signal"`
}

// Score is the normalized lead score with its component breakdown.
type Score struct {
	Value     int       `json:"value"`
	Breakdown Breakdown `json:"breakdown"`
}

// DetectMultivalueColumns finds columns whose cells hold separated
// lists. Comma is deliberately not a candidate separator: names and
// addresses make it fire on nearly everything.
func DetectMultivalueColumns(ds *dataset.Dataset) map[string]string {
	const threshold = 0.30
	separators := []string{";", "|"}

	out := map[string]string{}
	for _, col := range ds.Headers {
		var total, counts = 0, make([]int, len(separators))
		for _, row := range ds.Rows {
			v := row.Get(col)
			if v == "" {
				continue
			}
			total++
			for i, sep := range separators {
				if strings.Contains(v, sep) {
					counts[i]++
				}
			}
		}
		if total < 5 {
			continue
		}
		bestSep, bestRate := "", 0.0
		for i, sep := range separators {
			if rate := float64(counts[i]) / float64(total); rate > bestRate {
				bestRate = rate
				bestSep = sep
			}
		}
		if bestRate >= threshold && bestSep != "" {
			out[col] = bestSep
		}
	}
	return out
}

// Scorer scores rows of one dataset. Multivalue columns are detected
// once at construction.
type Scorer struct {
	cfg          Config
	columns      []string
	mvCols       map[string]string
	hasDateField bool
	signalValues []string
	now          time.Time
}

// NewScorer prepares a scorer for the dataset. Zero weights fall back
// to DefaultWeights.
func NewScorer(ds *dataset.Dataset, cfg Config) *Scorer {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	s := &Scorer{
		cfg:     cfg,
		columns: ds.Headers,
		mvCols:  DetectMultivalueColumns(ds),
		now:     time.Now().UTC(),
	}
	df := strings.TrimSpace(cfg.DateField)
	s.hasDateField = df != "" && ds.HasColumn(df)

	sigCol := strings.TrimSpace(cfg.HighSignal.Column)
	if sigCol != "" && ds.HasColumn(sigCol) {
		for _, v := range cfg.HighSignal.Values {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				s.signalValues = append(s.signalValues, v)
			}
		}
	}
	return s
}

// Score computes one row's lead score. domainVerified is true when the
// row's domain passed DNS validation during this run.
func (s *Scorer) Score(row dataset.Row, domainVerified bool) Score {
	w := s.cfg.Weights

	filled := 0
	for _, col := range s.columns {
		if row.Get(col) != "" {
			filled++
		}
	}
	numCols := len(s.columns)
	if numCols == 0 {
		numCols = 1
	}
	richnessPts := float64(filled) / float64(numCols) * w.Richness

	mvCount := 0
	for col, sep := range s.mvCols {
		v := row.Get(col)
		if v == "" {
			continue
		}
		for _, part := range strings.Split(v, sep) {
			if strings.TrimSpace(part) != "" {
				mvCount++
			}
		}
	}
	diversityPts := 0.0
	if len(s.mvCols) > 0 {
		diversityPts = math.Min(float64(mvCount)/diversityCap, 1) * w.Diversity
	}

	recencyPts := 0.0
	if s.hasDateField {
		if parsed, ok := ParseScoreDate(row.Get(s.cfg.DateField)); ok {
			daysAgo := s.now.Sub(parsed).Hours() / 24
			if daysAgo < 0 {
				daysAgo = 0
			}
			recencyPts = math.Max(1-daysAgo/RecencyWindowDays, 0) * w.Recency
		}
	}

	domainPts := 0.0
	if domainVerified {
		domainPts = w.Domain
	} else if !s.hasDateField {
		// Half credit when the run has no domain data to go on.
		domainPts = w.Domain * 0.5
	}

	signalPts := 0.0
	if len(s.signalValues) > 0 {
		cell := strings.ToLower(row.Get(s.cfg.HighSignal.Column))
		matched := 0
		for _, sv := range s.signalValues {
			if strings.Contains(cell, sv) {
				matched++
			}
		}
		signalPts = math.Min(float64(matched)/float64(len(s.signalValues)), 1) * w.Signal
	}

	raw := richnessPts + diversityPts + recencyPts + domainPts + signalPts
	return Score{
		Value: int(math.Round(math.Min(raw/w.total()*100, 100))),
		Breakdown: Breakdown{
			Richness:  componentPct(richnessPts, w.Richness),
			Diversity: componentPct(diversityPts, w.Diversity),
			Recency:   componentPct(recencyPts, w.Recency),
			Domain:    componentPct(domainPts, w.Domain),
			Signal:    componentPct(signalPts, w.Signal),
		},
	}
}

func componentPct(pts, weight float64) int {
	return int(math.Round(pts / math.Max(weight, 0.01) * 100))
}

var scoreDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ParseScoreDate parses the recency date field, accepting common ISO
// forms and a bare date.
func ParseScoreDate(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range scoreDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
