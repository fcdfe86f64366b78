package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadhound/qualifier/internal/dataset"
)

func scoringDataset() *dataset.Dataset {
	ds := &dataset.Dataset{Headers: []string{"Company", "Website", "Technologies", "Created At"}}
	for i := 0; i < 6; i++ {
		ds.Rows = append(ds.Rows, dataset.Row{Index: i, Values: map[string]string{
			"Company":      "Acme",
			"Website":      "acme.com",
			"Technologies": "salesforce; hubspot; stripe",
			"Created At":   "2026-01-01",
		}})
	}
	return ds
}

func TestDetectMultivalueColumns(t *testing.T) {
	ds := scoringDataset()
	mv := DetectMultivalueColumns(ds)

	require.Len(t, mv, 1)
	assert.Equal(t, ";", mv["Technologies"])
}

func TestDetectMultivalueColumnsSkipsSmallSamples(t *testing.T) {
	ds := &dataset.Dataset{
		Headers: []string{"Tags"},
		Rows: []dataset.Row{
			{Index: 0, Values: map[string]string{"Tags": "a; b"}},
			{Index: 1, Values: map[string]string{"Tags": "c; d"}},
		},
	}
	assert.Empty(t, DetectMultivalueColumns(ds))
}

func TestScoreFullyFilledRow(t *testing.T) {
	ds := scoringDataset()
	s := NewScorer(ds, Config{DateField: "Created At"})
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := s.Score(ds.Rows[0], true)

	// All fields filled, fresh date, verified domain; diversity is
	// 3 of the 20-token cap; no signal config.
	assert.Equal(t, 100, got.Breakdown.Richness)
	assert.Equal(t, 15, got.Breakdown.Diversity)
	assert.Equal(t, 100, got.Breakdown.Recency)
	assert.Equal(t, 100, got.Breakdown.Domain)
	assert.Equal(t, 0, got.Breakdown.Signal)
	// 25 + 3.75 + 20 + 15 + 0 = 63.75 of 100.
	assert.Equal(t, 64, got.Value)
}

func TestScoreRecencyDecay(t *testing.T) {
	ds := scoringDataset()
	s := NewScorer(ds, Config{DateField: "Created At"})
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 365)

	got := s.Score(ds.Rows[0], true)
	assert.Equal(t, 50, got.Breakdown.Recency)

	s.now = s.now.AddDate(0, 0, 730)
	got = s.Score(ds.Rows[0], true)
	assert.Equal(t, 0, got.Breakdown.Recency)
}

func TestScoreDomainHalfCreditWithoutDateField(t *testing.T) {
	ds := scoringDataset()
	s := NewScorer(ds, Config{})

	got := s.Score(ds.Rows[0], false)
	assert.Equal(t, 50, got.Breakdown.Domain)

	got = s.Score(ds.Rows[0], true)
	assert.Equal(t, 100, got.Breakdown.Domain)
}

func TestScoreHighSignal(t *testing.T) {
	ds := scoringDataset()
	s := NewScorer(ds, Config{
		HighSignal: HighSignal{
			Column: "Technologies",
			Values: []string{"Salesforce", "Stripe", "Snowflake", "Databricks"},
		},
	})

	got := s.Score(ds.Rows[0], true)
	assert.Equal(t, 50, got.Breakdown.Signal)
}

func TestScoreEmptyRow(t *testing.T) {
	ds := scoringDataset()
	s := NewScorer(ds, Config{DateField: "Created At"})

	got := s.Score(dataset.Row{Index: 99, Values: map[string]string{}}, false)
	assert.Equal(t, 0, got.Value)
	assert.Equal(t, Breakdown{}, got.Breakdown)
}

func TestParseScoreDate(t *testing.T) {
	for _, raw := range []string{
		"2026-01-02",
		"2026-01-02T10:30:00Z",
		"2026-01-02 10:30:00",
		"01/02/2026",
	} {
		_, ok := ParseScoreDate(raw)
		assert.True(t, ok, "should parse %q", raw)
	}
	_, ok := ParseScoreDate("next tuesday")
	assert.False(t, ok)
}
