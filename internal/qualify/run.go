// Package qualify runs the row qualification pipeline: intra-list
// dedupe, blocklist, rule filters, TLD policy, DNS validation,
// homepage analysis, reference dedupe, and scoring. Runs are pausable
// at stage boundaries, resumable, and cancellable, with pull-based
// progress snapshots.
package qualify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/leadhound/qualifier/internal/dedupe"
	"github.com/leadhound/qualifier/internal/domaincheck"
	"github.com/leadhound/qualifier/internal/reason"
	"github.com/leadhound/qualifier/internal/scoring"
)

var (
	ErrRunNotFound   = errors.New("qualify: run not found")
	ErrRunNotPaused  = errors.New("qualify: run is not paused")
	ErrRunNotRunning = errors.New("qualify: run is not running")
	ErrRunFinished   = errors.New("qualify: run already finished")
	ErrConfigChanged = errors.New("qualify: config changed since run started")
	ErrNoRules       = errors.New("qualify: rule set failed validation")
)

// Stage identifies one pipeline phase.
type Stage string

const (
	StageIntra     Stage = "intra_dedupe"
	StageBlocklist Stage = "blocklist"
	StageRules     Stage = "rule_filters"
	StageTLD       Stage = "tld_policy"
	StageDNS       Stage = "dns_validation"
	StageHomepage  Stage = "homepage_analysis"
	StageReference Stage = "reference_dedupe"
	StageScoring   Stage = "scoring"
)

// stageOrder is the fixed pipeline sequence. Cheap row-local stages run
// before network-bound ones so dead rows never cost a lookup.
var stageOrder = []Stage{
	StageIntra, StageBlocklist, StageRules, StageTLD,
	StageDNS, StageHomepage, StageReference, StageScoring,
}

// stageSpan maps each stage to its start and end share of overall
// progress.
var stageSpan = map[Stage][2]float64{
	StageIntra:     {0.00, 0.02},
	StageBlocklist: {0.02, 0.05},
	StageRules:     {0.08, 0.32},
	StageTLD:       {0.32, 0.34},
	StageDNS:       {0.36, 0.72},
	StageHomepage:  {0.72, 0.88},
	StageReference: {0.88, 0.92},
	StageScoring:   {0.92, 0.97},
}

// Run statuses. A pause request moves the run to pausing until the
// worker reaches a stage boundary and commits the paused state.
const (
	RunRunning   = "running"
	RunPausing   = "pausing"
	RunPaused    = "paused"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Row statuses.
const (
	RowPending           = ""
	RowQualified         = "qualified"
	RowRemovedFilter     = "removed_filter"
	RowRemovedDomain     = "removed_domain"
	RowRemovedReference  = "removed_reference"
	RowRemovedIntra      = "removed_intra"
	RowPausedUnprocessed = "paused_unprocessed"
)

// Config is the full per-run configuration. Its serialized form is
// hashed into the run signature, so any change invalidates a resume.
type Config struct {
	Rules json.RawMessage `json:"rules,omitempty"`

	DomainColumn           string                `json:"domainColumn,omitempty"`
	BlocklistCategories    []string              `json:"blocklistCategories,omitempty"`
	CustomBlocklist        []string              `json:"customBlocklist,omitempty"`
	TLD                    domaincheck.TLDPolicy `json:"tld,omitempty"`
	ValidateDomains        bool                  `json:"validateDomains"`
	CheckHomepage          bool                  `json:"checkHomepage"`
	WebsiteKeywords        []string              `json:"websiteKeywords,omitempty"`
	WebsiteExcludeKeywords []string              `json:"websiteExcludeKeywords,omitempty"`
	Intra                  *dedupe.IntraOptions  `json:"intra,omitempty"`
	Scoring                *scoring.Config       `json:"scoring,omitempty"`

	DNSConcurrency      int `json:"dnsConcurrency,omitempty"`
	HomepageConcurrency int `json:"homepageConcurrency,omitempty"`
}

// Signature returns the sha256 hex of the canonical JSON form.
func (c Config) Signature() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RowResult is the per-row outcome of a run.
type RowResult struct {
	Index  int                 `json:"index"`
	Status string              `json:"status"`
	Reason reason.Reason       `json:"reason,omitempty"`
	Match  *dedupe.MatchDetail `json:"match,omitempty"`
	Score  *scoring.Score      `json:"score,omitempty"`
}

// RunState is the persisted form of a run: enough to resume after a
// process restart.
type RunState struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Stage     Stage  `json:"stage"`
	StageIdx  int    `json:"stageIdx"`
	ConfigSig string `json:"configSig"`
	Config    Config `json:"config"`

	Headers    []string            `json:"headers"`
	Rows       []map[string]string `json:"rows"`
	RefHeaders []string            `json:"refHeaders,omitempty"`
	RefRows    []map[string]string `json:"refRows,omitempty"`

	Results  []RowResult                    `json:"results"`
	Verdicts map[string]domaincheck.Verdict `json:"verdicts,omitempty"`

	Fraction  float64   `json:"fraction"`
	Processed int       `json:"processed"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Error     string    `json:"error,omitempty"`
}

// Progress is the pull-based snapshot served to clients.
type Progress struct {
	RunID     string         `json:"runId"`
	Status    string         `json:"status"`
	Stage     Stage          `json:"stage"`
	Fraction  float64        `json:"fraction"`
	RowsTotal int            `json:"rowsTotal"`
	Processed int            `json:"processed"`
	Counts    map[string]int `json:"counts"`
	StartedAt time.Time      `json:"startedAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Error     string         `json:"error,omitempty"`
}

// countResults tallies row statuses plus a blocklist breakdown, since
// blocklist removals share the removed_domain status.
func countResults(results []RowResult) map[string]int {
	counts := map[string]int{}
	for _, r := range results {
		if r.Status == RowPending {
			continue
		}
		counts[r.Status]++
		if r.Reason.Kind == reason.BlockedDomain {
			counts["removed_blocklist"]++
		}
	}
	return counts
}
