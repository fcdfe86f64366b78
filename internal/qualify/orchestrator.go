package qualify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leadhound/qualifier/internal/dataset"
	"github.com/leadhound/qualifier/internal/dedupe"
	"github.com/leadhound/qualifier/internal/domaincache"
	"github.com/leadhound/qualifier/internal/domaincheck"
	"github.com/leadhound/qualifier/internal/pkg/logger"
	"github.com/leadhound/qualifier/internal/reason"
	"github.com/leadhound/qualifier/internal/rules"
	"github.com/leadhound/qualifier/internal/scoring"
)

// Control verbs, checked at stage boundaries and between batch
// dispatches.
const (
	ctlNone int32 = iota
	ctlPause
	ctlCancel
)

// Persistence throttle: state is written through when either threshold
// trips.
const (
	persistEveryRows     = 200
	persistEveryInterval = 350 * time.Millisecond
)

// Runner owns all qualification runs in this process. Runs execute on
// background goroutines; every mutation is persisted through the run
// store so a paused run survives a restart.
type Runner struct {
	mu   sync.Mutex
	runs map[string]*run

	store    *RunStore
	checker  *domaincheck.Checker
	homepage *domaincheck.HomepageChecker
	cache    *domaincache.Cache

	dnsConcurrency      int
	homepageConcurrency int
}

// RunnerOptions inject the validation backends. Checker and Homepage
// default to production instances; Cache may be nil to disable domain
// result caching. The concurrency fields are server-level defaults,
// applied when a run config does not set its own.
type RunnerOptions struct {
	Checker  *domaincheck.Checker
	Homepage *domaincheck.HomepageChecker
	Cache    *domaincache.Cache

	DNSConcurrency      int
	HomepageConcurrency int
}

func NewRunner(store *RunStore, opts RunnerOptions) *Runner {
	checker := opts.Checker
	if checker == nil {
		checker = domaincheck.NewChecker(nil, nil, 0)
	}
	homepage := opts.Homepage
	if homepage == nil {
		homepage = domaincheck.NewHomepageChecker(nil, domaincheck.SoftStrikeThreshold)
	}
	return &Runner{
		runs:                make(map[string]*run),
		store:               store,
		checker:             checker,
		homepage:            homepage,
		cache:               opts.Cache,
		dnsConcurrency:      opts.DNSConcurrency,
		homepageConcurrency: opts.HomepageConcurrency,
	}
}

// run is the in-memory side of one qualification run.
type run struct {
	mu    sync.Mutex
	state *RunState

	ds        *dataset.Dataset
	ref       *dataset.Dataset
	ruleSet   rules.RuleSet
	domainCol string

	ctl atomic.Int32

	lastPersist     time.Time
	lastPersistRows int
}

func (r *run) stopRequested() bool {
	return r.ctl.Load() != ctlNone
}

// Start validates the config, registers the run, and launches the
// pipeline on a background goroutine. The reference dataset may be nil.
func (rn *Runner) Start(ctx context.Context, ds, ref *dataset.Dataset, cfg Config) (string, error) {
	ruleSet, err := parseRules(cfg)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	state := &RunState{
		ID:        id,
		Status:    RunRunning,
		Stage:     stageOrder[0],
		ConfigSig: cfg.Signature(),
		Config:    cfg,
		Headers:   ds.Headers,
		Verdicts:  map[string]domaincheck.Verdict{},
		StartedAt: now,
		UpdatedAt: now,
	}
	state.Rows = make([]map[string]string, len(ds.Rows))
	state.Results = make([]RowResult, len(ds.Rows))
	for i, row := range ds.Rows {
		state.Rows[i] = row.Values
		state.Results[i] = RowResult{Index: i}
	}
	if ref != nil {
		state.RefHeaders = ref.Headers
		state.RefRows = make([]map[string]string, len(ref.Rows))
		for i, row := range ref.Rows {
			state.RefRows[i] = row.Values
		}
	}

	r := &run{
		state:     state,
		ds:        ds,
		ref:       ref,
		ruleSet:   ruleSet,
		domainCol: resolveDomainColumn(cfg, ds.Headers),
	}

	rn.mu.Lock()
	rn.runs[id] = r
	rn.mu.Unlock()

	if err := rn.store.Save(ctx, state); err != nil {
		return "", err
	}

	logger.Info("qualification run started",
		"runId", id, "rows", len(ds.Rows), "domainColumn", r.domainCol)
	go rn.execute(r)
	return id, nil
}

func parseRules(cfg Config) (rules.RuleSet, error) {
	if len(cfg.Rules) == 0 {
		return rules.RuleSet{}, nil
	}
	rs, err := rules.ParseRuleSet(cfg.Rules)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("%w: %v", ErrNoRules, err)
	}
	if problems := rs.Validate(); len(problems) > 0 {
		return rules.RuleSet{}, fmt.Errorf("%w: %s", ErrNoRules, strings.Join(problems, "; "))
	}
	return rs, nil
}

// resolveDomainColumn honors an explicit choice, otherwise guesses from
// headers. Empty means no domain stages run.
func resolveDomainColumn(cfg Config, headers []string) string {
	if cfg.DomainColumn != "" {
		return cfg.DomainColumn
	}
	if cols := dedupe.GuessKeyColumns(headers)[dedupe.KeyDomain]; len(cols) > 0 {
		return cols[0]
	}
	return ""
}

// ===== Pipeline execution =====

func (rn *Runner) execute(r *run) {
	ctx := context.Background()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("qualification run panicked", "runId", r.state.ID, "panic", fmt.Sprint(p))
			r.mu.Lock()
			r.state.Status = RunFailed
			r.state.Error = fmt.Sprintf("internal error: %v", p)
			r.mu.Unlock()
			rn.persist(ctx, r)
		}
	}()

	for {
		r.mu.Lock()
		idx := r.state.StageIdx
		r.mu.Unlock()
		if idx >= len(stageOrder) {
			break
		}
		stage := stageOrder[idx]

		if rn.handleControl(ctx, r) {
			return
		}

		r.mu.Lock()
		r.state.Stage = stage
		r.state.Fraction = stageSpan[stage][0]
		r.mu.Unlock()

		rn.runStage(ctx, r, stage)

		// A pause or cancel during the stage leaves StageIdx in
		// place so resume re-runs the interrupted stage.
		if rn.handleControl(ctx, r) {
			return
		}

		r.mu.Lock()
		r.state.StageIdx = idx + 1
		r.state.Fraction = stageSpan[stage][1]
		r.state.Processed = resolvedCount(r.state.Results)
		r.mu.Unlock()
		rn.persist(ctx, r)
	}

	r.mu.Lock()
	r.state.Status = RunCompleted
	r.state.Fraction = 1.0
	r.state.Processed = len(r.state.Results)
	counts := countResults(r.state.Results)
	r.mu.Unlock()
	rn.persist(ctx, r)
	logger.Info("qualification run completed", "runId", r.state.ID,
		"qualified", counts[RowQualified],
		"removedFilter", counts[RowRemovedFilter],
		"removedDomain", counts[RowRemovedDomain],
		"removedReference", counts[RowRemovedReference])
}

func (rn *Runner) runStage(ctx context.Context, r *run, stage Stage) {
	switch stage {
	case StageIntra:
		rn.stageIntra(ctx, r)
	case StageBlocklist:
		rn.stageBlocklist(ctx, r)
	case StageRules:
		rn.stageRules(ctx, r)
	case StageTLD:
		rn.stageTLD(ctx, r)
	case StageDNS:
		rn.stageDNS(ctx, r)
	case StageHomepage:
		rn.stageHomepage(ctx, r)
	case StageReference:
		rn.stageReference(ctx, r)
	case StageScoring:
		rn.stageScoring(ctx, r)
	}
}

// handleControl applies a pending pause or cancel. Returns true when
// the run goroutine must stop.
func (rn *Runner) handleControl(ctx context.Context, r *run) bool {
	switch r.ctl.Load() {
	case ctlPause:
		r.mu.Lock()
		r.state.Status = RunPaused
		stage := r.state.Stage
		r.mu.Unlock()
		rn.persist(ctx, r)
		logger.Info("qualification run paused", "runId", r.state.ID, "stage", string(stage))
		return true
	case ctlCancel:
		r.mu.Lock()
		r.state.Status = RunCancelled
		r.mu.Unlock()
		rn.persist(ctx, r)
		logger.Info("qualification run cancelled", "runId", r.state.ID)
		return true
	}
	return false
}

func (rn *Runner) persist(ctx context.Context, r *run) {
	r.mu.Lock()
	r.state.UpdatedAt = time.Now().UTC()
	r.lastPersist = r.state.UpdatedAt
	r.lastPersistRows = r.state.Processed
	state := *r.state
	r.mu.Unlock()
	if err := rn.store.Save(ctx, &state); err != nil {
		logger.Warn("failed to persist run state", "runId", state.ID, "error", err)
	}
}

// maybePersist writes through when enough rows or time have passed
// since the last write.
func (rn *Runner) maybePersist(ctx context.Context, r *run) {
	r.mu.Lock()
	due := r.state.Processed-r.lastPersistRows >= persistEveryRows ||
		time.Since(r.lastPersist) >= persistEveryInterval
	r.mu.Unlock()
	if due {
		rn.persist(ctx, r)
	}
}

func resolvedCount(results []RowResult) int {
	n := 0
	for _, res := range results {
		if res.Status != RowPending {
			n++
		}
	}
	return n
}

// pendingRows returns the rows still in play, reading current values
// from the state so intra-dedupe merges are visible downstream.
func (r *run) pendingRows() []dataset.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dataset.Row
	for i, res := range r.state.Results {
		if res.Status == RowPending {
			out = append(out, dataset.Row{Index: i, Values: r.state.Rows[i]})
		}
	}
	return out
}

func (r *run) removeRow(idx int, status string, rsn reason.Reason, match *dedupe.MatchDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := &r.state.Results[idx]
	if res.Status != RowPending {
		return
	}
	res.Status = status
	res.Reason = rsn
	res.Match = match
	r.state.Processed++
}

func (r *run) setStageFraction(stage Stage, done, total int) {
	if total <= 0 {
		return
	}
	span := stageSpan[stage]
	r.mu.Lock()
	r.state.Fraction = span[0] + (span[1]-span[0])*float64(done)/float64(total)
	r.mu.Unlock()
}

// rowDomain returns the raw and normalized domain for a row, or empty
// strings when the run has no domain column.
func (r *run) rowDomain(row dataset.Row) (string, string) {
	if r.domainCol == "" {
		return "", ""
	}
	raw := row.Get(r.domainCol)
	return raw, domaincheck.Normalize(raw)
}

// ===== Stages =====

func (rn *Runner) stageIntra(ctx context.Context, r *run) {
	cfg := r.state.Config
	if cfg.Intra == nil {
		return
	}
	working := &dataset.Dataset{Headers: r.state.Headers, Rows: r.pendingRows()}
	out, res, err := dedupe.IntraDedupe(working, *cfg.Intra)
	if err != nil {
		// A missing key column is not fatal; the stage just no-ops.
		logger.Warn("intra dedupe skipped", "runId", r.state.ID, "error", err)
		return
	}
	for _, idx := range res.Removed {
		r.removeRow(idx, RowRemovedIntra, reason.Reason{
			Kind:   reason.DuplicateIntra,
			Column: res.KeyColumn,
		}, nil)
	}
	// Merge strategy rewrites surviving rows in place.
	if cfg.Intra.Strategy == dedupe.StrategyMerge {
		r.mu.Lock()
		for _, row := range out.Rows {
			r.state.Rows[row.Index] = row.Values
		}
		r.mu.Unlock()
	}
	if len(res.Removed) > 0 {
		logger.Info("intra dedupe removed duplicates", "runId", r.state.ID,
			"removed", len(res.Removed), "keyColumn", res.KeyColumn)
	}
}

func (rn *Runner) stageBlocklist(ctx context.Context, r *run) {
	cfg := r.state.Config
	if r.domainCol == "" {
		return
	}
	bl := domaincheck.NewBlocklist(cfg.BlocklistCategories, cfg.CustomBlocklist)
	if bl.Empty() {
		return
	}
	for _, row := range r.pendingRows() {
		raw, d := r.rowDomain(row)
		if d == "" {
			continue
		}
		if cat := bl.Match(d); cat != "" {
			r.removeRow(row.Index, RowRemovedDomain, reason.Reason{
				Kind:   reason.BlockedDomain,
				Column: r.domainCol,
				Value:  raw,
				Detail: cat,
			}, nil)
		}
	}
}

func (rn *Runner) stageRules(ctx context.Context, r *run) {
	if len(r.ruleSet.Rules) == 0 {
		return
	}
	pending := r.pendingRows()
	for i, row := range pending {
		ok, idx, rule := r.ruleSet.EvalTrace(row, r.ds.HasColumn)
		if !ok {
			r.removeRow(row.Index, RowRemovedFilter, reason.Reason{
				Kind:   reason.RuleFailed,
				Column: rule.Field(),
				Value:  row.Get(rule.Field()),
				Detail: fmt.Sprintf("Failed rule %d: %s", idx+1, rule.Describe()),
			}, nil)
		}
		if i%persistEveryRows == 0 {
			r.setStageFraction(StageRules, i, len(pending))
			rn.maybePersist(ctx, r)
			if r.stopRequested() {
				return
			}
		}
	}
}

func (rn *Runner) stageTLD(ctx context.Context, r *run) {
	cfg := r.state.Config
	policy := cfg.TLD
	if r.domainCol == "" ||
		(len(policy.Allow) == 0 && len(policy.Disallow) == 0 && !policy.RejectCountryTLD) {
		return
	}
	for _, row := range r.pendingRows() {
		raw, d := r.rowDomain(row)
		if d == "" {
			continue
		}
		if suffix, ok := policy.Evaluate(d); !ok {
			r.removeRow(row.Index, RowRemovedDomain, reason.Reason{
				Kind:   reason.DisallowedTLD,
				Column: r.domainCol,
				Value:  raw,
				Detail: suffix,
			}, nil)
		}
	}
}

func (rn *Runner) stageDNS(ctx context.Context, r *run) {
	cfg := r.state.Config
	if !cfg.ValidateDomains || r.domainCol == "" {
		return
	}

	pending := r.pendingRows()
	known := r.knownVerdicts()

	var toCheck []string
	seen := map[string]bool{}
	for _, row := range pending {
		raw, d := r.rowDomain(row)
		if raw == "" || d == "" || seen[d] {
			continue
		}
		seen[d] = true
		if _, ok := known[d]; !ok {
			toCheck = append(toCheck, raw)
		}
	}

	if fromCache := rn.cacheGetBatch(ctx, toCheck); len(fromCache) > 0 {
		for d, v := range fromCache {
			known[d] = v
		}
		toCheck = filterUnknown(toCheck, known)
	}

	conc := cfg.DNSConcurrency
	if conc == 0 {
		conc = rn.dnsConcurrency
	}
	if len(toCheck) > 0 {
		fresh := rn.checker.CheckBatch(ctx, toCheck, domaincheck.BatchOptions{
			Concurrency: conc,
			ShouldStop:  r.stopRequested,
			OnProgress: func(done, total int) {
				r.setStageFraction(StageDNS, done, total)
				rn.maybePersist(ctx, r)
			},
		})
		rn.cachePutBatch(ctx, fresh)
		for d, v := range fresh {
			known[d] = v
		}
	}

	r.mu.Lock()
	r.state.Verdicts = known
	r.mu.Unlock()

	for _, row := range pending {
		raw, d := r.rowDomain(row)
		if raw == "" {
			r.removeRow(row.Index, RowRemovedDomain, reason.Reason{
				Kind:   reason.DNSDead,
				Column: r.domainCol,
				Detail: string(domaincheck.StatusNoDomain),
			}, nil)
			continue
		}
		v, ok := known[d]
		if !ok {
			// Lookup never ran (stopped mid-batch); row stays pending.
			continue
		}
		if v.AllowsRow() {
			continue
		}
		rsn := reason.Reason{Kind: reason.DNSDead, Column: r.domainCol, Value: raw, Detail: string(v.Status)}
		if v.Status == domaincheck.StatusNonUSCountry {
			rsn = reason.Reason{Kind: reason.NonUSCountry, Column: r.domainCol, Value: raw, Detail: v.GeoCountry}
		}
		r.removeRow(row.Index, RowRemovedDomain, rsn, nil)
	}
}

func (r *run) knownVerdicts() map[string]domaincheck.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domaincheck.Verdict, len(r.state.Verdicts))
	for d, v := range r.state.Verdicts {
		out[d] = v
	}
	return out
}

func filterUnknown(raws []string, known map[string]domaincheck.Verdict) []string {
	var out []string
	for _, raw := range raws {
		if _, ok := known[domaincheck.Normalize(raw)]; !ok {
			out = append(out, raw)
		}
	}
	return out
}

func (rn *Runner) stageHomepage(ctx context.Context, r *run) {
	cfg := r.state.Config
	if !cfg.CheckHomepage || r.domainCol == "" {
		return
	}

	pending := r.pendingRows()
	results := map[string]domaincheck.HomepageSignals{}
	var toCheck []string
	seen := map[string]bool{}
	for _, row := range pending {
		_, d := r.rowDomain(row)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		if sig, ok := rn.cacheGetHomepage(ctx, d); ok {
			results[d] = sig
			continue
		}
		toCheck = append(toCheck, d)
	}

	conc := cfg.HomepageConcurrency
	if conc == 0 {
		conc = rn.homepageConcurrency
	}
	if len(toCheck) > 0 {
		fresh := rn.homepage.CheckBatch(ctx, toCheck, cfg.WebsiteKeywords, cfg.WebsiteExcludeKeywords, domaincheck.BatchOptions{
			Concurrency: conc,
			ShouldStop:  r.stopRequested,
			OnProgress: func(done, total int) {
				r.setStageFraction(StageHomepage, done, total)
				rn.maybePersist(ctx, r)
			},
		})
		for d, sig := range fresh {
			results[d] = sig
			rn.cachePutHomepage(ctx, sig)
		}
	}

	for _, row := range pending {
		raw, d := r.rowDomain(row)
		sig, ok := results[d]
		if !ok || !sig.Disqualified {
			continue
		}
		kind := reason.HomepageDisqualified
		if strings.Contains(sig.Status, "soft_strikes") {
			kind = reason.HomepageStrikes
		}
		r.removeRow(row.Index, RowRemovedDomain, reason.Reason{
			Kind:   kind,
			Column: r.domainCol,
			Value:  raw,
			Detail: strings.TrimPrefix(sig.Status, "disqualified:"),
		}, nil)
	}
}

func (rn *Runner) stageReference(ctx context.Context, r *run) {
	if r.ref == nil || len(r.ref.Rows) == 0 {
		return
	}
	matches := dedupe.InferMatches(r.state.Headers, r.ref.Headers)
	if len(matches) == 0 {
		logger.Warn("reference dedupe skipped: no comparable columns", "runId", r.state.ID)
		return
	}
	matcher := dedupe.NewMatcher(dedupe.BuildIndex(r.ref, matches), matches)

	pending := r.pendingRows()
	for i, row := range pending {
		if detail := matcher.Match(row); detail != nil {
			r.removeRow(row.Index, RowRemovedReference, reason.Reason{
				Kind:   reason.DuplicateReference,
				Column: detail.SourceColumn,
				Value:  detail.SourceValue,
				Detail: string(detail.KeyType) + "_" + detail.MatchMode,
			}, detail)
		}
		if i%persistEveryRows == 0 {
			r.setStageFraction(StageReference, i, len(pending))
			rn.maybePersist(ctx, r)
			if r.stopRequested() {
				return
			}
		}
	}
}

func (rn *Runner) stageScoring(ctx context.Context, r *run) {
	cfg := r.state.Config
	var scorer *scoring.Scorer
	if cfg.Scoring != nil {
		working := &dataset.Dataset{Headers: r.state.Headers, Rows: r.pendingRows()}
		scorer = scoring.NewScorer(working, *cfg.Scoring)
	}
	known := r.knownVerdicts()

	for _, row := range r.pendingRows() {
		var score *scoring.Score
		if scorer != nil {
			_, d := r.rowDomain(row)
			verified := false
			if v, ok := known[d]; ok {
				verified = v.Alive()
			}
			s := scorer.Score(row, verified)
			score = &s
		}
		r.mu.Lock()
		res := &r.state.Results[row.Index]
		res.Status = RowQualified
		res.Score = score
		r.state.Processed++
		r.mu.Unlock()
	}
}

// ===== Cache adapters (nil-tolerant) =====

func (rn *Runner) cacheGetBatch(ctx context.Context, raws []string) map[string]domaincheck.Verdict {
	if rn.cache == nil || len(raws) == 0 {
		return nil
	}
	return rn.cache.GetBatch(ctx, raws)
}

func (rn *Runner) cachePutBatch(ctx context.Context, verdicts map[string]domaincheck.Verdict) {
	if rn.cache == nil || len(verdicts) == 0 {
		return
	}
	rn.cache.PutBatch(ctx, verdicts)
}

func (rn *Runner) cacheGetHomepage(ctx context.Context, domain string) (domaincheck.HomepageSignals, bool) {
	if rn.cache == nil {
		return domaincheck.HomepageSignals{}, false
	}
	return rn.cache.GetHomepage(ctx, domain)
}

func (rn *Runner) cachePutHomepage(ctx context.Context, sig domaincheck.HomepageSignals) {
	if rn.cache == nil {
		return
	}
	rn.cache.PutHomepage(ctx, sig)
}

// ===== Control surface =====

// get returns the in-memory run, falling back to the store for runs
// from before a restart.
func (rn *Runner) get(ctx context.Context, id string) (*run, error) {
	rn.mu.Lock()
	if r, ok := rn.runs[id]; ok {
		rn.mu.Unlock()
		return r, nil
	}
	rn.mu.Unlock()

	state, err := rn.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	r := rehydrate(state)

	rn.mu.Lock()
	defer rn.mu.Unlock()
	if existing, ok := rn.runs[id]; ok {
		return existing, nil
	}
	// A run that was mid-flight when the process died can only be
	// resumed, never left "running" or "pausing".
	if r.state.Status == RunRunning || r.state.Status == RunPausing {
		r.state.Status = RunPaused
	}
	rn.runs[id] = r
	return r, nil
}

func rehydrate(state *RunState) *run {
	ds := &dataset.Dataset{Headers: state.Headers}
	for i, values := range state.Rows {
		ds.Rows = append(ds.Rows, dataset.Row{Index: i, Values: values})
	}
	var ref *dataset.Dataset
	if len(state.RefRows) > 0 {
		ref = &dataset.Dataset{Headers: state.RefHeaders}
		for i, values := range state.RefRows {
			ref.Rows = append(ref.Rows, dataset.Row{Index: i, Values: values})
		}
	}
	if state.Verdicts == nil {
		state.Verdicts = map[string]domaincheck.Verdict{}
	}
	ruleSet, _ := parseRules(state.Config)
	return &run{
		state:     state,
		ds:        ds,
		ref:       ref,
		ruleSet:   ruleSet,
		domainCol: resolveDomainColumn(state.Config, state.Headers),
	}
}

// Pause requests a pause; it takes effect at the next stage boundary
// or batch dispatch.
func (rn *Runner) Pause(ctx context.Context, id string) error {
	r, err := rn.get(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.state.Status != RunRunning {
		r.mu.Unlock()
		return ErrRunNotRunning
	}
	r.state.Status = RunPausing
	r.mu.Unlock()
	r.ctl.Store(ctlPause)
	rn.persist(ctx, r)
	return nil
}

// Resume restarts a paused run from its interrupted stage. The caller
// resubmits the config; any drift from the original is rejected.
func (rn *Runner) Resume(ctx context.Context, id string, cfg Config) error {
	r, err := rn.get(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status != RunPaused {
		return ErrRunNotPaused
	}
	if cfg.Signature() != r.state.ConfigSig {
		return ErrConfigChanged
	}
	r.state.Status = RunRunning
	r.ctl.Store(ctlNone)
	logger.Info("qualification run resumed", "runId", id, "stage", string(r.state.Stage))
	go rn.execute(r)
	return nil
}

// Finish completes a paused run, marking every unresolved row as
// paused_unprocessed so the export accounts for all input rows.
func (rn *Runner) Finish(ctx context.Context, id string) error {
	r, err := rn.get(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.state.Status != RunPaused {
		r.mu.Unlock()
		return ErrRunNotPaused
	}
	marked := 0
	for i := range r.state.Results {
		if r.state.Results[i].Status == RowPending {
			r.state.Results[i].Status = RowPausedUnprocessed
			r.state.Results[i].Reason = reason.Reason{Kind: reason.PausedUnprocessed}
			marked++
		}
	}
	r.state.Status = RunCompleted
	r.state.Fraction = 1.0
	r.state.Processed = len(r.state.Results)
	r.mu.Unlock()
	rn.persist(ctx, r)
	logger.Info("qualification run finished early", "runId", id, "unprocessed", marked)
	return nil
}

// Cancel stops a run. A running or pausing run stops at its next
// control check; a paused run is cancelled immediately.
func (rn *Runner) Cancel(ctx context.Context, id string) error {
	r, err := rn.get(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	status := r.state.Status
	r.mu.Unlock()
	switch status {
	case RunRunning, RunPausing:
		r.ctl.Store(ctlCancel)
		return nil
	case RunPaused:
		r.ctl.Store(ctlCancel)
		r.mu.Lock()
		r.state.Status = RunCancelled
		r.mu.Unlock()
		rn.persist(ctx, r)
		return nil
	default:
		return ErrRunFinished
	}
}

// Snapshot returns the current progress of a run.
func (rn *Runner) Snapshot(ctx context.Context, id string) (Progress, error) {
	r, err := rn.get(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Progress{
		RunID:     r.state.ID,
		Status:    r.state.Status,
		Stage:     r.state.Stage,
		Fraction:  r.state.Fraction,
		RowsTotal: len(r.state.Results),
		Processed: r.state.Processed,
		Counts:    countResults(r.state.Results),
		StartedAt: r.state.StartedAt,
		UpdatedAt: r.state.UpdatedAt,
		Error:     r.state.Error,
	}, nil
}

// Results returns a copy of the run state for result listing and
// export.
func (rn *Runner) Results(ctx context.Context, id string) (*RunState, error) {
	r, err := rn.get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state := *r.state
	state.Results = append([]RowResult(nil), r.state.Results...)
	return &state, nil
}

// Delete removes a run from memory and the store.
func (rn *Runner) Delete(ctx context.Context, id string) error {
	rn.mu.Lock()
	delete(rn.runs, id)
	rn.mu.Unlock()
	return rn.store.Delete(ctx, id)
}
