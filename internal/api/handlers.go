package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/leadhound/qualifier/internal/config"
	"github.com/leadhound/qualifier/internal/dataset"
	"github.com/leadhound/qualifier/internal/domaincache"
	"github.com/leadhound/qualifier/internal/pkg/distlock"
	"github.com/leadhound/qualifier/internal/pkg/httputil"
	"github.com/leadhound/qualifier/internal/pkg/logger"
	"github.com/leadhound/qualifier/internal/qualify"
	"github.com/leadhound/qualifier/internal/repository/postgres"
	"github.com/leadhound/qualifier/internal/rules"
	"github.com/leadhound/qualifier/internal/storage"
)

// Handlers carries the wired services for all API endpoints. Optional
// dependencies (summaries, sink) may be nil.
type Handlers struct {
	cfg       *config.Config
	runner    *qualify.Runner
	store     *qualify.RunStore
	cache     *domaincache.Cache
	sink      storage.Sink
	summaries *postgres.RunSummaryRepo
	redis     *redis.Client
}

func NewHandlers(cfg *config.Config, runner *qualify.Runner, store *qualify.RunStore, cache *domaincache.Cache, sink storage.Sink, summaries *postgres.RunSummaryRepo, redisClient *redis.Client) *Handlers {
	return &Handlers{
		cfg:       cfg,
		runner:    runner,
		store:     store,
		cache:     cache,
		sink:      sink,
		summaries: summaries,
		redis:     redisClient,
	}
}

// controlLock serializes control verbs per run across replicas.
// Returns a nil lock when no Redis client is wired.
func (h *Handlers) controlLock(w http.ResponseWriter, r *http.Request, id string) (*distlock.Lock, bool) {
	if h.redis == nil {
		return nil, true
	}
	lock := distlock.New(h.redis, "qualify:ctl:"+id, 10*time.Second)
	ok, err := lock.Acquire(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return nil, false
	}
	if !ok {
		httputil.Conflict(w, "another control operation is in progress")
		return nil, false
	}
	return lock, true
}

// writeRunError maps qualify sentinel errors to HTTP statuses.
func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qualify.ErrRunNotFound):
		httputil.NotFound(w, "run not found")
	case errors.Is(err, qualify.ErrRunNotPaused),
		errors.Is(err, qualify.ErrRunNotRunning),
		errors.Is(err, qualify.ErrRunFinished):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, qualify.ErrConfigChanged):
		httputil.Conflict(w, "configuration does not match the paused run")
	case errors.Is(err, qualify.ErrNoRules):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

// ===== Run lifecycle =====

// HandleStartRun starts a qualification run from a multipart upload:
// "file" is the lead CSV, "reference" is an optional suppression CSV,
// and "config" is a JSON qualify.Config.
//
//	POST /api/runs
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		httputil.BadRequest(w, "invalid multipart upload: "+err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing lead file")
		return
	}
	defer file.Close()

	ds, err := dataset.ReadCSV(file)
	if err != nil {
		httputil.BadRequest(w, "parsing lead file: "+err.Error())
		return
	}

	var ref *dataset.Dataset
	if refFile, _, err := r.FormFile("reference"); err == nil {
		defer refFile.Close()
		ref, err = dataset.ReadCSV(refFile)
		if err != nil {
			httputil.BadRequest(w, "parsing reference file: "+err.Error())
			return
		}
	}

	var cfg qualify.Config
	if raw := r.FormValue("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			httputil.BadRequest(w, "invalid config: "+err.Error())
			return
		}
	}

	id, err := h.runner.Start(r.Context(), ds, ref, cfg)
	if err != nil {
		writeRunError(w, err)
		return
	}
	logger.Info("run accepted", "runId", id, "rows", len(ds.Rows))
	httputil.Created(w, map[string]string{"runId": id})
}

// HandleListRuns lists known run IDs with their current status.
//
//	GET /api/runs
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ListIDs(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	runs := make([]qualify.Progress, 0, len(ids))
	for _, id := range ids {
		snap, err := h.runner.Snapshot(r.Context(), id)
		if err != nil {
			continue
		}
		runs = append(runs, snap)
	}
	httputil.OK(w, map[string]any{"runs": runs})
}

// HandleProgress returns a progress snapshot for polling clients.
//
//	GET /api/runs/{id}/progress
func (h *Handlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runner.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	httputil.OK(w, snap)
}

// HandleResults returns per-row outcomes, optionally filtered by
// status and paginated with offset/limit.
//
//	GET /api/runs/{id}/results?status=qualified&offset=0&limit=500
func (h *Handlers) HandleResults(w http.ResponseWriter, r *http.Request) {
	state, err := h.runner.Results(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	h.recordSummary(r, state)

	status := r.URL.Query().Get("status")
	filtered := state.Results
	if status != "" {
		filtered = make([]qualify.RowResult, 0, len(state.Results))
		for _, res := range state.Results {
			if res.Status == status {
				filtered = append(filtered, res)
			}
		}
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 500)
	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	httputil.OK(w, map[string]any{
		"runId":   state.ID,
		"status":  state.Status,
		"total":   total,
		"offset":  offset,
		"results": filtered[offset:end],
	})
}

// HandlePause requests a pause at the next stage boundary.
//
//	POST /api/runs/{id}/pause
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lock, ok := h.controlLock(w, r, id)
	if !ok {
		return
	}
	if lock != nil {
		defer lock.Release(r.Context())
	}
	if err := h.runner.Pause(r.Context(), id); err != nil {
		writeRunError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": qualify.RunPausing})
}

// HandleResume resumes a paused run. The body must carry the same
// configuration the run was started with.
//
//	POST /api/runs/{id}/resume
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	var cfg qualify.Config
	if !httputil.Decode(w, r, &cfg) {
		return
	}
	id := chi.URLParam(r, "id")
	lock, ok := h.controlLock(w, r, id)
	if !ok {
		return
	}
	if lock != nil {
		defer lock.Release(r.Context())
	}
	if err := h.runner.Resume(r.Context(), id, cfg); err != nil {
		writeRunError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "running"})
}

// HandleFinish finalizes a paused run, marking unprocessed rows.
//
//	POST /api/runs/{id}/finish
func (h *Handlers) HandleFinish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lock, ok := h.controlLock(w, r, id)
	if !ok {
		return
	}
	if lock != nil {
		defer lock.Release(r.Context())
	}
	if err := h.runner.Finish(r.Context(), id); err != nil {
		writeRunError(w, err)
		return
	}
	if state, err := h.runner.Results(r.Context(), id); err == nil {
		h.recordSummary(r, state)
	}
	httputil.OK(w, map[string]string{"status": "completed"})
}

// HandleCancel cancels a running or paused run.
//
//	POST /api/runs/{id}/cancel
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lock, ok := h.controlLock(w, r, id)
	if !ok {
		return
	}
	if lock != nil {
		defer lock.Release(r.Context())
	}
	if err := h.runner.Cancel(r.Context(), id); err != nil {
		writeRunError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "cancelling"})
}

// HandleDeleteRun removes a run and its persisted state.
//
//	DELETE /api/runs/{id}
func (h *Handlers) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeRunError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ===== Export =====

// Appended columns on exported rows.
const (
	exportStatusColumn = "Qualification Status"
	exportReasonColumn = "Qualification Reason"
	exportScoreColumn  = "Lead Score"
)

// HandleExport streams run results as a CSV attachment and, when a
// storage sink is configured, copies the same bytes to it.
//
//	GET /api/runs/{id}/export?status=qualified&columns=Website,Industry
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.runner.Results(r.Context(), id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	h.recordSummary(r, state)

	status := r.URL.Query().Get("status")
	if status == "" {
		status = qualify.RowQualified
	}

	columns := state.Headers
	if raw := r.URL.Query().Get("columns"); raw != "" {
		columns = splitColumns(raw)
		for _, col := range columns {
			if !containsFold(state.Headers, col) {
				httputil.BadRequest(w, fmt.Sprintf("unknown column %q", col))
				return
			}
		}
	}

	var buf bytes.Buffer
	if err := writeExport(&buf, state, status, columns); err != nil {
		httputil.InternalError(w, err)
		return
	}

	if h.sink != nil {
		key := fmt.Sprintf("runs/%s/%s-%s.csv", id, status, time.Now().UTC().Format("20060102-150405"))
		loc, err := h.sink.Save(r.Context(), key, bytes.NewReader(buf.Bytes()))
		if err != nil {
			logger.Warn("export sink save failed", "runId", id, "error", err.Error())
		} else {
			logger.Info("export stored", "runId", id, "location", loc)
		}
	}

	httputil.CSVAttachment(w, fmt.Sprintf("%s-%s.csv", id, status))
	w.Write(buf.Bytes())
}

// writeExport renders rows with the given status plus the appended
// qualification columns.
func writeExport(buf *bytes.Buffer, state *qualify.RunState, status string, columns []string) error {
	out := append(append([]string{}, columns...), exportStatusColumn, exportReasonColumn, exportScoreColumn)
	ds := &dataset.Dataset{Headers: out}

	rows := make([]dataset.Row, 0, len(state.Results))
	for _, res := range state.Results {
		if res.Status != status {
			continue
		}
		values := make(map[string]string, len(out))
		for _, col := range columns {
			values[col] = state.Rows[res.Index][col]
		}
		values[exportStatusColumn] = res.Status
		if !res.Reason.IsZero() {
			values[exportReasonColumn] = res.Reason.String()
		}
		if res.Score != nil {
			values[exportScoreColumn] = strconv.Itoa(res.Score.Value)
		}
		rows = append(rows, dataset.Row{Index: res.Index, Values: values})
	}
	return dataset.WriteCSV(buf, ds, out, rows)
}

// ===== Run history =====

// HandleRunHistory lists persisted run summaries from Postgres.
//
//	GET /api/runs/history?limit=50&offset=0
func (h *Handlers) HandleRunHistory(w http.ResponseWriter, r *http.Request) {
	if h.summaries == nil {
		httputil.OK(w, map[string]any{"total": 0, "summaries": []postgres.RunSummary{}})
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	summaries, total, err := h.summaries.List(r.Context(), limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"total": total, "summaries": summaries})
}

// recordSummary upserts a terminal run into the summary repository.
// Best effort: failures are logged, never surfaced to the client.
func (h *Handlers) recordSummary(r *http.Request, state *qualify.RunState) {
	if h.summaries == nil {
		return
	}
	switch state.Status {
	case qualify.RunCompleted, qualify.RunCancelled, qualify.RunFailed:
	default:
		return
	}
	if err := h.summaries.Save(r.Context(), postgres.SummaryFromState(state)); err != nil {
		logger.Warn("saving run summary failed", "runId", state.ID, "error", err.Error())
	}
}

// ===== Cache admin =====

// HandleCacheStats reports the domain cache contents.
//
//	GET /api/cache/stats
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httputil.OK(w, domaincache.Stats{})
		return
	}
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// HandleCacheClear drops all cached domain verdicts.
//
//	POST /api/cache/clear
func (h *Handlers) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httputil.OK(w, map[string]int{"cleared": 0})
		return
	}
	n, err := h.cache.Clear(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	logger.Info("domain cache cleared", "entries", fmt.Sprint(n))
	httputil.OK(w, map[string]int{"cleared": n})
}

// ===== Rules =====

// HandleValidateRules parses a rule-set payload and returns its
// validation problems without starting a run.
//
//	POST /api/rules/validate
func (h *Handlers) HandleValidateRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules json.RawMessage `json:"rules"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	rs, err := rules.ParseRuleSet(body.Rules)
	if err != nil {
		httputil.OK(w, map[string]any{"valid": false, "problems": []string{err.Error()}})
		return
	}
	problems := rs.Validate()
	httputil.OK(w, map[string]any{
		"valid":    len(problems) == 0,
		"rules":    len(rs.Rules),
		"problems": problems,
	})
}

// ===== helpers =====

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
