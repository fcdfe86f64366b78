package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadhound/qualifier/internal/config"
	"github.com/leadhound/qualifier/internal/domaincache"
	"github.com/leadhound/qualifier/internal/kv"
	"github.com/leadhound/qualifier/internal/qualify"
	"github.com/leadhound/qualifier/internal/storage"
)

type apiFixture struct {
	router    http.Handler
	runner    *qualify.Runner
	exportDir string
}

func setupAPITest(t *testing.T) *apiFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	kvStore := kv.NewRedisStore(client)
	store := qualify.NewRunStore(kvStore)
	cache := domaincache.New(kvStore, domaincache.Options{})
	runner := qualify.NewRunner(store, qualify.RunnerOptions{Cache: cache})

	exportDir := t.TempDir()
	sink, err := storage.NewLocalSink(exportDir)
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)

	h := NewHandlers(cfg, runner, store, cache, sink, nil, client)
	health := NewHealthChecker(nil, client)
	return &apiFixture{
		router:    SetupRoutes(h, health),
		runner:    runner,
		exportDir: exportDir,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// startRun uploads a small lead CSV with a contains rule on Industry.
// Domain validation is off so the run completes without network.
func startRun(t *testing.T, f *apiFixture) string {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	fmt.Fprint(fw, "Website,Industry,Company\n"+
		"acme.com,Software,Acme\n"+
		"shop.example,Retail,Shop Co\n"+
		"beta.io,Software,Beta\n")

	runCfg := qualify.Config{
		Rules: json.RawMessage(`[{"column":"Industry","matchType":"contains","values":["software"]}]`),
	}
	raw, err := json.Marshal(runCfg)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("config", string(raw)))
	require.NoError(t, mw.Close())

	rec := f.do(t, http.MethodPost, "/api/runs", body, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	return resp.RunID
}

func waitCompleted(t *testing.T, f *apiFixture, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := f.runner.Snapshot(context.Background(), id)
		require.NoError(t, err)
		if p.Status == qualify.RunCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not complete")
}

func TestStartRunAndProgress(t *testing.T) {
	f := setupAPITest(t)
	id := startRun(t, f)
	waitCompleted(t, f, id)

	rec := f.do(t, http.MethodGet, "/api/runs/"+id+"/progress", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p qualify.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, qualify.RunCompleted, p.Status)
	assert.Equal(t, 3, p.RowsTotal)
	assert.Equal(t, 2, p.Counts[qualify.RowQualified])
	assert.Equal(t, 1, p.Counts[qualify.RowRemovedFilter])
	assert.InDelta(t, 1.0, p.Fraction, 1e-9)
}

func TestStartRunRejectsMissingFile(t *testing.T) {
	f := setupAPITest(t)
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("config", "{}"))
	require.NoError(t, mw.Close())

	rec := f.do(t, http.MethodPost, "/api/runs", body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResultsFilterAndPagination(t *testing.T) {
	f := setupAPITest(t)
	id := startRun(t, f)
	waitCompleted(t, f, id)

	rec := f.do(t, http.MethodGet, "/api/runs/"+id+"/results?status=qualified&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total   int                 `json:"total"`
		Results []qualify.RowResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, qualify.RowQualified, resp.Results[0].Status)
}

func TestExportCSV(t *testing.T) {
	f := setupAPITest(t)
	id := startRun(t, f)
	waitCompleted(t, f, id)

	rec := f.do(t, http.MethodGet, "/api/runs/"+id+"/export?columns=Website,Company", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id)

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 qualified rows
	assert.Equal(t, []string{"Website", "Company", exportStatusColumn, exportReasonColumn, exportScoreColumn}, records[0])
	assert.Equal(t, "acme.com", records[1][0])
	assert.Equal(t, "qualified", records[1][2])

	// The same bytes land in the storage sink
	var found string
	filepath.Walk(f.exportDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".csv") {
			found = path
		}
		return nil
	})
	require.NotEmpty(t, found, "export not copied to sink")
}

func TestExportRejectsUnknownColumn(t *testing.T) {
	f := setupAPITest(t)
	id := startRun(t, f)
	waitCompleted(t, f, id)

	rec := f.do(t, http.MethodGet, "/api/runs/"+id+"/export?columns=Nope", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestControlVerbErrors(t *testing.T) {
	f := setupAPITest(t)

	rec := f.do(t, http.MethodGet, "/api/runs/missing/progress", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := startRun(t, f)
	waitCompleted(t, f, id)

	rec = f.do(t, http.MethodPost, "/api/runs/"+id+"/pause", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	body := bytes.NewBufferString("{}")
	rec = f.do(t, http.MethodPost, "/api/runs/"+id+"/resume", body, "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteRun(t *testing.T) {
	f := setupAPITest(t)
	id := startRun(t, f)
	waitCompleted(t, f, id)

	rec := f.do(t, http.MethodDelete, "/api/runs/"+id+"/", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/runs/"+id+"/progress", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateRules(t *testing.T) {
	f := setupAPITest(t)

	body := bytes.NewBufferString(`{"rules":[{"column":"Industry","matchType":"contains","values":["saas"]}]}`)
	rec := f.do(t, http.MethodPost, "/api/rules/validate", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Valid    bool     `json:"valid"`
		Rules    int      `json:"rules"`
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, 1, resp.Rules)

	body = bytes.NewBufferString(`{"rules":[{"column":"Industry","matchType":"bogus"}]}`)
	rec = f.do(t, http.MethodPost, "/api/rules/validate", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Problems)
}

func TestCacheStatsAndClear(t *testing.T) {
	f := setupAPITest(t)

	rec := f.do(t, http.MethodGet, "/api/cache/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats domaincache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Total)

	rec = f.do(t, http.MethodPost, "/api/cache/clear", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	f := setupAPITest(t)

	rec := f.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "up", status.Checks["redis"].Status)
	assert.Equal(t, "not_configured", status.Checks["postgres"].Status)

	rec = f.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
