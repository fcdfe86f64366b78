package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadhound/qualifier/internal/qualify"
)

func setupRepoTest(t *testing.T) (*RunSummaryRepo, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	cleanup := func() { db.Close() }
	return NewRunSummaryRepo(db), mock, cleanup
}

func TestSummaryFromState(t *testing.T) {
	state := &qualify.RunState{
		ID:        "run-1",
		Status:    qualify.RunCompleted,
		ConfigSig: "abc",
		Results: []qualify.RowResult{
			{Index: 0, Status: qualify.RowQualified},
			{Index: 1, Status: qualify.RowQualified},
			{Index: 2, Status: qualify.RowRemovedFilter},
			{Index: 3, Status: qualify.RowRemovedDomain},
		},
	}
	s := SummaryFromState(state)

	assert.Equal(t, 4, s.RowsTotal)
	assert.Equal(t, 2, s.Breakdown[qualify.RowQualified])
	assert.Equal(t, 1, s.Breakdown[qualify.RowRemovedFilter])
	assert.Equal(t, 1, s.Breakdown[qualify.RowRemovedDomain])
}

func TestSaveRunSummary(t *testing.T) {
	repo, mock, cleanup := setupRepoTest(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO qualification_runs")).
		WithArgs("run-1", "completed", 100, "sig", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), RunSummary{
		ID:        "run-1",
		Status:    "completed",
		RowsTotal: 100,
		ConfigSig: "sig",
		Breakdown: map[string]int{"qualified": 80},
		StartedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunSummary(t *testing.T) {
	repo, mock, cleanup := setupRepoTest(t)
	defer cleanup()

	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "status", "rows_total", "config_sig", "breakdown", "started_at", "finished_at",
	}).AddRow("run-1", "completed", 100, "sig", []byte(`{"qualified":80}`), started, started)

	mock.ExpectQuery(regexp.QuoteMeta("FROM qualification_runs")).
		WithArgs("run-1").
		WillReturnRows(rows)

	s, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", s.Status)
	assert.Equal(t, 80, s.Breakdown["qualified"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunSummaryNotFound(t *testing.T) {
	repo, mock, cleanup := setupRepoTest(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM qualification_runs")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunSummaries(t *testing.T) {
	repo, mock, cleanup := setupRepoTest(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM qualification_runs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	started := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY started_at DESC")).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "rows_total", "config_sig", "breakdown", "started_at", "finished_at",
		}).
			AddRow("run-2", "completed", 10, "s2", []byte(`{}`), started, started).
			AddRow("run-1", "cancelled", 5, "s1", []byte(`{}`), started, started))

	out, total, err := repo.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, out, 2)
	assert.Equal(t, "run-2", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
