// Package postgres persists qualification run summaries so finished
// runs outlive the 24h Redis state TTL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leadhound/qualifier/internal/qualify"
)

var ErrNotFound = errors.New("run summary not found")

// RunSummary is the durable record of one qualification run.
type RunSummary struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	RowsTotal  int            `json:"rowsTotal"`
	ConfigSig  string         `json:"configSig"`
	Breakdown  map[string]int `json:"breakdown"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// SummaryFromState projects a finished run state into its summary row.
func SummaryFromState(state *qualify.RunState) RunSummary {
	breakdown := map[string]int{}
	for _, res := range state.Results {
		if res.Status != "" {
			breakdown[res.Status]++
		}
	}
	return RunSummary{
		ID:         state.ID,
		Status:     state.Status,
		RowsTotal:  len(state.Results),
		ConfigSig:  state.ConfigSig,
		Breakdown:  breakdown,
		StartedAt:  state.StartedAt,
		FinishedAt: state.UpdatedAt,
	}
}

// RunSummaryRepo stores run summaries in PostgreSQL.
type RunSummaryRepo struct{ db *sql.DB }

func NewRunSummaryRepo(db *sql.DB) *RunSummaryRepo { return &RunSummaryRepo{db: db} }

// Migrate creates the backing table when it does not exist yet.
func (r *RunSummaryRepo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS qualification_runs (
			id          TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			rows_total  INTEGER NOT NULL,
			config_sig  TEXT NOT NULL,
			breakdown   JSONB NOT NULL DEFAULT '{}',
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate qualification_runs: %w", err)
	}
	return nil
}

// Save upserts a run summary.
func (r *RunSummaryRepo) Save(ctx context.Context, s RunSummary) error {
	breakdown, err := json.Marshal(s.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO qualification_runs
			(id, status, rows_total, config_sig, breakdown, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			rows_total = EXCLUDED.rows_total,
			breakdown = EXCLUDED.breakdown,
			finished_at = EXCLUDED.finished_at
	`, s.ID, s.Status, s.RowsTotal, s.ConfigSig, breakdown, s.StartedAt, s.FinishedAt)
	if err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

// Get returns one summary by run ID.
func (r *RunSummaryRepo) Get(ctx context.Context, id string) (*RunSummary, error) {
	var (
		s   RunSummary
		raw []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, status, rows_total, config_sig, breakdown, started_at, finished_at
		FROM qualification_runs
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Status, &s.RowsTotal, &s.ConfigSig, &raw, &s.StartedAt, &s.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run summary: %w", err)
	}
	if err := json.Unmarshal(raw, &s.Breakdown); err != nil {
		return nil, fmt.Errorf("decode breakdown: %w", err)
	}
	return &s, nil
}

// List returns summaries newest first.
func (r *RunSummaryRepo) List(ctx context.Context, limit, offset int) ([]RunSummary, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM qualification_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count run summaries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, rows_total, config_sig, breakdown, started_at, finished_at
		FROM qualification_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list run summaries: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s   RunSummary
			raw []byte
		)
		if err := rows.Scan(&s.ID, &s.Status, &s.RowsTotal, &s.ConfigSig, &raw,
			&s.StartedAt, &s.FinishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan run summary: %w", err)
		}
		if err := json.Unmarshal(raw, &s.Breakdown); err != nil {
			return nil, 0, fmt.Errorf("decode breakdown: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
