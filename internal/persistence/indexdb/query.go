package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
)

// RunRow is one run as recorded in the index. Report fields stay zero until
// the run completes.
type RunRow struct {
	RunID        string  `json:"run_id"`
	Seed         int64   `json:"seed"`
	Scenario     string  `json:"scenario"`
	GridSize     int     `json:"grid_size"`
	Agents       int     `json:"agents"`
	TuningDigest string  `json:"tuning_digest"`
	StartedAt    string  `json:"started_at"`
	Reason       string  `json:"reason,omitempty"`
	ElapsedTicks int64   `json:"elapsed_ticks"`
	Initial      int     `json:"initial"`
	Collected    int     `json:"collected"`
	SuccessPct   float64 `json:"success_pct"`
	Success      bool    `json:"success"`
	TotalMoves   int     `json:"total_moves"`
	Efficiency   float64 `json:"efficiency"`
}

// AgentTally is per-agent delivery totals for a run.
type AgentTally struct {
	Agent     int `json:"agent"`
	Delivered int `json:"delivered"`
}

// Reader runs read-only queries against an index file.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

const runColumns = `run_id,seed,scenario,grid_size,agents,tuning_digest,started_at,
	COALESCE(reason,''),COALESCE(elapsed_ticks,0),COALESCE(initial,0),COALESCE(collected,0),
	COALESCE(success_pct,0),COALESCE(success,0),COALESCE(total_moves,0),COALESCE(efficiency,0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRow, error) {
	var rr RunRow
	err := sc.Scan(&rr.RunID, &rr.Seed, &rr.Scenario, &rr.GridSize, &rr.Agents, &rr.TuningDigest, &rr.StartedAt,
		&rr.Reason, &rr.ElapsedTicks, &rr.Initial, &rr.Collected,
		&rr.SuccessPct, &rr.Success, &rr.TotalMoves, &rr.Efficiency)
	return rr, err
}

// Runs lists runs, newest first.
func (r *Reader) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		rr, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

func (r *Reader) Run(ctx context.Context, runID string) (RunRow, error) {
	rr, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRow{}, fmt.Errorf("run %q not indexed", runID)
	}
	return rr, err
}

// Deliveries tallies deliveries per agent for a run, ordered by agent id.
func (r *Reader) Deliveries(ctx context.Context, runID string) ([]AgentTally, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT agent, COUNT(*) FROM deliveries WHERE run_id=? GROUP BY agent ORDER BY agent`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentTally
	for rows.Next() {
		var t AgentTally
		if err := rows.Scan(&t.Agent, &t.Delivered); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TickDigests returns the indexed digests of a run keyed by tick.
func (r *Reader) TickDigests(ctx context.Context, runID string) (map[uint64]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tick, digest FROM ticks WHERE run_id=?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[uint64]string{}
	for rows.Next() {
		var tick int64
		var d string
		if err := rows.Scan(&tick, &d); err != nil {
			return nil, err
		}
		out[uint64(tick)] = d
	}
	return out, rows.Err()
}

func (r *Reader) ConflictCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts WHERE run_id=?`, runID).Scan(&n)
	return n, err
}
