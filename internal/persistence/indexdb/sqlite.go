package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gemrunners.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of runs, sampled ticks,
// deliveries and conflicts. The JSONL logs remain the source of truth: the
// index drops writes rather than stall the simulation.
type SQLiteIndex struct {
	db        *sql.DB
	runID     string
	tickEvery uint64

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick  atomic.Uint64
	dropEvent atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEvent
)

type req struct {
	kind reqKind

	tick  world.TickLogEntry
	event world.EventEntry
}

// QueueStats reports how far behind the writer goroutine is.
type QueueStats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropTickTotal  uint64 `json:"drop_tick_total"`
	DropEventTotal uint64 `json:"drop_event_total"`
}

// OpenSQLite opens (or creates) the index at path. Ticks are sampled every
// tickEvery ticks; the first entry of a run and the final tick are always kept.
func OpenSQLite(path, runID string, tickEvery uint64) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if tickEvery == 0 {
		tickEvery = 1
	}

	s := &SQLiteIndex{
		db:        db,
		runID:     runID,
		tickEvery: tickEvery,
		ch:        make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			scenario TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			layout_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			reason TEXT,
			elapsed_ticks INTEGER,
			initial INTEGER,
			collected INTEGER,
			success_pct REAL,
			success INTEGER,
			total_moves INTEGER,
			efficiency REAL,
			report_json TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			live INTEGER NOT NULL,
			carried INTEGER NOT NULL,
			delivered INTEGER NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent INTEGER NOT NULL,
			target INTEGER NOT NULL,
			color TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_agent ON deliveries(run_id, agent, tick);`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			winner INTEGER NOT NULL,
			loser INTEGER NOT NULL,
			distance REAL NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats {
	return QueueStats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTickTotal:  s.dropTick.Load(),
		DropEventTotal: s.dropEvent.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	if entry.Run == nil && entry.Tick%s.tickEvery != 0 && entry.Live+entry.Carried != 0 {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEvent(entry world.EventEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: entry}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

func tuningDigest(v any) (string, string) {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), string(b)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,seed,scenario,grid_size,agents,tuning_digest,tuning_json,layout_json,started_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	finishRun, _ := s.db.Prepare(`UPDATE runs SET reason=?,elapsed_ticks=?,initial=?,collected=?,success_pct=?,success=?,total_moves=?,efficiency=?,report_json=? WHERE run_id=?`)
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,live,carried,delivered,digest,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertDelivery, _ := s.db.Prepare(`INSERT OR REPLACE INTO deliveries(run_id,tick,seq,agent,target,color,x,y) VALUES(?,?,?,?,?,?,?,?)`)
	insertConflict, _ := s.db.Prepare(`INSERT OR REPLACE INTO conflicts(run_id,tick,seq,winner,loser,distance) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, finishRun, insertTick, insertDelivery, insertConflict} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastEventTick uint64
		eventSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			if t.Run != nil {
				digest, tuneJSON := tuningDigest(t.Run.Tuning)
				layout, _ := json.Marshal(t.Run.Layout)
				exec(insertRun,
					s.runID,
					t.Run.Seed,
					t.Run.Layout.Name,
					t.Run.Layout.Geometry.Size,
					len(t.Run.Layout.Agents),
					digest,
					tuneJSON,
					string(layout),
					time.Now().UTC().Format(time.RFC3339Nano),
				)
			}
			raw, _ := json.Marshal(t.Agents)
			exec(insertTick, s.runID, int64(t.Tick), t.Live, t.Carried, t.Delivered, t.Digest, string(raw))

		case reqEvent:
			e := r.event
			if e.Tick != lastEventTick {
				lastEventTick = e.Tick
				eventSeq = 0
			}
			seq := eventSeq
			eventSeq++
			switch e.Kind {
			case world.EventDelivery:
				exec(insertDelivery, s.runID, int64(e.Tick), seq, e.Agent, e.Target, e.Color, e.Cell[0], e.Cell[1])
			case world.EventConflict:
				exec(insertConflict, s.runID, int64(e.Tick), seq, e.Agent, e.Other, e.Value)
			case world.EventComplete:
				if rep := e.Report; rep != nil {
					raw, _ := json.Marshal(rep)
					exec(finishRun,
						string(rep.Reason),
						int64(rep.ElapsedTicks),
						rep.Initial,
						rep.Collected,
						rep.SuccessPct,
						rep.Success,
						rep.TotalMoves,
						rep.Efficiency,
						string(raw),
						s.runID,
					)
				}
				// Runs are short; make the summary visible right away.
				commit()
				continue
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
