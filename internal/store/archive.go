package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"strata/internal/plan"
)

// Archive persists finished refinement runs to a local SQLite database so
// past plans and their statistics can be inspected after the process exits.
type Archive struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// RunRecord is one archived run.
type RunRecord struct {
	RunID        string
	Domain       string
	Method       string
	Status       string
	Started      time.Time
	Finished     time.Time
	GroundSteps  int
	GroundActs   int
	Latency      time.Duration
	AverageYield time.Duration
	TotalTime    time.Duration
}

// LevelRecord is the archived summary of one level of a run.
type LevelRecord struct {
	RunID     string
	Level     int
	Steps     int
	Actions   int
	Partials  int
	Expansion float64
	Deviation float64
	StepsJSON string
}

// Open initializes the archive database at the given path.
func Open(path string) (*Archive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &Archive{db: db, dbPath: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return a, nil
}

// initialize creates the required tables.
func (a *Archive) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		started DATETIME NOT NULL,
		finished DATETIME NOT NULL,
		ground_steps INTEGER NOT NULL,
		ground_actions INTEGER NOT NULL,
		latency_ns INTEGER NOT NULL,
		avg_yield_ns INTEGER NOT NULL,
		total_ns INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	`

	levelsTable := `
	CREATE TABLE IF NOT EXISTS levels (
		run_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		actions INTEGER NOT NULL,
		partials INTEGER NOT NULL,
		expansion REAL NOT NULL,
		deviation REAL NOT NULL,
		steps_json TEXT NOT NULL,
		PRIMARY KEY (run_id, level)
	);
	CREATE INDEX IF NOT EXISTS idx_levels_run ON levels(run_id);
	`

	for _, table := range []string{runsTable, levelsTable} {
		if _, err := a.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveRun archives a finished run. The plan's per-level concatenations and
// statistics are flattened into one runs row plus one levels row per level.
func (a *Archive) SaveRun(h *plan.HierarchicalPlan, domain, method, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	groundSteps, groundActs := 0, 0
	if g := h.Ground(); g != nil {
		groundSteps = g.Length()
		groundActs = g.TotalActions()
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, domain, method, status, started, finished,
		 ground_steps, ground_actions, latency_ns, avg_yield_ns, total_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.RunID, domain, method, status, h.Started, h.Finished,
		groundSteps, groundActs,
		int64(h.ExecutionLatency()), int64(h.AverageYieldTime()),
		int64(h.OverallTotalTime()))
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	for level, p := range h.Levels {
		steps := make([]string, len(p.Steps))
		for i, set := range p.Steps {
			steps[i] = set.String()
		}
		encoded, err := json.Marshal(steps)
		if err != nil {
			return fmt.Errorf("failed to encode steps: %w", err)
		}
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO levels
			(run_id, level, steps, actions, partials, expansion, deviation, steps_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			h.RunID, level, p.Length(), p.TotalActions(), len(h.Partials[level]),
			p.ExpansionFactor(), p.ExpansionDeviation(), string(encoded))
		if err != nil {
			return fmt.Errorf("failed to store level %d: %w", level, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns up to limit archived runs, most recent first.
func (a *Archive) ListRuns(limit int) ([]RunRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`
		SELECT run_id, domain, method, status, started, finished,
		       ground_steps, ground_actions, latency_ns, avg_yield_ns, total_ns
		FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var latency, avgYield, total int64
		if err := rows.Scan(&r.RunID, &r.Domain, &r.Method, &r.Status,
			&r.Started, &r.Finished, &r.GroundSteps, &r.GroundActs,
			&latency, &avgYield, &total); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Latency = time.Duration(latency)
		r.AverageYield = time.Duration(avgYield)
		r.TotalTime = time.Duration(total)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Levels returns the archived per-level summaries of a run, highest level
// first.
func (a *Archive) Levels(runID string) ([]LevelRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`
		SELECT run_id, level, steps, actions, partials, expansion, deviation, steps_json
		FROM levels WHERE run_id = ? ORDER BY level DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	var records []LevelRecord
	for rows.Next() {
		var r LevelRecord
		if err := rows.Scan(&r.RunID, &r.Level, &r.Steps, &r.Actions,
			&r.Partials, &r.Expansion, &r.Deviation, &r.StepsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GroundSteps decodes the archived ground step strings of a run.
func (a *Archive) GroundSteps(runID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var encoded string
	err := a.db.QueryRow(`
		SELECT steps_json FROM levels WHERE run_id = ? AND level = 1`, runID).
		Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ground steps: %w", err)
	}
	var steps []string
	if err := json.Unmarshal([]byte(encoded), &steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	return steps, nil
}
