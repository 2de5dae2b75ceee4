// Package results manages the SQLite index of completed runs.
//
// A sweep can execute dozens of configurations; the index is what keeps
// their artifacts findable afterwards: which run produced which log
// directory, where its archive CSV went, and the per-machine summary the
// analyzer computed. SQLite in WAL mode keeps the index usable while a
// long sweep is still appending to it.
package results

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/daviddao/clocksim/pkg/model"
)

// Store manages the run index database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the index database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate results db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		created_at  TEXT NOT NULL,
		machines    INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		log_dir     TEXT NOT NULL,
		archive     TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS machine_summaries (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		machine_id  INTEGER NOT NULL,
		tick_rate   INTEGER NOT NULL DEFAULT 0,
		events      INTEGER NOT NULL,
		receives    INTEGER NOT NULL,
		sends       INTEGER NOT NULL,
		internals   INTEGER NOT NULL,
		final_clock INTEGER NOT NULL,
		max_queue   INTEGER NOT NULL,
		PRIMARY KEY (run_id, machine_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun inserts a run. Idempotent: recording the same run ID again
// refreshes its metadata.
func (s *Store) RecordRun(r model.Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, created_at, machines, duration_ms, log_dir)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   machines = excluded.machines,
		   duration_ms = excluded.duration_ms,
		   log_dir = excluded.log_dir`,
		r.ID, r.CreatedAt.UTC().Format(time.RFC3339Nano), r.Machines,
		r.Duration.Milliseconds(), r.LogDir,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

// SetArchive records where a run's merged archive CSV was written.
func (s *Store) SetArchive(runID, archivePath string) error {
	res, err := s.db.Exec(`UPDATE runs SET archive = ? WHERE id = ?`, archivePath, runID)
	if err != nil {
		return fmt.Errorf("set archive for run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set archive: run %s not recorded", runID)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, machines, duration_ms, log_dir, archive FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns all recorded runs, newest first.
func (s *Store) ListRuns() ([]model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, machines, duration_ms, log_dir, archive
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpsertMachineSummary stores one machine's analyzed outcome.
func (s *Store) UpsertMachineSummary(m model.MachineSummary) error {
	_, err := s.db.Exec(
		`INSERT INTO machine_summaries
		   (run_id, machine_id, tick_rate, events, receives, sends, internals, final_clock, max_queue)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, machine_id) DO UPDATE SET
		   tick_rate = excluded.tick_rate,
		   events = excluded.events,
		   receives = excluded.receives,
		   sends = excluded.sends,
		   internals = excluded.internals,
		   final_clock = excluded.final_clock,
		   max_queue = excluded.max_queue`,
		m.RunID, m.MachineID, m.TickRate, m.Events, m.Receives, m.Sends,
		m.Internals, m.FinalClock, m.MaxQueue,
	)
	if err != nil {
		return fmt.Errorf("upsert summary run %s machine %d: %w", m.RunID, m.MachineID, err)
	}
	return nil
}

// ListMachineSummaries returns a run's summaries ordered by machine ID.
func (s *Store) ListMachineSummaries(runID string) ([]model.MachineSummary, error) {
	rows, err := s.db.Query(
		`SELECT run_id, machine_id, tick_rate, events, receives, sends, internals, final_clock, max_queue
		 FROM machine_summaries WHERE run_id = ? ORDER BY machine_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list summaries for run %s: %w", runID, err)
	}
	defer rows.Close()

	var summaries []model.MachineSummary
	for rows.Next() {
		var m model.MachineSummary
		if err := rows.Scan(&m.RunID, &m.MachineID, &m.TickRate, &m.Events, &m.Receives,
			&m.Sends, &m.Internals, &m.FinalClock, &m.MaxQueue); err != nil {
			return nil, err
		}
		summaries = append(summaries, m)
	}
	return summaries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var (
		r          model.Run
		createdAt  string
		durationMS int64
	)
	if err := row.Scan(&r.ID, &createdAt, &r.Machines, &durationMS, &r.LogDir, &r.Archive); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found")
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse run created_at: %w", err)
	}
	r.CreatedAt = t
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}
