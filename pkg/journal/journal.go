// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mbeema/rehook/pkg/activation"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "transitions",
		SQL: `
CREATE TABLE transitions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  at TEXT NOT NULL,
  op TEXT NOT NULL,
  hook_set TEXT NOT NULL,
  from_state TEXT NOT NULL,
  to_state TEXT NOT NULL,
  installed INTEGER NOT NULL,
  declared INTEGER NOT NULL,
  failed INTEGER NOT NULL
);
CREATE INDEX transitions_at ON transitions(at);`,
	},
	{
		Version: 2,
		Name:    "actor",
		SQL: `
ALTER TABLE transitions ADD COLUMN request_id TEXT NOT NULL DEFAULT '';
ALTER TABLE transitions ADD COLUMN actor_pid INTEGER NOT NULL DEFAULT -1;
ALTER TABLE transitions ADD COLUMN actor_uid INTEGER NOT NULL DEFAULT 0;
ALTER TABLE transitions ADD COLUMN actor_process TEXT NOT NULL DEFAULT '';`,
	},
}

// Entry is one persisted transition.
type Entry struct {
	ID        int64
	RunID     string
	Seq       uint64
	At        time.Time
	Op        string
	Set       string
	From      string
	To        string
	Installed int
	Declared  int
	Failed    int
	RequestID string
	ActorPID  int32
	ActorUID  uint32
	Process   string
}

// Degraded reports an enable that hooked fewer syscalls than declared.
func (e Entry) Degraded() bool {
	return e.Op == string(activation.OpEnable) && e.Installed < e.Declared
}

// ListOptions filters List results.
type ListOptions struct {
	Set   string
	Limit int
}

// Journal is an append-only SQLite history of activation transitions. Each
// daemon run tags its rows with a fresh run ID.
type Journal struct {
	db     *sql.DB
	runID  string
	logger *zap.Logger
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDB, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDB, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, runID: uuid.New().String(), logger: logger}
	logger.Info("journal opened", zap.String("path", path), zap.String("run_id", j.runID))
	return j, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 15000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfigureDB, pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("%w: %w", ErrCreateMigrationTbl, err)
	}

	applied := make(map[int]bool, len(migrations))
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadMigrations, err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %w", ErrReadMigrations, err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("%w: %w", ErrReadMigrations, err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("%w: begin %d %s: %w", ErrApplyMigration, m.Version, m.Name, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: %d %s: %w", ErrApplyMigration, m.Version, m.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: record %d %s: %w", ErrApplyMigration, m.Version, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit %d %s: %w", ErrApplyMigration, m.Version, m.Name, err)
		}
	}
	return nil
}

// RunID identifies the current daemon run.
func (j *Journal) RunID() string {
	return j.runID
}

// Record appends t.
func (j *Journal) Record(t activation.Transition) error {
	_, err := j.db.Exec(`
INSERT INTO transitions (
  run_id, seq, at, op, hook_set, from_state, to_state, installed, declared, failed,
  request_id, actor_pid, actor_uid, actor_process
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, int64(t.Seq), t.At.UTC().Format(time.RFC3339Nano), string(t.Op), t.Set,
		t.From.String(), t.To.String(), t.Installed, t.Declared, t.Failed,
		t.Actor.RequestID, t.Actor.PID, t.Actor.UID, t.Actor.Process,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}
	return nil
}

// Observe is a transition observer. Write failures are logged; the
// transition itself has already happened.
func (j *Journal) Observe(t activation.Transition) {
	if err := j.Record(t); err != nil {
		j.logger.Warn("failed to journal transition", zap.Uint64("seq", t.Seq), zap.Error(err))
	}
}

// List returns the most recent entries, newest first.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []any
	if opts.Set != "" {
		where = append(where, "hook_set = ?")
		args = append(args, opts.Set)
	}
	query := `
SELECT id, run_id, seq, at, op, hook_set, from_state, to_state, installed, declared, failed,
       request_id, actor_pid, actor_uid, actor_process
FROM transitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		var seq int64
		if err := rows.Scan(&e.ID, &e.RunID, &seq, &at, &e.Op, &e.Set, &e.From, &e.To,
			&e.Installed, &e.Declared, &e.Failed, &e.RequestID, &e.ActorPID, &e.ActorUID, &e.Process); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQuery, err)
		}
		e.Seq = uint64(seq)
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return out, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
