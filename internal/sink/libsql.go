package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/recflow/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var migration001 string

// migration holds a versioned SQL migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: migration001},
}

// LibSQL implements Sink on libSQL (embedded SQLite fork).
type LibSQL struct {
	db *sql.DB
}

// NewLibSQL opens a libSQL database at the given path, e.g.
// "file:/path/to/outcomes.db", and applies pending migrations.
func NewLibSQL(ctx context.Context, dbPath string) (*LibSQL, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs; some return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	s := &LibSQL{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *LibSQL) Close() error { return s.db.Close() }

func (s *LibSQL) BeginRun(ctx context.Context, run *Run) error {
	var options any
	if len(run.Options) > 0 {
		options = string(run.Options)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, options, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Query, options, timeOrNow(run.StartedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSink, "begin run: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQL) CompleteRun(ctx context.Context, runID string, stats map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSink, "complete run: %s", err.Error()).WithCause(err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET completed_at = ? WHERE id = ?`, time.Now().UTC(), runID,
	); err != nil {
		_ = tx.Rollback()
		return schema.NewErrorf(schema.ErrCodeSink, "complete run: %s", err.Error()).WithCause(err)
	}

	for label, count := range stats {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_stats (run_id, label, count) VALUES (?, ?, ?)
			 ON CONFLICT(run_id, label) DO UPDATE SET count = excluded.count`,
			runID, label, count,
		); err != nil {
			_ = tx.Rollback()
			return schema.NewErrorf(schema.ErrCodeSink, "record stats: %s", err.Error()).WithCause(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeSink, "complete run: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQL) RecordFailure(ctx context.Context, f *Failure) error {
	var state any
	if len(f.State) > 0 {
		state = string(f.State)
	}
	at := f.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures (run_id, record_id, reason, state, at) VALUES (?, ?, ?, ?, ?)`,
		f.RunID, f.RecordID, f.Reason, state, at,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSink, "record failure: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQL) ListFailures(ctx context.Context, runID string) ([]*Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, record_id, reason, state, at FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "list failures: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []*Failure
	for rows.Next() {
		f := &Failure{}
		var state sql.NullString
		if err := rows.Scan(&f.RunID, &f.RecordID, &f.Reason, &state, &f.At); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSink, "scan failure: %s", err.Error()).WithCause(err)
		}
		if state.Valid {
			f.State = []byte(state.String)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *LibSQL) RunStats(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, count FROM run_stats WHERE run_id = ?`, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSink, "run stats: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSink, "scan stats: %s", err.Error()).WithCause(err)
		}
		out[label] = count
	}
	return out, rows.Err()
}

// migrate creates the schema_version table and applies pending migrations.
func (s *LibSQL) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons, skipping comment-only
// fragments.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		hasCode := false
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				hasCode = true
				break
			}
		}
		if hasCode {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var _ Sink = (*LibSQL)(nil)
