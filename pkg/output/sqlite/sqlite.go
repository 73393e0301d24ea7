// Package sqlite persists records in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ericogr/luxmeter/pkg/output"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

type SQLiteOutput struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path. ":memory:" keeps
// everything in process.
func NewSQLite(path string) (*SQLiteOutput, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &SQLiteOutput{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteOutput) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raw_samples (
			id          TEXT PRIMARY KEY,
			value       REAL NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS derived_results (
			id          TEXT PRIMARY KEY,
			value       REAL NOT NULL,
			trace       TEXT NOT NULL DEFAULT '[]',
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_recorded_at ON raw_samples(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_derived_recorded_at ON derived_results(recorded_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteOutput) Close() error {
	return s.db.Close()
}

func (s *SQLiteOutput) InsertRaw(ctx context.Context, value float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_samples (id, value, recorded_at) VALUES (?,?,?)`,
		uuid.NewString(), value, at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert raw sample: %w", err)
	}
	return nil
}

func (s *SQLiteOutput) InsertDerived(ctx context.Context, value float64, trace []float64, at time.Time) error {
	if trace == nil {
		trace = []float64{}
	}
	b, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO derived_results (id, value, trace, recorded_at) VALUES (?,?,?,?)`,
		uuid.NewString(), value, string(b), at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert derived result: %w", err)
	}
	return nil
}

// QueryAllRaw returns raw samples in insertion order.
func (s *SQLiteOutput) QueryAllRaw(ctx context.Context) ([]output.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, value, recorded_at FROM raw_samples ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw samples: %w", err)
	}
	defer rows.Close()
	records := []output.Record{}
	for rows.Next() {
		var (
			r  = output.Record{Kind: output.KindRaw}
			ns int64
		)
		if err := rows.Scan(&r.ID, &r.Value, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan raw sample: %w", err)
		}
		r.Timestamp = time.Unix(0, ns)
		records = append(records, r)
	}
	return records, rows.Err()
}

// QueryAllDerived returns derived results, traces included, in insertion order.
func (s *SQLiteOutput) QueryAllDerived(ctx context.Context) ([]output.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, value, trace, recorded_at FROM derived_results ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query derived results: %w", err)
	}
	defer rows.Close()
	records := []output.Record{}
	for rows.Next() {
		var (
			r     = output.Record{Kind: output.KindDerived}
			trace string
			ns    int64
		)
		if err := rows.Scan(&r.ID, &r.Value, &trace, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan derived result: %w", err)
		}
		if err := json.Unmarshal([]byte(trace), &r.Trace); err != nil {
			return nil, fmt.Errorf("failed to decode trace for %s: %w", r.ID, err)
		}
		r.Timestamp = time.Unix(0, ns)
		records = append(records, r)
	}
	return records, rows.Err()
}
