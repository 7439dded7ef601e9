// Package history keeps an audit log of CLI runs in SQLite.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// Run is one recorded CLI invocation, including its negotiation
// continuations.
type Run struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	SessionID    string    `json:"session_id"`
	Prompt       string    `json:"prompt"`
	Outcome      Outcome   `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	ExitCode     int       `json:"exit_code"`
	CreatedFiles []string  `json:"created_files,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store manages run persistence in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       INTEGER NOT NULL,
			session_id    TEXT NOT NULL,
			prompt        TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			error         TEXT NOT NULL DEFAULT '',
			exit_code     INTEGER NOT NULL DEFAULT 0,
			created_files TEXT NOT NULL DEFAULT '',
			duration_ms   INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_runs_user_id
			ON runs(user_id, created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run and fills in its ID.
func (s *Store) Record(run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO runs (user_id, session_id, prompt, outcome, error,
		                   exit_code, created_files, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.UserID, run.SessionID, run.Prompt, run.Outcome, run.Error,
		run.ExitCode, strings.Join(run.CreatedFiles, "\n"), run.DurationMS,
		run.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

// ListByUser returns a user's most recent runs, newest first.
func (s *Store) ListByUser(userID int64, limit int) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, session_id, prompt, outcome, error,
		        exit_code, created_files, duration_ms, created_at
		 FROM runs WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var files string
		if err := rows.Scan(
			&run.ID, &run.UserID, &run.SessionID, &run.Prompt, &run.Outcome,
			&run.Error, &run.ExitCode, &files, &run.DurationMS, &run.CreatedAt,
		); err != nil {
			return nil, err
		}
		if files != "" {
			run.CreatedFiles = strings.Split(files, "\n")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
