package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"sleuth/internal/logging"
	"sleuth/internal/session"
)

// SQLiteStore keeps one row per session: summary columns for listing and
// the full JSON snapshot.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Initializing SQLiteStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, persistErr("open", "", fmt.Errorf("failed to create directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistErr("open", "", fmt.Errorf("failed to open database: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, persistErr("open", "", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		summary TEXT NOT NULL,
		snapshot TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts the session row inside a transaction.
func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	snapshot, err := encode(sess)
	if err != nil {
		return persistErr("save", "", err)
	}
	summary, err := json.Marshal(sess.Summary())
	if err != nil {
		return persistErr("save", sess.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("save", sess.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, query, status, created_at, updated_at, summary, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			query = excluded.query,
			status = excluded.status,
			updated_at = excluded.updated_at,
			summary = excluded.summary,
			snapshot = excluded.snapshot`,
		sess.ID, sess.Query, string(sess.Status),
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(summary), string(snapshot),
	)
	if err != nil {
		logging.StoreError("Failed to save session %s: %v", sess.ID, err)
		return persistErr("save", sess.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("save", sess.ID, err)
	}
	logging.StoreDebug("Saved session %s (%d bytes)", sess.ID, len(snapshot))
	return nil
}

// Load returns the stored snapshot.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.Session, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM sessions WHERE id = ?", id).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, persistErr("load", id, err)
	}
	sess, err := decode([]byte(snapshot))
	if err != nil {
		return nil, persistErr("load", id, err)
	}
	return sess, nil
}

// List returns summaries newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]session.Summary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT summary FROM sessions ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, persistErr("list", "", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, persistErr("list", "", err)
		}
		var sum session.Summary
		if err := json.Unmarshal([]byte(raw), &sum); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping corrupt session summary: %v", err)
			continue
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list", "", err)
	}
	session.SortSummaries(out)
	return out, nil
}
