// ABOUTME: SQLite store for session continuity and run auditing.
// ABOUTME: Schema is created on open; WAL mode for concurrent readers.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists host state in a single SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Run is one audit row for a dispatched request.
type Run struct {
	ID         string
	ChatJID    string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewStore opens (creating if needed) the database at path. Parent
// directories are created automatically.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			chat_jid   TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			chat_jid    TEXT NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			started_at  DATETIME NOT NULL,
			finished_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_runs_chat_started
			ON runs(chat_jid, started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session returns the persisted session id for a chat, or "" when the chat
// has no session yet.
func (s *Store) Session(ctx context.Context, chatJID string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id FROM sessions WHERE chat_jid = ?", chatJID,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying session for %s: %w", chatJID, err)
	}
	return sessionID, nil
}

// SaveSession upserts the session id a chat should resume with.
func (s *Store) SaveSession(ctx context.Context, chatJID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (chat_jid, session_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_jid) DO UPDATE SET
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`, chatJID, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving session for %s: %w", chatJID, err)
	}
	return nil
}

// DeleteSession forgets a chat's session, forcing the next request to start
// a fresh one.
func (s *Store) DeleteSession(ctx context.Context, chatJID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE chat_jid = ?", chatJID); err != nil {
		return fmt.Errorf("deleting session for %s: %w", chatJID, err)
	}
	return nil
}

// BeginRun records a dispatched request before execution starts.
func (s *Store) BeginRun(ctx context.Context, id, chatJID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, chat_jid, status, started_at)
		VALUES (?, ?, 'running', ?)
	`, id, chatJID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording run %s: %w", id, err)
	}
	return nil
}

// FinishRun records the terminal status of a run. errMsg is empty on success.
func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: no such run", id)
	}
	return nil
}

// RecentRuns returns up to limit runs for a chat, newest first. An empty
// chatJID returns runs across all chats.
func (s *Store) RecentRuns(ctx context.Context, chatJID string, limit int) ([]*Run, error) {
	query := `
		SELECT id, chat_jid, status, error, started_at, finished_at
		FROM runs
	`
	args := []any{}
	if chatJID != "" {
		query += " WHERE chat_jid = ?"
		args = append(args, chatJID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.ChatJID, &r.Status, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
