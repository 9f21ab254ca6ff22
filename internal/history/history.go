// Package history provides a SQLite-backed chat history store. Each tenant
// has its own conversation thread; turns are persisted across server restarts
// and injected into the prompt when a chat request carries no explicit
// history of its own.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/docqa-ai/docqa-go/internal/rag"
)

// Store persists and retrieves conversation history keyed by tenant id.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists a single turn for the given tenant.
	Append(ctx context.Context, tenantID string, role rag.HistoryRole, content string) error
	// Recent returns the most recent n turns for the tenant, ordered
	// oldest-first so they can be passed to prompt assembly directly.
	// If fewer than n turns exist, all are returned.
	Recent(ctx context.Context, tenantID string, n int) ([]rag.HistoryTurn, error)
	// Purge deletes all history for the tenant.
	Purge(ctx context.Context, tenantID string) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// DefaultDBPath returns the default path for the chat history database.
// It resolves to ~/.docqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id    TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_chat_history_tenant_created
    ON chat_history (tenant_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Append persists a single turn for the given tenant.
func (s *SQLiteStore) Append(ctx context.Context, tenantID string, role rag.HistoryRole, content string) error {
	const q = `INSERT INTO chat_history (tenant_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, tenantID, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n turns for the tenant, ordered
// oldest-first. Uses a subquery to select the tail then re-order for injection.
func (s *SQLiteStore) Recent(ctx context.Context, tenantID string, n int) ([]rag.HistoryTurn, error) {
	const q = `
SELECT role, content FROM (
    SELECT id, role, content, created_at
    FROM   chat_history
    WHERE  tenant_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, tenantID, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var turns []rag.HistoryTurn
	for rows.Next() {
		var role string
		var t rag.HistoryTurn
		if err := rows.Scan(&role, &t.Content); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		t.Role = rag.HistoryRole(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return turns, nil
}

// Purge deletes all history for the tenant.
func (s *SQLiteStore) Purge(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("history: purge: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
