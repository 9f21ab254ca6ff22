// Package metadata provides the SQLite-backed relational store for tenants
// and their uploaded documents. It records what exists and in which
// lifecycle state; the vector artifacts themselves live in the vector store.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Sentinel errors for callers dispatching with [errors.Is].
var (
	// ErrNotFound is returned when a tenant or document does not exist.
	ErrNotFound = errors.New("metadata: not found")
	// ErrInvalidTransition is returned for a status move outside the
	// transition tables in status.go.
	ErrInvalidTransition = errors.New("metadata: invalid status transition")
)

// Tenant is one isolated knowledge base owner.
type Tenant struct {
	ID           string
	Name         string
	SystemPrompt string
	Model        string
	Status       TenantStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Document is one uploaded source file belonging to a tenant.
type Document struct {
	ID         string
	TenantID   string
	Filename   string
	FileType   string
	FileSize   int64
	FilePath   string
	Status     DocumentStatus
	UploadedAt time.Time
}

// Store persists tenants and documents. Implementations must be safe for
// concurrent use.
type Store interface {
	CreateTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	SetTenantStatus(ctx context.Context, id string, status TenantStatus) error
	DeleteTenant(ctx context.Context, id string) error

	AddDocument(ctx context.Context, d Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, tenantID string) ([]Document, error)
	SetDocumentStatus(ctx context.Context, id string, status DocumentStatus) error
	// ResetDocuments moves every document of the tenant that is not already
	// uploaded back to uploaded, ahead of a full store rebuild.
	ResetDocuments(ctx context.Context, tenantID string) error
	DeleteDocument(ctx context.Context, id string) error

	Close() error
}

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// DefaultDBPath returns the default database location, ~/.docqa/docqa.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("metadata: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("metadata: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "docqa.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", path, err)
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
CREATE TABLE IF NOT EXISTS tenants (
    id            TEXT    PRIMARY KEY,
    name          TEXT    NOT NULL,
    system_prompt TEXT    NOT NULL DEFAULT '',
    model         TEXT    NOT NULL DEFAULT '',
    status        TEXT    NOT NULL CHECK(status IN ('creating','processing','ready','error')),
    created_at    INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    tenant_id   TEXT    NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    filename    TEXT    NOT NULL,
    file_type   TEXT    NOT NULL,
    file_size   INTEGER NOT NULL,
    file_path   TEXT    NOT NULL,
    status      TEXT    NOT NULL CHECK(status IN ('uploaded','processing','completed','error')),
    uploaded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant
    ON documents (tenant_id, uploaded_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("metadata: migrate: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("metadata: enable foreign keys: %w", err)
	}
	return nil
}

// Ping verifies database connectivity, for readiness probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("metadata: ping: %w", err)
	}
	return nil
}

// CreateTenant inserts a new tenant row. Status defaults to creating.
func (s *SQLiteStore) CreateTenant(ctx context.Context, t Tenant) error {
	if t.Status == "" {
		t.Status = TenantCreating
	}
	if !t.Status.Valid() {
		return fmt.Errorf("metadata: unknown tenant status %q", t.Status)
	}
	now := time.Now().Unix()
	const q = `INSERT INTO tenants (id, name, system_prompt, model, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, t.ID, t.Name, t.SystemPrompt, t.Model, string(t.Status), now, now); err != nil {
		return fmt.Errorf("metadata: create tenant: %w", err)
	}
	return nil
}

// GetTenant fetches a tenant by id.
func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (Tenant, error) {
	const q = `SELECT id, name, system_prompt, model, status, created_at, updated_at
FROM tenants WHERE id = ?`
	var t Tenant
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.Name, &t.SystemPrompt, &t.Model, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, fmt.Errorf("metadata: tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("metadata: get tenant: %w", err)
	}
	t.Status = TenantStatus(status)
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return t, nil
}

// ListTenants returns all tenants ordered by creation time.
func (s *SQLiteStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	const q = `SELECT id, name, system_prompt, model, status, created_at, updated_at
FROM tenants ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("metadata: list tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		var status string
		var created, updated int64
		if err := rows.Scan(&t.ID, &t.Name, &t.SystemPrompt, &t.Model, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("metadata: list tenants scan: %w", err)
		}
		t.Status = TenantStatus(status)
		t.CreatedAt = time.Unix(created, 0)
		t.UpdatedAt = time.Unix(updated, 0)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: list tenants rows: %w", err)
	}
	return out, nil
}

// SetTenantStatus moves the tenant to a new status, validating the move
// against the transition table.
func (s *SQLiteStore) SetTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	t, err := s.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if err := checkTenantTransition(t.Status, status); err != nil {
		return err
	}
	const q = `UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, string(status), time.Now().Unix(), id); err != nil {
		return fmt.Errorf("metadata: set tenant status: %w", err)
	}
	return nil
}

// DeleteTenant removes the tenant and, via the cascade, all its documents.
func (s *SQLiteStore) DeleteTenant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("metadata: delete tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("metadata: tenant %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddDocument inserts a document row. Status defaults to uploaded.
func (s *SQLiteStore) AddDocument(ctx context.Context, d Document) error {
	if d.Status == "" {
		d.Status = DocUploaded
	}
	if !d.Status.Valid() {
		return fmt.Errorf("metadata: unknown document status %q", d.Status)
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now()
	}
	const q = `INSERT INTO documents (id, tenant_id, filename, file_type, file_size, file_path, status, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		d.ID, d.TenantID, d.Filename, d.FileType, d.FileSize, d.FilePath, string(d.Status), d.UploadedAt.Unix()); err != nil {
		return fmt.Errorf("metadata: add document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by id.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (Document, error) {
	const q = `SELECT id, tenant_id, filename, file_type, file_size, file_path, status, uploaded_at
FROM documents WHERE id = ?`
	var d Document
	var status string
	var uploaded int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.TenantID, &d.Filename, &d.FileType, &d.FileSize, &d.FilePath, &status, &uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("metadata: document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("metadata: get document: %w", err)
	}
	d.Status = DocumentStatus(status)
	d.UploadedAt = time.Unix(uploaded, 0)
	return d, nil
}

// ListDocuments returns the tenant's documents in upload order.
func (s *SQLiteStore) ListDocuments(ctx context.Context, tenantID string) ([]Document, error) {
	const q = `SELECT id, tenant_id, filename, file_type, file_size, file_path, status, uploaded_at
FROM documents WHERE tenant_id = ? ORDER BY uploaded_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("metadata: list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var status string
		var uploaded int64
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Filename, &d.FileType, &d.FileSize, &d.FilePath, &status, &uploaded); err != nil {
			return nil, fmt.Errorf("metadata: list documents scan: %w", err)
		}
		d.Status = DocumentStatus(status)
		d.UploadedAt = time.Unix(uploaded, 0)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: list documents rows: %w", err)
	}
	return out, nil
}

// SetDocumentStatus moves the document to a new status, validating the move
// against the transition table.
func (s *SQLiteStore) SetDocumentStatus(ctx context.Context, id string, status DocumentStatus) error {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := checkDocumentTransition(d.Status, status); err != nil {
		return err
	}
	const q = `UPDATE documents SET status = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, string(status), id); err != nil {
		return fmt.Errorf("metadata: set document status: %w", err)
	}
	return nil
}

// ResetDocuments flips the tenant's completed, errored, and in-flight
// processing documents back to uploaded so a rebuild re-ingests them from
// scratch.
func (s *SQLiteStore) ResetDocuments(ctx context.Context, tenantID string) error {
	const q = `UPDATE documents SET status = 'uploaded'
WHERE tenant_id = ? AND status IN ('completed','error','processing')`
	if _, err := s.db.ExecContext(ctx, q, tenantID); err != nil {
		return fmt.Errorf("metadata: reset documents: %w", err)
	}
	return nil
}

// DeleteDocument removes a single document row.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("metadata: delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("metadata: document %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("metadata: close: %w", err)
	}
	return nil
}
