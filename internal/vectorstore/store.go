// Package vectorstore implements the per-tenant flat vector index with its
// on-disk metadata sidecar. Each tenant owns a directory holding exactly two
// artifacts, a binary index file and a JSON sidecar, written atomically and
// always in agreement about dimension and vector count. Search is exact
// brute force over squared Euclidean distance.
package vectorstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/docqa-ai/docqa-go/internal/logging"
)

const (
	indexFile   = "index.vec"
	sidecarFile = "metadata.json"
)

// Result is a single search hit. Rank is 1-based in ascending distance
// order; Score is the raw squared Euclidean distance, unbounded above.
type Result struct {
	Rank   int
	Score  float32
	Record Record
}

// Store manages all tenant indexes under a single base directory. All
// methods are safe for concurrent use; writes to the same tenant are
// serialized, and readers never observe a half-written artifact pair.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New returns a Store rooted at basePath, creating the directory if needed.
func New(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("vectorstore: base path required: %w", ErrInvalidInput)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create base dir: %w", err)
	}
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*sync.RWMutex),
	}, nil
}

// BasePath returns the root directory holding all tenant stores.
func (s *Store) BasePath() string { return s.basePath }

// lockFor returns the RW mutex for a tenant, creating it on first use. The
// mutex survives Delete so that a concurrent recreate stays serialized.
func (s *Store) lockFor(tenantID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[tenantID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[tenantID] = l
	}
	return l
}

func (s *Store) tenantDir(tenantID string) string {
	return filepath.Join(s.basePath, tenantID)
}

// Create provisions an empty store for a tenant at the given dimension.
// Returns ErrExists if the tenant already has a store; the existing store
// is left untouched. Partial artifacts from a failed create are removed.
func (s *Store) Create(ctx context.Context, tenantID string, dimension int) error {
	if tenantID == "" {
		return fmt.Errorf("vectorstore: tenant id required: %w", ErrInvalidInput)
	}
	if dimension <= 0 {
		return fmt.Errorf("vectorstore: dimension must be positive, got %d: %w", dimension, ErrInvalidInput)
	}

	l := s.lockFor(tenantID)
	l.Lock()
	defer l.Unlock()

	dir := s.tenantDir(tenantID)
	if _, err := os.Stat(filepath.Join(dir, indexFile)); err == nil {
		return fmt.Errorf("vectorstore: tenant %s: %w", tenantID, ErrExists)
	}
	if _, err := os.Stat(filepath.Join(dir, sidecarFile)); err == nil {
		return fmt.Errorf("vectorstore: tenant %s: %w", tenantID, ErrExists)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vectorstore: create tenant dir: %w", err)
	}

	ix := newFlatIndex(dimension)
	sc := newSidecar(tenantID, dimension)
	if err := s.persist(dir, ix, sc); err != nil {
		// Leave no partial artifacts behind.
		os.RemoveAll(dir)
		return fmt.Errorf("vectorstore: create tenant %s: %w", tenantID, err)
	}

	logging.FromContext(ctx).Debug("vector store created",
		slog.String("tenant_id", tenantID),
		slog.Int("dimension", dimension))
	return nil
}

// load reads both artifacts and cross-checks them. Callers hold at least a
// read lock for the tenant.
func (s *Store) load(tenantID string) (*flatIndex, *sidecar, error) {
	dir := s.tenantDir(tenantID)
	indexPath := filepath.Join(dir, indexFile)
	sidecarPath := filepath.Join(dir, sidecarFile)

	_, indexErr := os.Stat(indexPath)
	_, sidecarErr := os.Stat(sidecarPath)
	indexMissing := os.IsNotExist(indexErr)
	sidecarMissing := os.IsNotExist(sidecarErr)

	switch {
	case indexMissing && sidecarMissing:
		return nil, nil, fmt.Errorf("vectorstore: tenant %s: %w", tenantID, ErrNotFound)
	case indexMissing != sidecarMissing:
		return nil, nil, fmt.Errorf("vectorstore: tenant %s: lone artifact on disk: %w", tenantID, ErrCorrupted)
	}

	f, err := os.Open(indexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore: open index: %w", err)
	}
	defer f.Close()
	ix, err := readFlatIndex(f)
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore: tenant %s: %w", tenantID, err)
	}

	sc, err := readSidecar(sidecarPath)
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore: tenant %s: %w", tenantID, err)
	}

	if ix.dimension != sc.Dimension {
		return nil, nil, fmt.Errorf("vectorstore: tenant %s: index dimension %d vs sidecar %d: %w",
			tenantID, ix.dimension, sc.Dimension, ErrCorrupted)
	}
	if ix.count() != sc.TotalDocuments {
		return nil, nil, fmt.Errorf("vectorstore: tenant %s: index count %d vs sidecar %d: %w",
			tenantID, ix.count(), sc.TotalDocuments, ErrCorrupted)
	}
	return ix, sc, nil
}

// persist writes both artifacts durably: each goes to a temp file in the
// tenant directory and is renamed into place, index first, then sidecar.
func (s *Store) persist(dir string, ix *flatIndex, sc *sidecar) error {
	var buf bytes.Buffer
	if err := ix.writeTo(&buf); err != nil {
		return err
	}
	sidecarData, err := sc.encode()
	if err != nil {
		return err
	}

	if err := writeFileAtomic(filepath.Join(dir, indexFile), buf.Bytes()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, sidecarFile), sidecarData); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// Exists reports whether a complete store is present for the tenant. A
// half-present pair reports corruption.
func (s *Store) Exists(tenantID string) (bool, error) {
	l := s.lockFor(tenantID)
	l.RLock()
	defer l.RUnlock()

	dir := s.tenantDir(tenantID)
	_, indexErr := os.Stat(filepath.Join(dir, indexFile))
	_, sidecarErr := os.Stat(filepath.Join(dir, sidecarFile))
	indexMissing := os.IsNotExist(indexErr)
	sidecarMissing := os.IsNotExist(sidecarErr)
	switch {
	case indexMissing && sidecarMissing:
		return false, nil
	case indexMissing != sidecarMissing:
		return false, fmt.Errorf("vectorstore: tenant %s: lone artifact on disk: %w", tenantID, ErrCorrupted)
	}
	return true, nil
}

// Dimension returns the vector width of an existing tenant store.
func (s *Store) Dimension(tenantID string) (int, error) {
	l := s.lockFor(tenantID)
	l.RLock()
	defer l.RUnlock()

	ix, _, err := s.load(tenantID)
	if err != nil {
		return 0, err
	}
	return ix.dimension, nil
}

// Count returns the number of stored chunks for a tenant.
func (s *Store) Count(tenantID string) (int, error) {
	l := s.lockFor(tenantID)
	l.RLock()
	defer l.RUnlock()

	ix, _, err := s.load(tenantID)
	if err != nil {
		return 0, err
	}
	return ix.count(), nil
}

// Add appends a batch of vectors and their chunk metadata to a tenant's
// store. The two slices must be equal length and non-empty, and every
// vector must match the store dimension. Record IDs are assigned here,
// continuing from the current count. On any error the store on disk is
// unchanged.
func (s *Store) Add(ctx context.Context, tenantID string, vectors [][]float32, records []Record) error {
	if len(vectors) == 0 {
		return fmt.Errorf("vectorstore: empty batch: %w", ErrInvalidInput)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("vectorstore: %d vectors vs %d records: %w", len(vectors), len(records), ErrInvalidInput)
	}

	l := s.lockFor(tenantID)
	l.Lock()
	defer l.Unlock()

	ix, sc, err := s.load(tenantID)
	if err != nil {
		return err
	}
	for i, v := range vectors {
		if len(v) != ix.dimension {
			return fmt.Errorf("vectorstore: vector %d has dimension %d, store has %d: %w",
				i, len(v), ix.dimension, ErrInvalidInput)
		}
	}

	next := ix.count()
	for i := range records {
		records[i].ID = next + i
	}
	ix.append(vectors)
	sc.Documents = append(sc.Documents, records...)
	sc.TotalDocuments = ix.count()

	if err := s.persist(s.tenantDir(tenantID), ix, sc); err != nil {
		return fmt.Errorf("vectorstore: add to tenant %s: %w", tenantID, err)
	}

	logging.FromContext(ctx).Debug("vectors added",
		slog.String("tenant_id", tenantID),
		slog.Int("batch", len(vectors)),
		slog.Int("total", ix.count()))
	return nil
}

// Search returns the k nearest stored chunks to the query vector by squared
// Euclidean distance, ascending, ranks starting at 1. k is clamped to the
// store size; an empty store yields an empty result set. The query must
// match the store dimension.
func (s *Store) Search(ctx context.Context, tenantID string, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectorstore: k must be positive, got %d: %w", k, ErrInvalidInput)
	}

	l := s.lockFor(tenantID)
	l.RLock()
	defer l.RUnlock()

	ix, sc, err := s.load(tenantID)
	if err != nil {
		return nil, err
	}
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("vectorstore: query dimension %d, store has %d: %w",
			len(query), ix.dimension, ErrInvalidInput)
	}
	if ix.count() == 0 {
		return []Result{}, nil
	}
	if k > ix.count() {
		k = ix.count()
	}

	type scored struct {
		id   int
		dist float32
	}
	all := make([]scored, ix.count())
	for i, v := range ix.vectors {
		all[i] = scored{id: i, dist: squaredL2(query, v)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].id < all[j].id
	})

	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{
			Rank:   i + 1,
			Score:  all[i].dist,
			Record: sc.Documents[all[i].id],
		}
	}

	logging.FromContext(ctx).Debug("search completed",
		slog.String("tenant_id", tenantID),
		slog.Int("k", k),
		slog.Int("store_size", ix.count()))
	return results, nil
}

// Delete removes a tenant's store directory and everything in it. Deleting
// a tenant that has no store returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	l := s.lockFor(tenantID)
	l.Lock()
	defer l.Unlock()

	dir := s.tenantDir(tenantID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("vectorstore: tenant %s: %w", tenantID, ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("vectorstore: delete tenant %s: %w", tenantID, err)
	}

	logging.FromContext(ctx).Debug("vector store deleted", slog.String("tenant_id", tenantID))
	return nil
}

// writeFileAtomic writes data to a temp file in the target's directory and
// renames it into place so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
