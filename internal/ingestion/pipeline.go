// Package ingestion implements the document ingestion pipeline. It walks a
// tenant's uploaded documents, extracts their text, chunks it, embeds each
// chunk, and appends the results to the tenant's vector store, driving the
// tenant and document status machines as it goes. The pipeline is invoked
// by the `docqa ingest` CLI command and the ingest HTTP endpoint.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/docqa-ai/docqa-go/internal/extract"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/metadata"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// ErrAlreadyRunning is returned when an ingestion run is requested for a
// tenant that already has one in flight.
var ErrAlreadyRunning = errors.New("ingestion: run already in progress")

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to DefaultChunkOverlap if zero.
	ChunkOverlap int
}

// Pipeline orchestrates the extract → chunk → embed → store flow for one
// tenant's documents. Safe for concurrent use; runs for the same tenant are
// rejected while one is in flight.
type Pipeline struct {
	meta      metadata.Store
	vectors   *vectorstore.Store
	embedder  rag.Embedder
	extractor extract.Extractor
	splitter  Splitter

	mu      sync.Mutex
	running map[string]bool
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(meta metadata.Store, vectors *vectorstore.Store, embedder rag.Embedder, extractor extract.Extractor, cfg *Config) (*Pipeline, error) {
	if meta == nil {
		return nil, fmt.Errorf("ingestion: metadata store must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingestion: vector store must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("ingestion: extractor must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	splitter := Splitter{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}

	return &Pipeline{
		meta:      meta,
		vectors:   vectors,
		embedder:  embedder,
		extractor: extractor,
		splitter:  splitter,
		running:   make(map[string]bool),
	}, nil
}

// acquire marks the tenant's run as in flight, or fails if one already is.
func (p *Pipeline) acquire(tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[tenantID] {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrAlreadyRunning)
	}
	p.running[tenantID] = true
	return nil
}

func (p *Pipeline) release(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, tenantID)
}

// Running reports whether the tenant has an ingestion run in flight.
func (p *Pipeline) Running(tenantID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[tenantID]
}

// Run ingests every pending document of the tenant. The tenant is moved to
// processing for the duration and lands in ready or error. Individual
// document failures are tolerated: the document is marked error and the run
// continues. A run that produces no chunks at all fails.
func (p *Pipeline) Run(ctx context.Context, tenantID string) error {
	if err := p.acquire(tenantID); err != nil {
		return err
	}
	defer p.release(tenantID)

	log := logging.FromContext(ctx).With(slog.String("tenant_id", tenantID))

	tenant, err := p.meta.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	if tenant.Status != metadata.TenantProcessing {
		if err := p.meta.SetTenantStatus(ctx, tenantID, metadata.TenantProcessing); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
	}

	if err := p.run(ctx, tenantID, log); err != nil {
		// Record the failure but never let the status bookkeeping mask the
		// original error. The cleanup context survives cancellation so the
		// repair happens even when the run itself was cancelled.
		cctx := context.WithoutCancel(ctx)
		p.releaseInFlight(cctx, tenantID, log)
		if serr := p.meta.SetTenantStatus(cctx, tenantID, metadata.TenantError); serr != nil {
			log.Error("failed to record error status", slog.String("error", serr.Error()))
		}
		return err
	}

	if err := p.meta.SetTenantStatus(ctx, tenantID, metadata.TenantReady); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	log.Info("ingestion completed")
	return nil
}

// run performs the actual work; the caller owns status bookkeeping.
func (p *Pipeline) run(ctx context.Context, tenantID string, log *slog.Logger) error {
	docs, err := p.meta.ListDocuments(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}

	var (
		texts   []string
		records []vectorstore.Record
		done    []string // document ids to mark completed after the store write
		failed  int
	)
	for _, doc := range docs {
		// Only uploaded documents are eligible; document transitions are
		// one-directional and errored documents re-enter the pipeline only
		// through the explicit rebuild reset.
		if doc.Status != metadata.DocUploaded {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
		if err := p.meta.SetDocumentStatus(ctx, doc.ID, metadata.DocProcessing); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}

		chunks, err := p.prepare(ctx, doc)
		if err != nil {
			log.Warn("document failed",
				slog.String("document_id", doc.ID),
				slog.String("filename", doc.Filename),
				slog.String("error", err.Error()))
			if serr := p.meta.SetDocumentStatus(ctx, doc.ID, metadata.DocError); serr != nil {
				return fmt.Errorf("ingestion: %w", serr)
			}
			failed++
			continue
		}

		for i, chunk := range chunks {
			texts = append(texts, chunk)
			records = append(records, vectorstore.Record{
				Text:        chunk,
				DocumentID:  doc.ID,
				Filename:    doc.Filename,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
			})
		}
		done = append(done, doc.ID)
	}

	if len(texts) == 0 {
		return fmt.Errorf("ingestion: tenant %s: no chunks produced (%d documents failed)", tenantID, failed)
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("ingestion: embedding failed: %w", err)
	}

	exists, err := p.vectors.Exists(tenantID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	if !exists {
		if err := p.vectors.Create(ctx, tenantID, p.embedder.Dimensions()); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
	}
	if err := p.vectors.Add(ctx, tenantID, vectors, records); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}

	for _, id := range done {
		if err := p.meta.SetDocumentStatus(ctx, id, metadata.DocCompleted); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
	}

	log.Info("documents ingested",
		slog.Int("documents", len(done)),
		slog.Int("failed", failed),
		slog.Int("chunks", len(texts)))
	return nil
}

// releaseInFlight returns documents stuck in processing to uploaded so the
// next run can pick them up again. Called on a run's failure path; errors are
// logged rather than returned so they never mask the run's own error.
func (p *Pipeline) releaseInFlight(ctx context.Context, tenantID string, log *slog.Logger) {
	docs, err := p.meta.ListDocuments(ctx, tenantID)
	if err != nil {
		log.Error("failed to list documents for release", slog.String("error", err.Error()))
		return
	}
	for _, doc := range docs {
		if doc.Status != metadata.DocProcessing {
			continue
		}
		if err := p.meta.SetDocumentStatus(ctx, doc.ID, metadata.DocUploaded); err != nil {
			log.Error("failed to release in-flight document",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()))
		}
	}
}

// prepare extracts and chunks a single document.
func (p *Pipeline) prepare(ctx context.Context, doc metadata.Document) ([]string, error) {
	text, err := p.extractor.Text(ctx, doc.FilePath, doc.FileType)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", doc.Filename, err)
	}
	chunks := p.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s produced no chunks", doc.Filename)
	}
	return chunks, nil
}

// RemoveDocument deletes one document and rebuilds the tenant's store from
// the remaining ones. The flat index has no per-chunk deletion, so the whole
// store is discarded and re-ingested. When the last document goes, the
// tenant returns to creating with no store at all.
func (p *Pipeline) RemoveDocument(ctx context.Context, tenantID, docID string) error {
	log := logging.FromContext(ctx).With(
		slog.String("tenant_id", tenantID),
		slog.String("document_id", docID))

	doc, err := p.meta.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	if doc.TenantID != tenantID {
		return fmt.Errorf("ingestion: document %s: %w", docID, metadata.ErrNotFound)
	}

	if err := p.meta.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	// The stored file is already unreferenced; removal failure is not fatal.
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			log.Warn("could not remove stored file",
				slog.String("path", doc.FilePath),
				slog.String("error", err.Error()))
		}
	}

	if err := p.vectors.Delete(ctx, tenantID); err != nil && !errors.Is(err, vectorstore.ErrNotFound) {
		return fmt.Errorf("ingestion: %w", err)
	}

	remaining, err := p.meta.ListDocuments(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	if len(remaining) == 0 {
		if err := p.meta.SetTenantStatus(ctx, tenantID, metadata.TenantCreating); err != nil {
			return fmt.Errorf("ingestion: %w", err)
		}
		log.Info("last document removed, tenant reset")
		return nil
	}

	if err := p.meta.ResetDocuments(ctx, tenantID); err != nil {
		return fmt.Errorf("ingestion: %w", err)
	}
	log.Info("document removed, rebuilding store",
		slog.Int("remaining", len(remaining)))
	return p.Run(ctx, tenantID)
}
