// Package server — documents.go contains the document upload, deletion, and
// ingestion HTTP handlers.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docqa-ai/docqa-go/internal/extract"
	"github.com/docqa-ai/docqa-go/internal/ingestion"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/metadata"
)

// multipartMemoryLimit is the in-memory buffer threshold for multipart
// parsing; larger parts spill to temporary files.
const multipartMemoryLimit = 32 << 20

// handleDocumentUpload handles POST /api/tenants/{id}/documents.
// Files arrive as multipart/form-data under the "files" field. Each file is
// validated for type and size, stored under a fresh UUID, and recorded in the
// uploaded state. Per-file failures are reported alongside successes; the
// request fails outright only when no file could be stored.
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	log := logging.FromContext(r.Context())

	if _, err := s.meta.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			writeJSONError(w, "tenant not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "failed to load tenant", http.StatusInternalServerError)
		return
	}

	// Bound the whole request body: per-file size plus form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*int64(s.cfg.MaxDocuments)+(1<<20))

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeJSONError(w, "invalid multipart request: "+err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSONError(w, "no files provided — use the 'files' field", http.StatusBadRequest)
		return
	}

	existing, err := s.meta.ListDocuments(r.Context(), tenantID)
	if err != nil {
		writeJSONError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if len(existing)+len(files) > s.cfg.MaxDocuments {
		writeJSONError(w, fmt.Sprintf("upload would exceed the maximum of %d documents per tenant", s.cfg.MaxDocuments), http.StatusBadRequest)
		return
	}

	resp := uploadResponse{UploadedFiles: []uploadedFile{}}
	for _, fh := range files {
		name := filepath.Base(fh.Filename)

		fileType := extract.TypeFromFilename(name)
		if fileType == "" || !extract.Supported(fileType) {
			resp.Errors = append(resp.Errors, uploadError{
				Filename: name,
				Error:    "unsupported file type — allowed: " + strings.Join(extract.SupportedTypes(), ", "),
			})
			continue
		}
		if fh.Size > s.cfg.MaxUploadBytes {
			resp.Errors = append(resp.Errors, uploadError{
				Filename: name,
				Error:    fmt.Sprintf("file exceeds the maximum size of %d MB", s.cfg.MaxUploadBytes>>20),
			})
			continue
		}

		docID := uuid.NewString()
		storedPath, err := s.storeUpload(tenantID, docID, fileType, fh)
		if err != nil {
			log.Error("upload store failed",
				slog.String("tenant_id", tenantID),
				slog.String("filename", name),
				slog.Any("error", err),
			)
			resp.Errors = append(resp.Errors, uploadError{Filename: name, Error: "failed to store file"})
			continue
		}

		doc := metadata.Document{
			ID:         docID,
			TenantID:   tenantID,
			Filename:   name,
			FileType:   fileType,
			FileSize:   fh.Size,
			FilePath:   storedPath,
			Status:     metadata.DocUploaded,
			UploadedAt: time.Now().UTC(),
		}
		if err := s.meta.AddDocument(r.Context(), doc); err != nil {
			_ = os.Remove(storedPath)
			log.Error("upload record failed",
				slog.String("tenant_id", tenantID),
				slog.String("filename", name),
				slog.Any("error", err),
			)
			resp.Errors = append(resp.Errors, uploadError{Filename: name, Error: "failed to record document"})
			continue
		}

		s.metrics.documentsUploadedTotal.Inc()
		resp.UploadedFiles = append(resp.UploadedFiles, uploadedFile{
			DocumentID: docID,
			Filename:   name,
			FileType:   fileType,
			FileSize:   fh.Size,
		})
	}

	resp.Success = len(resp.UploadedFiles) > 0
	if !resp.Success {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	log.Info("documents uploaded",
		slog.String("tenant_id", tenantID),
		slog.Int("stored", len(resp.UploadedFiles)),
		slog.Int("rejected", len(resp.Errors)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// storeUpload copies one multipart file into the tenant's upload directory
// under its document id, returning the stored path.
func (s *Server) storeUpload(tenantID, docID, fileType string, fh *multipart.FileHeader) (string, error) {
	dir := filepath.Join(s.cfg.UploadsDir, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("server: create upload dir: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("server: open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(dir, docID+"."+fileType)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("server: create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("server: write %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("server: close %s: %w", path, err)
	}
	return path, nil
}

// handleDocumentDelete handles DELETE /api/tenants/{id}/documents/{docID}.
// Removal discards the vector store and rebuilds it from the remaining
// documents, so the knowledge base never serves stale chunks.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	docID := r.PathValue("docID")
	log := logging.FromContext(r.Context())

	err := s.pipeline.RemoveDocument(r.Context(), tenantID, docID)
	switch {
	case err == nil:
		log.Info("document removed",
			slog.String("tenant_id", tenantID),
			slog.String("document_id", docID),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "document deleted and knowledge base rebuilt",
		})
	case errors.Is(err, metadata.ErrNotFound):
		writeJSONError(w, "document not found", http.StatusNotFound)
	case errors.Is(err, ingestion.ErrAlreadyRunning):
		writeJSONError(w, "an ingestion run is already in progress", http.StatusConflict)
	default:
		log.Error("document delete failed",
			slog.String("tenant_id", tenantID),
			slog.String("document_id", docID),
			slog.Any("error", err),
		)
		writeJSONError(w, "failed to delete document", http.StatusInternalServerError)
	}
}

// handleIngest handles POST /api/tenants/{id}/ingest.
// The run is synchronous: the response reports the tenant's final state.
// A concurrent run for the same tenant yields 409.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	log := logging.FromContext(r.Context())
	start := time.Now()

	err := s.pipeline.Run(r.Context(), tenantID)
	switch {
	case err == nil:
		s.metrics.ingestRunsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ingestion.ErrAlreadyRunning):
		s.metrics.ingestRunsTotal.WithLabelValues("conflict").Inc()
		writeJSONError(w, "an ingestion run is already in progress", http.StatusConflict)
		return
	case errors.Is(err, metadata.ErrNotFound):
		writeJSONError(w, "tenant not found", http.StatusNotFound)
		return
	default:
		s.metrics.ingestRunsTotal.WithLabelValues("error").Inc()
		log.Error("ingestion failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		writeJSONError(w, "ingestion failed", http.StatusInternalServerError)
		return
	}

	tenant, err := s.meta.GetTenant(r.Context(), tenantID)
	if err != nil {
		writeJSONError(w, "failed to load tenant", http.StatusInternalServerError)
		return
	}

	log.Info("ingestion complete",
		slog.String("tenant_id", tenantID),
		slog.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":     tenantID,
		"tenant_status": string(tenant.Status),
	})
}
