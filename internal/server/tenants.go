// Package server — tenants.go contains the tenant management HTTP handlers.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/metadata"
	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// defaultChatModel is used when a tenant is created without an explicit model.
const defaultChatModel = "gemini-2.5-flash"

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("server: encode response", slog.Any("error", err))
	}
}

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// toTenantResponse converts a metadata.Tenant to its JSON representation.
func toTenantResponse(t metadata.Tenant) tenantResponse {
	return tenantResponse{
		ID:           t.ID,
		Name:         t.Name,
		SystemPrompt: t.SystemPrompt,
		Model:        t.Model,
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// handleTenantCreate handles POST /api/tenants.
// The tenant starts in the creating state with no vector store; documents are
// uploaded and ingested in separate calls.
func (s *Server) handleTenantCreate(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.Name)
	systemPrompt := strings.TrimSpace(req.SystemPrompt)
	model := strings.TrimSpace(req.Model)
	if name == "" {
		writeJSONError(w, "name is required and cannot be empty", http.StatusBadRequest)
		return
	}
	if systemPrompt == "" {
		writeJSONError(w, "system_prompt is required and cannot be empty", http.StatusBadRequest)
		return
	}
	if model == "" {
		model = defaultChatModel
	}

	tenant := metadata.Tenant{
		ID:           uuid.NewString(),
		Name:         name,
		SystemPrompt: systemPrompt,
		Model:        model,
		Status:       metadata.TenantCreating,
	}
	if err := s.meta.CreateTenant(r.Context(), tenant); err != nil {
		logging.FromContext(r.Context()).Error("tenant create failed", slog.Any("error", err))
		writeJSONError(w, "failed to create tenant", http.StatusInternalServerError)
		return
	}

	// Re-read so the response carries the stored timestamps.
	created, err := s.meta.GetTenant(r.Context(), tenant.ID)
	if err != nil {
		created = tenant
	}

	logging.FromContext(r.Context()).Info("tenant created",
		slog.String("tenant_id", tenant.ID),
		slog.String("model", model),
	)
	writeJSON(w, http.StatusCreated, toTenantResponse(created))
}

// handleTenantList handles GET /api/tenants.
func (s *Server) handleTenantList(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.meta.ListTenants(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("tenant list failed", slog.Any("error", err))
		writeJSONError(w, "failed to list tenants", http.StatusInternalServerError)
		return
	}

	out := make([]tenantResponse, len(tenants))
	for i, t := range tenants {
		out[i] = toTenantResponse(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenants": out,
		"count":   len(out),
	})
}

// handleTenantStatus handles GET /api/tenants/{id}/status.
// It reports the tenant's overall state plus the per-document lifecycle state,
// which the UI polls while an ingestion run is in flight.
func (s *Server) handleTenantStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")

	tenant, err := s.meta.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			writeJSONError(w, "tenant not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "failed to load tenant", http.StatusInternalServerError)
		return
	}

	docs, err := s.meta.ListDocuments(r.Context(), tenantID)
	if err != nil {
		writeJSONError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		TenantID:     tenantID,
		TenantStatus: string(tenant.Status),
		Documents:    []documentStatus{},
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, documentStatus{
			ID:         d.ID,
			Filename:   d.Filename,
			FileType:   d.FileType,
			FileSize:   d.FileSize,
			Status:     string(d.Status),
			UploadedAt: d.UploadedAt,
		})
	}
	resp.TotalDocuments = len(resp.Documents)

	writeJSON(w, http.StatusOK, resp)
}

// handleTenantDelete handles DELETE /api/tenants/{id}.
// Deletion cascades: document rows go with the tenant row (FK), the vector
// store artifacts are removed, and stored upload files are cleaned up.
// A missing vector store is not an error — the tenant may never have ingested.
func (s *Server) handleTenantDelete(w http.ResponseWriter, r *http.Request) {
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

	if err := s.meta.DeleteTenant(r.Context(), tenantID); err != nil {
		log.Error("tenant delete failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		writeJSONError(w, "failed to delete tenant", http.StatusInternalServerError)
		return
	}

	if err := s.vectors.Delete(r.Context(), tenantID); err != nil && !errors.Is(err, vectorstore.ErrNotFound) {
		log.Warn("vector store cleanup failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
	}

	if s.cfg.UploadsDir != "" {
		if err := os.RemoveAll(filepath.Join(s.cfg.UploadsDir, tenantID)); err != nil {
			log.Warn("uploads cleanup failed",
				slog.String("tenant_id", tenantID),
				slog.Any("error", err),
			)
		}
	}

	if s.history != nil {
		if err := s.history.Purge(r.Context(), tenantID); err != nil {
			log.Warn("history cleanup failed",
				slog.String("tenant_id", tenantID),
				slog.Any("error", err),
			)
		}
	}

	log.Info("tenant deleted", slog.String("tenant_id", tenantID))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "tenant deleted",
	})
}
