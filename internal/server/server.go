// Package server implements the HTTP server that exposes the document QA
// platform via a REST API: tenant management, document upload, ingestion,
// and retrieval-grounded chat.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docqa-ai/docqa-go/internal/budget"
	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/metadata"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// defaultMaxUploadBytes caps a single uploaded file at 50 MiB.
const defaultMaxUploadBytes = 50 << 20

// defaultMaxDocuments caps a tenant at 10 documents.
const defaultMaxDocuments = 10

// historyWindow is the maximum number of stored turns injected into a chat
// request when the client supplies no history of its own.
const historyWindow = 20

// New constructs a Server from its collaborators and config.
func New(meta metadata.Store, vectors *vectorstore.Store, pipeline ingester, ans answerer, cfg *Config) (*Server, error) {
	if meta == nil {
		return nil, fmt.Errorf("server: metadata store must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("server: vector store must not be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if ans == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full synchronous ingestion run.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MaxDocuments == 0 {
		cfg.MaxDocuments = defaultMaxDocuments
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		meta:     meta,
		vectors:  vectors,
		pipeline: pipeline,
		answerer: ans,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		history:  cfg.History,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: no API key configured — authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	protect := func(name string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/tenants", protect("tenant_create", s.handleTenantCreate))
	mux.Handle("GET /api/tenants", protect("tenant_list", s.handleTenantList))
	mux.Handle("GET /api/tenants/{id}/status", protect("tenant_status", s.handleTenantStatus))
	mux.Handle("DELETE /api/tenants/{id}", protect("tenant_delete", s.handleTenantDelete))
	mux.Handle("POST /api/tenants/{id}/documents", protect("document_upload", s.handleDocumentUpload))
	mux.Handle("DELETE /api/tenants/{id}/documents/{docID}", protect("document_delete", s.handleDocumentDelete))
	mux.Handle("POST /api/tenants/{id}/ingest", protect("ingest", s.handleIngest))
	mux.Handle("POST /api/tenants/{id}/chat", protect("chat", s.handleChat))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/tenants/{id}/chat. It answers the question
// against the tenant's knowledge base and returns the answer with its
// grounding sources.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	start := time.Now()

	var req chatRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	hist := req.History
	if len(hist) == 0 && s.history != nil {
		stored, err := s.history.Recent(r.Context(), tenantID, historyWindow)
		if err != nil {
			// A broken history store must not block answering.
			s.log.Warn("server: could not load chat history",
				slog.String("tenant_id", tenantID),
				slog.Any("error", err),
			)
		} else {
			hist = stored
		}
	}
	hist = budget.TrimHistory(req.Question, hist, budget.DefaultMaxContextTokens)

	answer, err := s.answerer.Answer(r.Context(), tenantID, req.Question, hist, req.TopK)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, metadata.ErrNotFound):
			outcome = "not_found"
			writeJSONError(w, "tenant not found", http.StatusNotFound)
		case errors.Is(err, rag.ErrTenantNotReady):
			outcome = "conflict"
			writeJSONError(w, "tenant is not ready — ingest documents first", http.StatusConflict)
		case errors.Is(err, vectorstore.ErrInvalidInput):
			outcome = "invalid"
			writeJSONError(w, "question is required and cannot be empty", http.StatusBadRequest)
		default:
			logging.FromContext(r.Context()).Error("chat failed",
				slog.String("tenant_id", tenantID),
				slog.Any("error", err),
			)
			writeJSONError(w, "failed to answer question", http.StatusInternalServerError)
		}
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		return
	}

	if s.history != nil {
		// Best-effort: the answer is already computed, so a write failure is
		// logged rather than surfaced.
		if err := s.history.Append(r.Context(), tenantID, rag.RoleUser, req.Question); err != nil {
			s.log.Warn("server: could not persist user turn", slog.Any("error", err))
		} else if err := s.history.Append(r.Context(), tenantID, rag.RoleAssistant, answer.Text); err != nil {
			s.log.Warn("server: could not persist assistant turn", slog.Any("error", err))
		}
	}

	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.chatDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, TenantID: tenantID})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
