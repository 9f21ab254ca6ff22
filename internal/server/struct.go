package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa-ai/docqa-go/internal/history"
	"github.com/docqa-ai/docqa-go/internal/metadata"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Ingestion runs synchronously inside the request, so this must be
	// generous enough for a full rebuild.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// UploadsDir is the directory where uploaded document files are stored,
	// one subdirectory per tenant.
	UploadsDir string
	// MaxUploadBytes caps the size of a single uploaded file.
	// Defaults to 50 MiB if zero.
	MaxUploadBytes int64
	// MaxDocuments caps the number of documents a tenant may hold.
	// Defaults to 10 if zero.
	MaxDocuments int
	// MetricsRegistry receives all Prometheus metric registrations.
	// Defaults to prometheus.DefaultRegisterer; tests inject a fresh registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint.
	// Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// History persists conversation turns per tenant. When set, chat requests
	// that carry no explicit chat_history fall back to the stored thread, and
	// each answered exchange is appended to it. Optional.
	History history.Store
}

// ingester is the interface the document and ingest handlers call to run the
// pipeline. *ingestion.Pipeline satisfies it; tests inject a fake.
type ingester interface {
	// Run builds or rebuilds the tenant's knowledge base.
	Run(ctx context.Context, tenantID string) error
	// RemoveDocument deletes one document and rebuilds the store from the rest.
	RemoveDocument(ctx context.Context, tenantID, docID string) error
}

// answerer is the interface handleChat calls to answer a question.
// *rag.Answerer satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, tenantID, question string, history []rag.HistoryTurn, k int) (rag.Answer, error)
}

// Server is the HTTP server that exposes tenant, document, and chat APIs.
type Server struct {
	// meta is the relational store for tenants and documents.
	meta metadata.Store
	// vectors is the on-disk vector store, used for cascade deletion.
	vectors *vectorstore.Store
	// pipeline runs ingestion and document removal.
	pipeline ingester
	// answerer handles chat questions.
	answerer answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// history is the optional per-tenant conversation store. May be nil.
	history history.Store
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds all Prometheus metrics owned by this server instance.
	metrics *serverMetrics
}

// createTenantRequest is the JSON body for POST /api/tenants.
type createTenantRequest struct {
	// Name is the display name of the tenant.
	Name string `json:"name"`
	// SystemPrompt steers the assistant's behaviour for this tenant.
	SystemPrompt string `json:"system_prompt"`
	// Model is the chat model to use. Optional; defaults to gemini-2.5-flash.
	Model string `json:"model"`
}

// tenantResponse is the JSON representation of a tenant.
type tenantResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	Model        string    `json:"model"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// documentStatus is one document entry in the status report.
type documentStatus struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// statusResponse is the JSON response for GET /api/tenants/{id}/status.
type statusResponse struct {
	TenantID       string           `json:"tenant_id"`
	TenantStatus   string           `json:"tenant_status"`
	TotalDocuments int              `json:"total_documents"`
	Documents      []documentStatus `json:"documents"`
}

// uploadedFile describes one successfully stored upload.
type uploadedFile struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	FileSize   int64  `json:"file_size"`
}

// uploadError describes one rejected upload.
type uploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// uploadResponse is the JSON response for POST /api/tenants/{id}/documents.
type uploadResponse struct {
	// Success is true when at least one file was stored.
	Success       bool           `json:"success"`
	UploadedFiles []uploadedFile `json:"uploaded_files"`
	Errors        []uploadError  `json:"errors,omitempty"`
}

// chatRequest is the JSON body for POST /api/tenants/{id}/chat.
type chatRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// History is the optional prior conversation, oldest turn first.
	History []rag.HistoryTurn `json:"chat_history,omitempty"`
	// TopK overrides the number of chunks retrieved. Optional.
	TopK int `json:"top_k,omitempty"`
}

// chatResponse is the JSON response for POST /api/tenants/{id}/chat.
// It embeds the answer ("response" + "sources") and echoes the tenant id.
type chatResponse struct {
	rag.Answer
	TenantID string `json:"tenant_id"`
}
