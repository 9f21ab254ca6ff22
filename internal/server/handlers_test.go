package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docqa-ai/docqa-go/internal/history"
	"github.com/docqa-ai/docqa-go/internal/ingestion"
	"github.com/docqa-ai/docqa-go/internal/metadata"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// fakeIngester is a test double for the ingester interface.
type fakeIngester struct {
	// runErr is returned by Run.
	runErr error
	// removeErr is returned by RemoveDocument.
	removeErr error
	// ranFor records the tenant ids passed to Run.
	ranFor []string
	// removed records "tenantID/docID" pairs passed to RemoveDocument.
	removed []string
	// onRun, if set, is called with the tenant id before returning runErr.
	onRun func(tenantID string)
}

func (f *fakeIngester) Run(_ context.Context, tenantID string) error {
	f.ranFor = append(f.ranFor, tenantID)
	if f.onRun != nil {
		f.onRun(tenantID)
	}
	return f.runErr
}

func (f *fakeIngester) RemoveDocument(_ context.Context, tenantID, docID string) error {
	f.removed = append(f.removed, tenantID+"/"+docID)
	return f.removeErr
}

// fakeAnswerer is a test double for the answerer interface.
type fakeAnswerer struct {
	answer rag.Answer
	err    error
	// gotQuestion records the last question asked.
	gotQuestion string
	// gotHistory records the history passed with the last question.
	gotHistory []rag.HistoryTurn
	// gotK records the last top-k value.
	gotK int
}

func (f *fakeAnswerer) Answer(_ context.Context, _, question string, history []rag.HistoryTurn, k int) (rag.Answer, error) {
	f.gotQuestion = question
	f.gotHistory = history
	f.gotK = k
	if f.err != nil {
		return rag.Answer{}, f.err
	}
	return f.answer, nil
}

// serverFixture bundles a Server with its real in-memory metadata store and
// on-disk vector store plus the injected fakes.
type serverFixture struct {
	server   *Server
	meta     *metadata.SQLiteStore
	vectors  *vectorstore.Store
	ingester *fakeIngester
	answerer *fakeAnswerer
}

// newServerFixture builds a Server backed by an in-memory metadata store,
// a t.TempDir vector store, and fake pipeline/answerer collaborators.
func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	meta, err := metadata.Open(":memory:")
	if err != nil {
		t.Fatalf("open metadata: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	vectors, err := vectorstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("open vectorstore: %v", err)
	}

	ing := &fakeIngester{}
	ans := &fakeAnswerer{}

	reg := prometheus.NewRegistry()
	s, err := New(meta, vectors, ing, ans, &Config{
		UploadsDir:      t.TempDir(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	return &serverFixture{server: s, meta: meta, vectors: vectors, ingester: ing, answerer: ans}
}

// newTestServer returns a bare Server suitable for handlers that touch no
// collaborators (health, ready).
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		cfg:     &Config{},
		metrics: newServerMetrics(reg),
	}
}

// seedTenant inserts a tenant with the given status.
func (fx *serverFixture) seedTenant(t *testing.T, id string, status metadata.TenantStatus) {
	t.Helper()
	err := fx.meta.CreateTenant(context.Background(), metadata.Tenant{
		ID:           id,
		Name:         "Support Bot",
		SystemPrompt: "You are a helpful support assistant.",
		Model:        "gemini-2.5-flash",
		Status:       status,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
}

// seedDocument inserts an uploaded document row.
func (fx *serverFixture) seedDocument(t *testing.T, tenantID, docID string) {
	t.Helper()
	err := fx.meta.AddDocument(context.Background(), metadata.Document{
		ID:         docID,
		TenantID:   tenantID,
		Filename:   docID + ".txt",
		FileType:   "txt",
		FileSize:   42,
		FilePath:   filepath.Join(fx.server.cfg.UploadsDir, tenantID, docID+".txt"),
		Status:     metadata.DocUploaded,
		UploadedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

// multipartBody builds a multipart/form-data body with the given filename and
// content under the "files" field.
func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// ---------------------------------------------------------------------------
// POST /api/tenants
// ---------------------------------------------------------------------------

func TestHandleTenantCreate_OK(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	body := `{"name":"Support Bot","system_prompt":"Be helpful.","model":"llama3"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	fx.server.handleTenantCreate(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp tenantResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" {
		t.Error("expected a generated tenant id")
	}
	if resp.Status != string(metadata.TenantCreating) {
		t.Errorf("status: expected creating, got %q", resp.Status)
	}
	if resp.Model != "llama3" {
		t.Errorf("model: expected llama3, got %q", resp.Model)
	}

	stored, err := fx.meta.GetTenant(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("tenant not persisted: %v", err)
	}
	if stored.Name != "Support Bot" {
		t.Errorf("persisted name: got %q", stored.Name)
	}
}

func TestHandleTenantCreate_DefaultsModel(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	body := `{"name":"Bot","system_prompt":"Be terse."}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	fx.server.handleTenantCreate(w, req)

	var resp tenantResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Model != defaultChatModel {
		t.Errorf("model: expected default %q, got %q", defaultChatModel, resp.Model)
	}
}

func TestHandleTenantCreate_Validation(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"system_prompt":"x"}`},
		{"blank name", `{"name":"   ","system_prompt":"x"}`},
		{"missing prompt", `{"name":"bot"}`},
		{"bad json", `{nope`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/tenants", bytes.NewBufferString(tc.body))
		w := httptest.NewRecorder()
		fx.server.handleTenantCreate(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// GET /api/tenants and GET /api/tenants/{id}/status
// ---------------------------------------------------------------------------

func TestHandleTenantList(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantCreating)
	fx.seedTenant(t, "t2", metadata.TenantReady)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	w := httptest.NewRecorder()
	fx.server.handleTenantList(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Tenants []tenantResponse `json:"tenants"`
		Count   int              `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Tenants) != 2 {
		t.Errorf("expected 2 tenants, got count=%d len=%d", resp.Count, len(resp.Tenants))
	}
}

func TestHandleTenantStatus_OK(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantReady)
	fx.seedDocument(t, "t1", "d1")
	fx.seedDocument(t, "t1", "d2")

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/t1/status", nil)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleTenantStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TenantStatus != "ready" {
		t.Errorf("tenant_status: expected ready, got %q", resp.TenantStatus)
	}
	if resp.TotalDocuments != 2 || len(resp.Documents) != 2 {
		t.Errorf("expected 2 documents, got total=%d len=%d", resp.TotalDocuments, len(resp.Documents))
	}
	for _, d := range resp.Documents {
		if d.Status != "uploaded" {
			t.Errorf("document %s: expected uploaded, got %q", d.ID, d.Status)
		}
	}
}

func TestHandleTenantStatus_NotFound(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/ghost/status", nil)
	req.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()
	fx.server.handleTenantStatus(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// DELETE /api/tenants/{id}
// ---------------------------------------------------------------------------

func TestHandleTenantDelete_Cascades(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantReady)
	fx.seedDocument(t, "t1", "d1")

	ctx := context.Background()
	if err := fx.vectors.Create(ctx, "t1", 3); err != nil {
		t.Fatalf("create store: %v", err)
	}
	uploadDir := filepath.Join(fx.server.cfg.UploadsDir, "t1")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(uploadDir, "d1.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/t1", nil)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleTenantDelete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if _, err := fx.meta.GetTenant(ctx, "t1"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("tenant row: expected ErrNotFound, got %v", err)
	}
	if docs, _ := fx.meta.ListDocuments(ctx, "t1"); len(docs) != 0 {
		t.Errorf("expected document rows cascaded, got %d", len(docs))
	}
	if exists, _ := fx.vectors.Exists("t1"); exists {
		t.Error("expected vector store removed")
	}
	if _, err := os.Stat(uploadDir); !os.IsNotExist(err) {
		t.Error("expected uploads directory removed")
	}
}

func TestHandleTenantDelete_NoStoreIsFine(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantCreating)

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/t1", nil)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleTenantDelete(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when no vector store exists, got %d", w.Code)
	}
}

func TestHandleTenantDelete_NotFound(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/ghost", nil)
	req.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()
	fx.server.handleTenantDelete(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/tenants/{id}/documents
// ---------------------------------------------------------------------------

func TestHandleDocumentUpload_OK(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantCreating)

	body, contentType := multipartBody(t, map[string]string{
		"guide.txt": "refunds are processed within 14 days",
		"faq.md":    "## Shipping\nOrders ship within 2 days.",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleDocumentUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp uploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.UploadedFiles) != 2 {
		t.Fatalf("expected 2 uploads, got success=%v len=%d", resp.Success, len(resp.UploadedFiles))
	}

	docs, err := fx.meta.ListDocuments(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 document rows, got %d", len(docs))
	}
	for _, d := range docs {
		if d.Status != metadata.DocUploaded {
			t.Errorf("document %s: expected uploaded, got %s", d.ID, d.Status)
		}
		if _, err := os.Stat(d.FilePath); err != nil {
			t.Errorf("document %s: stored file missing: %v", d.ID, err)
		}
	}
}

func TestHandleDocumentUpload_RejectsUnsupportedType(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantCreating)

	body, contentType := multipartBody(t, map[string]string{
		"malware.exe": "not a document",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleDocumentUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when no file is accepted, got %d", w.Code)
	}
	var resp uploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || len(resp.Errors) != 1 {
		t.Errorf("expected one rejection, got success=%v errors=%d", resp.Success, len(resp.Errors))
	}
}

func TestHandleDocumentUpload_PartialSuccess(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantCreating)

	body, contentType := multipartBody(t, map[string]string{
		"good.txt": "useful content",
		"bad.xyz":  "rejected content",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleDocumentUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on partial success, got %d", w.Code)
	}
	var resp uploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.UploadedFiles) != 1 || len(resp.Errors) != 1 {
		t.Errorf("expected 1 upload + 1 error, got %d/%d", len(resp.UploadedFiles), len(resp.Errors))
	}
}

func TestHandleDocumentUpload_EnforcesDocumentCap(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantCreating)
	for i := range fx.server.cfg.MaxDocuments {
		fx.seedDocument(t, "t1", fmt.Sprintf("d%d", i))
	}

	body, contentType := multipartBody(t, map[string]string{"one-more.txt": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleDocumentUpload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when cap exceeded, got %d", w.Code)
	}
}

func TestHandleDocumentUpload_TenantNotFound(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	body, contentType := multipartBody(t, map[string]string{"a.txt": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/ghost/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()
	fx.server.handleDocumentUpload(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// DELETE /api/tenants/{id}/documents/{docID}
// ---------------------------------------------------------------------------

func TestHandleDocumentDelete_OK(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/t1/documents/d1", nil)
	req.SetPathValue("id", "t1")
	req.SetPathValue("docID", "d1")
	w := httptest.NewRecorder()
	fx.server.handleDocumentDelete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fx.ingester.removed) != 1 || fx.ingester.removed[0] != "t1/d1" {
		t.Errorf("expected RemoveDocument(t1, d1), got %v", fx.ingester.removed)
	}
}

func TestHandleDocumentDelete_NotFound(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.ingester.removeErr = fmt.Errorf("wrap: %w", metadata.ErrNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/t1/documents/ghost", nil)
	req.SetPathValue("id", "t1")
	req.SetPathValue("docID", "ghost")
	w := httptest.NewRecorder()
	fx.server.handleDocumentDelete(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleDocumentDelete_Conflict(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.ingester.removeErr = ingestion.ErrAlreadyRunning

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/t1/documents/d1", nil)
	req.SetPathValue("id", "t1")
	req.SetPathValue("docID", "d1")
	w := httptest.NewRecorder()
	fx.server.handleDocumentDelete(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/tenants/{id}/ingest
// ---------------------------------------------------------------------------

func TestHandleIngest_OK(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.seedTenant(t, "t1", metadata.TenantCreating)
	fx.ingester.onRun = func(id string) {
		// Simulate the pipeline driving the tenant to ready.
		if err := fx.meta.SetTenantStatus(context.Background(), id, metadata.TenantProcessing); err != nil {
			t.Errorf("set processing: %v", err)
		}
		if err := fx.meta.SetTenantStatus(context.Background(), id, metadata.TenantReady); err != nil {
			t.Errorf("set ready: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/ingest", nil)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleIngest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["tenant_status"] != "ready" {
		t.Errorf("tenant_status: expected ready, got %q", resp["tenant_status"])
	}
	if len(fx.ingester.ranFor) != 1 || fx.ingester.ranFor[0] != "t1" {
		t.Errorf("expected Run(t1), got %v", fx.ingester.ranFor)
	}
}

func TestHandleIngest_Conflict(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.ingester.runErr = ingestion.ErrAlreadyRunning

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/ingest", nil)
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleIngest(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestHandleIngest_TenantNotFound(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.ingester.runErr = fmt.Errorf("wrap: %w", metadata.ErrNotFound)

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/ghost/ingest", nil)
	req.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()
	fx.server.handleIngest(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/tenants/{id}/chat
// ---------------------------------------------------------------------------

func TestHandleChat_OK(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.answerer.answer = rag.Answer{
		Text: "Refunds take 14 days.",
		Sources: []rag.Source{
			{Filename: "guide.txt", ChunkIndex: 0, Score: 0.12},
		},
	}

	body := `{"question":"How long do refunds take?","chat_history":[{"role":"user","content":"Hi"}],"top_k":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/chat", bytes.NewBufferString(body))
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Response string       `json:"response"`
		Sources  []rag.Source `json:"sources"`
		TenantID string       `json:"tenant_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "Refunds take 14 days." {
		t.Errorf("response: got %q", resp.Response)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Filename != "guide.txt" {
		t.Errorf("sources: got %+v", resp.Sources)
	}
	if resp.TenantID != "t1" {
		t.Errorf("tenant_id: got %q", resp.TenantID)
	}
	if fx.answerer.gotK != 2 {
		t.Errorf("top_k: expected 2 forwarded, got %d", fx.answerer.gotK)
	}
}

func TestHandleChat_HistoryFallback(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.answerer.answer = rag.Answer{Text: "It ships in 3 days."}

	h, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	fx.server.history = h

	ctx := context.Background()
	if err := h.Append(ctx, "t1", rag.RoleUser, "Do you ship abroad?"); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	if err := h.Append(ctx, "t1", rag.RoleAssistant, "Yes, worldwide."); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	body := `{"question":"How fast?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/chat", bytes.NewBufferString(body))
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(fx.answerer.gotHistory) != 2 {
		t.Fatalf("expected 2 stored turns injected, got %d", len(fx.answerer.gotHistory))
	}
	if fx.answerer.gotHistory[0].Content != "Do you ship abroad?" {
		t.Errorf("oldest turn first: got %q", fx.answerer.gotHistory[0].Content)
	}

	// The exchange itself is persisted after a successful answer.
	turns, err := h.Recent(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns after exchange, got %d", len(turns))
	}
	last := turns[len(turns)-1]
	if last.Role != rag.RoleAssistant || last.Content != "It ships in 3 days." {
		t.Errorf("last turn: got %s/%q", last.Role, last.Content)
	}
}

func TestHandleChat_ExplicitHistoryWins(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)
	fx.answerer.answer = rag.Answer{Text: "ok"}

	h, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	fx.server.history = h

	if err := h.Append(context.Background(), "t1", rag.RoleUser, "stored turn"); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	body := `{"question":"q","chat_history":[{"role":"user","content":"from request"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/chat", bytes.NewBufferString(body))
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fx.answerer.gotHistory) != 1 || fx.answerer.gotHistory[0].Content != "from request" {
		t.Errorf("request history should take precedence, got %+v", fx.answerer.gotHistory)
	}
}

func TestHandleChat_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"tenant missing", fmt.Errorf("wrap: %w", metadata.ErrNotFound), http.StatusNotFound},
		{"tenant not ready", fmt.Errorf("wrap: %w", rag.ErrTenantNotReady), http.StatusConflict},
		{"blank question", fmt.Errorf("wrap: %w", vectorstore.ErrInvalidInput), http.StatusBadRequest},
		{"backend failure", errors.New("model unreachable"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fx := newServerFixture(t)
			fx.answerer.err = tc.err

			body := `{"question":"anything"}`
			req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/chat", bytes.NewBufferString(body))
			req.SetPathValue("id", "t1")
			w := httptest.NewRecorder()
			fx.server.handleChat(w, req)

			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestHandleChat_BadBody(t *testing.T) {
	t.Parallel()
	fx := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/t1/chat", bytes.NewBufferString(`{broken`))
	req.SetPathValue("id", "t1")
	w := httptest.NewRecorder()
	fx.server.handleChat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
