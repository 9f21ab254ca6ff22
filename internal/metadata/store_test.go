package metadata

import (
	"context"
	"errors"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTenant(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()
	err := s.CreateTenant(context.Background(), Tenant{
		ID:           id,
		Name:         "acme",
		SystemPrompt: "You are a helpful assistant.",
	})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
}

func Test_Store_TenantLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seedTenant(t, s, "t1")

	got, err := s.GetTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if got.Status != TenantCreating {
		t.Errorf("new tenant status = %s, want creating", got.Status)
	}
	if got.Name != "acme" {
		t.Errorf("name = %q, want acme", got.Name)
	}

	for _, next := range []TenantStatus{TenantProcessing, TenantReady} {
		if err := s.SetTenantStatus(ctx, "t1", next); err != nil {
			t.Fatalf("set status %s: %v", next, err)
		}
	}
	got, _ = s.GetTenant(ctx, "t1")
	if got.Status != TenantReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
}

func Test_Store_TenantInvalidTransition(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seedTenant(t, s, "t1")

	// creating -> ready skips processing and must be rejected.
	err := s.SetTenantStatus(ctx, "t1", TenantReady)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	got, _ := s.GetTenant(ctx, "t1")
	if got.Status != TenantCreating {
		t.Errorf("status after rejected move = %s, want creating", got.Status)
	}
}

func Test_Store_GetTenantNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.GetTenant(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func Test_Store_DocumentLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seedTenant(t, s, "t1")
	doc := Document{
		ID:       "d1",
		TenantID: "t1",
		Filename: "handbook.pdf",
		FileType: "pdf",
		FileSize: 1024,
		FilePath: "/uploads/t1/d1.pdf",
	}
	if err := s.AddDocument(ctx, doc); err != nil {
		t.Fatalf("add document: %v", err)
	}

	got, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Status != DocUploaded {
		t.Errorf("new document status = %s, want uploaded", got.Status)
	}

	for _, next := range []DocumentStatus{DocProcessing, DocCompleted} {
		if err := s.SetDocumentStatus(ctx, "d1", next); err != nil {
			t.Fatalf("set status %s: %v", next, err)
		}
	}

	// uploaded is reachable again from completed, for rebuilds.
	if err := s.SetDocumentStatus(ctx, "d1", DocUploaded); err != nil {
		t.Fatalf("reset to uploaded: %v", err)
	}
	// completed straight from uploaded is not.
	if err := s.SetDocumentStatus(ctx, "d1", DocCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("uploaded -> completed = %v, want ErrInvalidTransition", err)
	}
	// processing releases back to uploaded when a run fails mid-flight.
	if err := s.SetDocumentStatus(ctx, "d1", DocProcessing); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if err := s.SetDocumentStatus(ctx, "d1", DocUploaded); err != nil {
		t.Errorf("processing -> uploaded = %v, want ok", err)
	}
	// errored documents never re-enter processing directly.
	if err := s.SetDocumentStatus(ctx, "d1", DocProcessing); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if err := s.SetDocumentStatus(ctx, "d1", DocError); err != nil {
		t.Fatalf("to error: %v", err)
	}
	if err := s.SetDocumentStatus(ctx, "d1", DocProcessing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error -> processing = %v, want ErrInvalidTransition", err)
	}
}

func Test_Store_ResetDocuments(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seedTenant(t, s, "t1")
	for _, d := range []struct {
		id     string
		status DocumentStatus
	}{
		{"d1", DocCompleted},
		{"d2", DocError},
		{"d3", DocUploaded},
		{"d4", DocProcessing},
	} {
		if err := s.AddDocument(ctx, Document{ID: d.id, TenantID: "t1", Filename: d.id + ".txt", FileType: "txt", Status: d.status}); err != nil {
			t.Fatalf("add %s: %v", d.id, err)
		}
	}

	if err := s.ResetDocuments(ctx, "t1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	docs, err := s.ListDocuments(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, d := range docs {
		if d.Status != DocUploaded {
			t.Errorf("document %s status = %s, want uploaded", d.ID, d.Status)
		}
	}
}

func Test_Store_DeleteTenantCascades(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seedTenant(t, s, "t1")
	if err := s.AddDocument(ctx, Document{ID: "d1", TenantID: "t1", Filename: "a.txt", FileType: "txt"}); err != nil {
		t.Fatalf("add document: %v", err)
	}

	if err := s.DeleteTenant(ctx, "t1"); err != nil {
		t.Fatalf("delete tenant: %v", err)
	}
	if _, err := s.GetTenant(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted tenant = %v, want ErrNotFound", err)
	}
	if _, err := s.GetDocument(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get cascaded document = %v, want ErrNotFound", err)
	}
}

func Test_Store_DeleteDocumentNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.DeleteDocument(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func Test_Store_ListTenantsOrdered(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		seedTenant(t, s, id)
	}
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tenants) != 3 {
		t.Fatalf("len = %d, want 3", len(tenants))
	}
	for i, want := range []string{"a", "b", "c"} {
		if tenants[i].ID != want {
			t.Errorf("tenants[%d].ID = %s, want %s", i, tenants[i].ID, want)
		}
	}
}
