package extract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_Text_PlainFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	ex := New()

	txtPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txtPath, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}
	got, err := ex.Text(ctx, txtPath, "txt")
	if err != nil {
		t.Fatalf("Text txt: %v", err)
	}
	if got != "hello world" {
		t.Errorf("txt = %q, want %q", got, "hello world")
	}

	mdPath := filepath.Join(dir, "readme.md")
	if err := os.WriteFile(mdPath, []byte("# Title\n\nbody"), 0o644); err != nil {
		t.Fatalf("write md: %v", err)
	}
	got, err = ex.Text(ctx, mdPath, "md")
	if err != nil {
		t.Fatalf("Text md: %v", err)
	}
	if got != "# Title\n\nbody" {
		t.Errorf("md = %q, want raw content", got)
	}
}

func Test_Text_UnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := New().Text(context.Background(), "whatever.xls", "xls")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}

func Test_Supported(t *testing.T) {
	t.Parallel()

	for _, ft := range []string{"pdf", "txt", "md", "docx", "PDF"} {
		if !Supported(ft) {
			t.Errorf("Supported(%q) = false, want true", ft)
		}
	}
	for _, ft := range []string{"xls", "exe", ""} {
		if Supported(ft) {
			t.Errorf("Supported(%q) = true, want false", ft)
		}
	}
}

// writeTestDocx builds a minimal docx archive with the given paragraphs.
func writeTestDocx(t *testing.T, path string, paragraphs []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create docx: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create document.xml: %v", err)
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		sb.WriteString(`<w:p><w:r><w:t>`)
		sb.WriteString(p)
		sb.WriteString(`</w:t></w:r></w:p>`)
	}
	sb.WriteString(`</w:body></w:document>`)
	if _, err := w.Write([]byte(sb.String())); err != nil {
		t.Fatalf("write document.xml: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func Test_Text_Docx(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.docx")
	writeTestDocx(t, path, []string{"first paragraph", "second paragraph"})

	got, err := New().Text(context.Background(), path, "docx")
	if err != nil {
		t.Fatalf("Text docx: %v", err)
	}
	want := "first paragraph\nsecond paragraph"
	if got != want {
		t.Errorf("docx = %q, want %q", got, want)
	}
}

func Test_Text_DocxMissingBody(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.docx")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	f.Close()

	if _, err := New().Text(context.Background(), path, "docx"); err == nil {
		t.Fatal("want error for docx without word/document.xml")
	}
}

func Test_Text_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Text(ctx, "x.txt", "txt"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
