// Package extract converts uploaded documents into plain text for chunking.
// Supported types: pdf, txt, md, docx. The dispatcher is keyed by file type
// so adding a format means adding one function and one map entry.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnsupportedType is returned for a file type with no extractor.
var ErrUnsupportedType = errors.New("extract: unsupported file type")

// Extractor converts a stored file into plain text.
type Extractor interface {
	// Text returns the plain text of the file at path, given its type
	// ("pdf", "txt", "md", "docx"). An empty string with nil error means the
	// file had no extractable text.
	Text(ctx context.Context, path, fileType string) (string, error)
}

// SupportedTypes lists the file types the default extractor handles.
func SupportedTypes() []string {
	return []string{"pdf", "txt", "md", "docx"}
}

// Supported reports whether fileType has an extractor.
func Supported(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "pdf", "txt", "md", "docx":
		return true
	}
	return false
}

// FileExtractor is the default Extractor reading from the local filesystem.
type FileExtractor struct{}

var _ Extractor = FileExtractor{}

// New returns the default file-based extractor.
func New() FileExtractor { return FileExtractor{} }

// Text dispatches on fileType and extracts plain text.
func (FileExtractor) Text(ctx context.Context, path, fileType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch strings.ToLower(fileType) {
	case "txt", "md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("extract: read %s: %w", path, err)
		}
		return string(data), nil
	case "pdf":
		return pdfText(path)
	case "docx":
		return docxText(path)
	default:
		return "", fmt.Errorf("extract: %q: %w", fileType, ErrUnsupportedType)
	}
}
