package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// pdfText extracts plain text from a PDF file. A PDF with no extractable
// text yields an empty string and nil error.
func pdfText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return "", nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: parse pdf %s: %w", path, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract: pdf text %s: %w", path, err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extract: pdf text %s: %w", path, err)
	}
	return string(out), nil
}
