package extract

import (
	"path/filepath"
	"strings"
)

// extensionAliases maps filename extensions to the canonical file type used
// throughout the system.
var extensionAliases = map[string]string{
	".pdf":      "pdf",
	".txt":      "txt",
	".text":     "txt",
	".md":       "md",
	".markdown": "md",
	".docx":     "docx",
}

// TypeFromFilename returns the canonical file type for a filename, or an
// empty string when the extension is unknown. Matching is case-insensitive.
func TypeFromFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return extensionAliases[ext]
}
