package ingestion

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters. 800 characters with a 150 character overlap
// keeps individual chunks inside typical embedding model context limits
// while preserving continuity across chunk boundaries.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 150
)

// Splitter cuts text into overlapping chunks. Cuts prefer natural
// boundaries, tried in order: paragraph break, line break, word break.
// When no boundary falls in the window's back half the window is cut raw.
// All sizes are measured in characters (runes), so multibyte text never
// gets cut mid-rune.
type Splitter struct {
	// ChunkSize is the maximum chunk length in characters. Defaults to
	// DefaultChunkSize if zero or negative.
	ChunkSize int

	// ChunkOverlap is how many characters consecutive chunks share. Defaults
	// to DefaultChunkOverlap if negative; clamped below ChunkSize.
	ChunkOverlap int
}

// separators in preference order. The empty string means a raw cut at the
// window edge.
var separators = []string{"\n\n", "\n", " ", ""}

// Split returns the chunks of text. Leading and trailing whitespace is
// trimmed first; empty input yields no chunks. Each returned chunk is
// non-empty after trimming.
func (s Splitter) Split(text string) []string {
	size := s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := s.ChunkOverlap
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if c := strings.TrimSpace(string(runes[start:])); c != "" {
				chunks = append(chunks, c)
			}
			break
		}

		cut := cutPoint(runes, start, end)
		if c := strings.TrimSpace(string(runes[start:cut])); c != "" {
			chunks = append(chunks, c)
		}

		next := cut - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// cutPoint finds the rune offset ending the window that starts at start.
// Boundaries in the back half of the window are preferred so chunks stay
// near full size; the cut lands just after the separator.
func cutPoint(runes []rune, start, end int) int {
	window := string(runes[start:end])
	floor := (end - start) / 2
	for _, sep := range separators {
		if sep == "" {
			return end
		}
		i := strings.LastIndex(window, sep)
		if i < 0 {
			continue
		}
		at := utf8.RuneCountInString(window[:i])
		if at >= floor {
			return start + at + utf8.RuneCountInString(sep)
		}
	}
	return end
}
