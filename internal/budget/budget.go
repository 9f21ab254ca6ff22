// Package budget provides token budget estimation and history trimming for
// chat prompts. Because the platform supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and code). This
// deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/docqa-ai/docqa-go/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B, GPT-3.5)
	// while leaving room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateTurns returns the estimated total token count for a slice of
// conversation turns, summing role + content for each turn.
func EstimateTurns(turns []rag.HistoryTurn) int {
	total := 0
	for _, t := range turns {
		// Each turn has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(t.Role))
		total += Estimate(t.Content)
	}
	return total
}

// TrimHistory removes the oldest turns from history until the total estimated
// token count of fixed + history fits within maxTokens. fixed is the prompt
// text that must not be trimmed (system prompt, retrieved context, current
// question). history contains prior conversation turns that may be dropped
// oldest-first.
//
// Returns the trimmed history slice. If even an empty history exceeds the
// budget, the empty slice is returned (fixed text is never trimmed here —
// callers should warn separately if fixed alone exceeds the budget).
func TrimHistory(fixed string, history []rag.HistoryTurn, maxTokens int) []rag.HistoryTurn {
	if len(history) == 0 {
		return history
	}

	fixedTokens := Estimate(fixed)

	// Binary search would be more efficient but history is typically ≤20 turns;
	// linear scan from the front (dropping oldest) is clear and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateTurns(history) <= maxTokens {
			break
		}
		// Drop the oldest turn.
		history = history[1:]
	}
	return history
}
