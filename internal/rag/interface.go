// Package rag implements the question-answering path: embed the question,
// search the tenant's vector store, assemble a grounded prompt, and call the
// chat model. Interfaces here are satisfied by internal/embedder,
// internal/vectorstore, and internal/provider so this layer never depends
// on a specific backend.
package rag

import (
	"context"

	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Dimensions returns the width of the vectors this embedder produces.
	Dimensions() int

	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher performs nearest-neighbor search over a tenant's stored chunks.
// Satisfied by *vectorstore.Store.
type Searcher interface {
	Search(ctx context.Context, tenantID string, query []float32, k int) ([]vectorstore.Result, error)
}

// Generator produces a chat completion for an assembled prompt. The model
// string selects the tenant's configured chat model; empty means the
// default. Implementations must be safe to call from multiple goroutines.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}
