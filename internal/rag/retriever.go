package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// DefaultTopK is the number of chunks retrieved when the caller passes k=0.
const DefaultTopK = 4

// Retriever combines an Embedder and a Searcher: it embeds the question at
// retrieval time and delegates similarity search to the tenant's store.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	topK     int
}

// NewRetriever constructs a Retriever. defaultTopK sets the fallback result
// count when Retrieve is called with k<=0; zero means DefaultTopK.
func NewRetriever(embedder Embedder, searcher Searcher, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		topK:     defaultTopK,
	}, nil
}

// Retrieve embeds the question and returns the k nearest chunks from the
// tenant's store, ascending by distance. A blank question is rejected
// before any embedding work.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, question string, k int) ([]vectorstore.Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("rag: question must not be blank: %w", vectorstore.ErrInvalidInput)
	}
	if k <= 0 {
		k = r.topK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for question")
	}

	results, err := r.searcher.Search(ctx, tenantID, embeddings[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return results, nil
}
