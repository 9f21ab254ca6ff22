package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docqa-ai/docqa-go/internal/embedder"
	"github.com/docqa-ai/docqa-go/internal/extract"
	"github.com/docqa-ai/docqa-go/internal/history"
	"github.com/docqa-ai/docqa-go/internal/ingestion"
	"github.com/docqa-ai/docqa-go/internal/metadata"
	"github.com/docqa-ai/docqa-go/internal/provider"
	"github.com/docqa-ai/docqa-go/internal/rag"
	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// stores bundles the two persistence layers plus the uploads location.
type stores struct {
	meta       *metadata.SQLiteStore
	vectors    *vectorstore.Store
	uploadsDir string
}

// openStores opens the metadata database and the vector store using the
// DOCQA_* env vars, falling back to paths under ~/.docqa. The returned close
// function releases the database handle.
func openStores(log *slog.Logger) (*stores, func(), error) {
	dbPath := os.Getenv("DOCQA_METADATA_DB")
	if dbPath == "" {
		var err error
		dbPath, err = metadata.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve metadata db path: %w", err)
		}
	}
	meta, err := metadata.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	vecDir := os.Getenv("DOCQA_VECTOR_DIR")
	if vecDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			_ = meta.Close()
			return nil, nil, fmt.Errorf("resolve vector dir: %w", err)
		}
		vecDir = filepath.Join(home, ".docqa", "vectors")
	}
	vectors, err := vectorstore.New(vecDir)
	if err != nil {
		_ = meta.Close()
		return nil, nil, err
	}

	uploadsDir := os.Getenv("DOCQA_UPLOADS_DIR")
	if uploadsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			_ = meta.Close()
			return nil, nil, fmt.Errorf("resolve uploads dir: %w", err)
		}
		uploadsDir = filepath.Join(home, ".docqa", "uploads")
	}

	log.Info("stores opened",
		slog.String("metadata_db", dbPath),
		slog.String("vector_dir", vecDir),
		slog.String("uploads_dir", uploadsDir),
	)

	closeAll := func() { _ = meta.Close() }
	return &stores{meta: meta, vectors: vectors, uploadsDir: uploadsDir}, closeAll, nil
}

// openHistory opens the chat history store. DOCQA_HISTORY_DB overrides the
// default path (~/.docqa/history.db); set it to "disabled" to turn persistent
// history off, in which case a nil store and a no-op close are returned.
func openHistory(log *slog.Logger) (history.Store, func(), error) {
	path := os.Getenv("DOCQA_HISTORY_DB")
	if path == "disabled" {
		log.Info("chat history persistence disabled")
		return nil, func() {}, nil
	}
	if path == "" {
		var err error
		path, err = history.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve history db path: %w", err)
		}
	}
	h, err := history.Open(path)
	if err != nil {
		return nil, nil, err
	}
	log.Info("history store opened", slog.String("history_db", path))
	return h, func() { _ = h.Close() }, nil
}

// buildPipeline wires the ingestion pipeline: embedder from env, file
// extractor, and chunking parameters from DOCQA_CHUNK_SIZE/DOCQA_CHUNK_OVERLAP.
func buildPipeline(st *stores, log *slog.Logger) (*ingestion.Pipeline, rag.Embedder, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("initialise embedder: %w", err)
	}

	pipeline, err := ingestion.NewPipeline(st.meta, st.vectors, emb, extract.New(), &ingestion.Config{
		ChunkSize:    getEnvInt("DOCQA_CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("DOCQA_CHUNK_OVERLAP", 0),
	})
	if err != nil {
		return nil, nil, err
	}
	return pipeline, emb, nil
}

// buildAnswerer wires the question-answering flow: retriever over the vector
// store plus a generator for the configured model backend.
func buildAnswerer(st *stores, emb rag.Embedder) (*rag.Answerer, error) {
	retriever, err := rag.NewRetriever(emb, st.vectors, getEnvInt("DOCQA_TOP_K", rag.DefaultTopK))
	if err != nil {
		return nil, err
	}
	generator, err := provider.NewGenerator(provider.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("initialise model provider: %w", err)
	}
	return rag.NewAnswerer(st.meta, retriever, generator)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
