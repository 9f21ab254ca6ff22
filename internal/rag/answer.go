package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docqa-ai/docqa-go/internal/logging"
	"github.com/docqa-ai/docqa-go/internal/metadata"
	"github.com/docqa-ai/docqa-go/internal/vectorstore"
)

// ErrTenantNotReady is returned when a question is asked of a tenant whose
// knowledge base has not finished building.
var ErrTenantNotReady = errors.New("rag: tenant is not ready")

// HistoryRole is the author of a prior conversation turn.
type HistoryRole string

const (
	// RoleUser marks a turn written by the end user.
	RoleUser HistoryRole = "user"
	// RoleAssistant marks a turn written by the assistant.
	RoleAssistant HistoryRole = "assistant"
)

// HistoryTurn is one prior turn supplied with a question. Turns with an
// unknown role are skipped during prompt assembly.
type HistoryTurn struct {
	Role    HistoryRole `json:"role"`
	Content string      `json:"content"`
}

// Source identifies one chunk that grounded an answer.
type Source struct {
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// Answer is the result of a question against a tenant's knowledge base.
type Answer struct {
	Text    string   `json:"response"`
	Sources []Source `json:"sources"`
}

// Answerer runs the full question flow: tenant readiness check, retrieval,
// prompt assembly, generation.
type Answerer struct {
	meta      metadata.Store
	retriever *Retriever
	generator Generator
}

// NewAnswerer constructs an Answerer from its collaborators.
func NewAnswerer(meta metadata.Store, retriever *Retriever, generator Generator) (*Answerer, error) {
	if meta == nil {
		return nil, fmt.Errorf("rag: metadata store must not be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("rag: retriever must not be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("rag: generator must not be nil")
	}
	return &Answerer{meta: meta, retriever: retriever, generator: generator}, nil
}

// Answer answers a question against the tenant's knowledge base. The tenant
// must be ready. k<=0 uses the retriever's default. Sources mirror the
// retrieval order, nearest first, with raw squared-distance scores.
func (a *Answerer) Answer(ctx context.Context, tenantID, question string, history []HistoryTurn, k int) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("rag: question must not be blank: %w", vectorstore.ErrInvalidInput)
	}

	tenant, err := a.meta.GetTenant(ctx, tenantID)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: %w", err)
	}
	if tenant.Status != metadata.TenantReady {
		return Answer{}, fmt.Errorf("rag: tenant %s status is %s: %w", tenantID, tenant.Status, ErrTenantNotReady)
	}

	results, err := a.retriever.Retrieve(ctx, tenantID, question, k)
	if err != nil {
		return Answer{}, err
	}

	prompt := BuildPrompt(tenant.SystemPrompt, question, results, history)

	text, err := a.generator.Generate(ctx, prompt, tenant.Model)
	if err != nil {
		return Answer{}, fmt.Errorf("rag: generation failed: %w", err)
	}

	sources := make([]Source, len(results))
	for i, res := range results {
		sources[i] = Source{
			Filename:   res.Record.Filename,
			ChunkIndex: res.Record.ChunkIndex,
			Score:      res.Score,
		}
	}

	logging.FromContext(ctx).Info("question answered",
		slog.String("tenant_id", tenantID),
		slog.Int("sources", len(sources)),
		slog.Int("answer_chars", len(text)))
	return Answer{Text: text, Sources: sources}, nil
}

// BuildPrompt assembles the grounded prompt sent to the chat model. Layout,
// top to bottom: system prompt, retrieved context blocks in ascending
// distance order, conversation history, the question, and a closing
// grounding directive. Context and history sections are omitted when empty.
func BuildPrompt(systemPrompt, question string, results []vectorstore.Result, history []HistoryTurn) string {
	parts := []string{systemPrompt}

	if len(results) > 0 {
		blocks := make([]string, len(results))
		for i, res := range results {
			blocks[i] = fmt.Sprintf("[Document %d - %s]\n%s", i+1, res.Record.Filename, res.Record.Text)
		}
		parts = append(parts, "\nRelevant information from documents:\n"+strings.Join(blocks, "\n\n"))
	}

	if len(history) > 0 {
		var lines []string
		for _, turn := range history {
			switch turn.Role {
			case RoleUser:
				lines = append(lines, "User: "+turn.Content)
			case RoleAssistant:
				lines = append(lines, "Assistant: "+turn.Content)
			}
		}
		if len(lines) > 0 {
			parts = append(parts, "\nConversation history:\n"+strings.Join(lines, "\n"))
		}
	}

	parts = append(parts, "\nUser question: "+question)
	parts = append(parts, "\nPlease provide a helpful response based on the information above.")

	return strings.Join(parts, "\n")
}
