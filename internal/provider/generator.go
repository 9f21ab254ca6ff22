package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// chatModelFactory constructs a ChatModel for a config. Swappable in tests.
type chatModelFactory func(ctx context.Context, cfg *Config) (model.ToolCallingChatModel, error)

// Generator satisfies rag.Generator on top of the configured backend. Each
// tenant can select its own model name; Generator lazily constructs and
// caches one ChatModel per distinct name so repeated questions reuse the
// same handle.
type Generator struct {
	cfg     *Config
	factory chatModelFactory

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
}

// NewGenerator constructs a Generator for the given provider config. The
// config is validated eagerly so a broken setup fails at startup.
func NewGenerator(cfg *Config) (*Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider: config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		cfg:     cfg,
		factory: New,
		models:  make(map[string]model.ToolCallingChatModel),
	}, nil
}

// modelFor returns the cached ChatModel for a model name, constructing it
// on first use. An empty name maps to the backend's configured default.
func (g *Generator) modelFor(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	key := name
	if key == "" {
		key = g.cfg.DefaultModel()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.models[key]; ok {
		return m, nil
	}

	m, err := g.factory(ctx, g.cfg.withModel(key))
	if err != nil {
		return nil, fmt.Errorf("provider: construct model %q: %w", key, err)
	}
	g.models[key] = m
	return m, nil
}

// Generate sends the prompt as a single user message and returns the
// model's reply text.
func (g *Generator) Generate(ctx context.Context, prompt, modelName string) (string, error) {
	m, err := g.modelFor(ctx, modelName)
	if err != nil {
		return "", err
	}

	msg, err := m.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("provider: generate: %w", err)
	}
	return msg.Content, nil
}
