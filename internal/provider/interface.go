// Package provider selects and constructs chat model backends at runtime
// and exposes a Generator that maps per-tenant model selectors onto live
// model handles. Supported backends: Ollama, OpenAI, Azure OpenAI, AWS
// Bedrock, Google Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama-specific settings.
type ProviderOllama struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the default chat model name (e.g. "llama3").
	Model string
}

// ProviderOpenAI holds OpenAI-specific settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the default chat model name (e.g. "gpt-4o").
	Model string
}

// ProviderAzureOpenAI holds Azure OpenAI Service settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI key.
	APIKey string
	// Endpoint is the resource endpoint (https://<resource>.openai.azure.com).
	Endpoint string
	// Deployment is the deployment name to call.
	Deployment string
	// APIVersion is the REST API version (e.g. "2024-02-01").
	APIVersion string
}

// ProviderBedrock holds AWS Bedrock settings. Credentials come from the
// standard AWS SDK chain.
type ProviderBedrock struct {
	// AWSRegion is the region hosting the model.
	AWSRegion string
	// ModelID is the Bedrock model identifier.
	ModelID string
	// Endpoint overrides the Bedrock-compatible endpoint URL.
	Endpoint string
	// APIKey authenticates against the compatible endpoint when set.
	APIKey string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the AI Studio API key.
	APIKey string
	// Model is the default chat model name (e.g. "gemini-2.5-flash").
	Model string
}

// SharedTuning holds generation parameters applied across backends.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0-1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is consulted.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Bedrock     ProviderBedrock
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate checks that the section for the selected backend carries every
// required field, naming the environment variable that populates it so
// startup errors are actionable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" {
			return fmt.Errorf("provider: AWS_REGION is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, bedrock, gemini", c.Backend)
	}
	return nil
}

// DefaultModel returns the configured model name for the selected backend.
func (c *Config) DefaultModel() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendBedrock:
		return c.Bedrock.ModelID
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// withModel returns a copy of the config with the selected backend's model
// replaced. An empty name keeps the configured default.
func (c *Config) withModel(name string) *Config {
	out := *c
	if name == "" {
		return &out
	}
	switch c.Backend {
	case BackendOllama:
		out.Ollama.Model = name
	case BackendOpenAI:
		out.OpenAI.Model = name
	case BackendAzure:
		out.AzureOpenAI.Deployment = name
	case BackendBedrock:
		out.Bedrock.ModelID = name
	case BackendGemini:
		out.Gemini.Model = name
	}
	return &out
}

// azureReasoningPrefixes identify o-series and codex-class deployments,
// which reject the temperature parameter.
var azureReasoningPrefixes = []string{"o1", "o3", "o4", "codex"}

// isAzureReasoningModel reports whether the deployment name is an o-series
// or codex-class reasoning model. Matching is by prefix, case-insensitive.
func isAzureReasoningModel(deployment string) bool {
	lower := strings.ToLower(deployment)
	for _, p := range azureReasoningPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
