// Package embedding provides a unified single/batch embedding API over
// a local in-process model, an OpenAI-shaped HTTP back-end, and an
// Ollama socket, plus the deterministic text chunker feeding them.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Provider is the unified embedding contract. Empty input returns the
// zero vector of the provider's dimension rather than an error.
type Provider interface {
	Name() string
	Model() string
	Dimension() int
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// DefaultDimension applies when neither configuration nor the model
// name resolve a dimension.
const DefaultDimension = 384

// dimension table for known model families.
var modelDimensions = []struct {
	substr string
	dim    int
}{
	{"minilm", 384},
	{"mpnet", 768},
	{"nomic-embed", 768},
	{"mxbai-embed-large", 1024},
	{"text-embedding-3-small", 1536},
	{"text-embedding-ada", 1536},
	{"text-embedding-3-large", 3072},
}

// ResolveDimension returns the embedding dimension for a model. An
// explicit configured value always wins; otherwise the model name is
// matched against the known families.
func ResolveDimension(model string, configured int) int {
	if configured > 0 {
		return configured
	}
	lower := strings.ToLower(model)
	for _, entry := range modelDimensions {
		if strings.Contains(lower, entry.substr) {
			return entry.dim
		}
	}
	return DefaultDimension
}

// ZeroVector returns the all-zeros embedding of length dim.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string // local | openai | ollama
	Model     string
	Dimension int    // 0 = resolve from model
	BaseURL   string // openai/ollama endpoint override
	APIKey    string
	Logger    hclog.Logger
}

// NewProvider constructs the configured embedding provider.
func NewProvider(cfg Config) (Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	switch cfg.Provider {
	case "local":
		return NewLocalProvider(cfg, logger)
	case "openai":
		return NewOpenAIProvider(cfg, logger)
	case "ollama":
		return NewOllamaProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
