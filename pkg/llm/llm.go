// Package llm extracts structured document metadata and generates
// grounded answers through a provider-abstracted chat completion API
// (OpenAI-shaped, Gemini, or Ollama).
package llm

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Message is one conversation turn.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// CompletionRequest is the provider-independent chat request.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Completer is the low-level provider contract. Service composes the
// metadata and answer operations on top of it.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string // openai | gemini | ollama
	Model    string
	BaseURL  string
	APIKey   string
	Logger   hclog.Logger
}

// NewCompleter constructs the configured chat provider.
func NewCompleter(ctx context.Context, cfg Config) (Completer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAICompleter(cfg, logger)
	case "gemini":
		return NewGeminiCompleter(ctx, cfg, logger)
	case "ollama":
		return NewOllamaCompleter(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Service exposes the two document operations over any Completer.
type Service struct {
	completer Completer
	logger    hclog.Logger
}

// NewService wraps a completer.
func NewService(completer Completer, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		completer: completer,
		logger:    logger.Named("llm"),
	}
}

// Provider returns the underlying completer's name.
func (s *Service) Provider() string {
	return s.completer.Name()
}
