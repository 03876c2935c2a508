package llm

import (
	"context"
	"fmt"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/hashicorp/go-hclog"
	"google.golang.org/api/option"
)

// GeminiCompleter talks to Google's Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
	logger hclog.Logger
}

// NewGeminiCompleter creates the Gemini provider.
func NewGeminiCompleter(ctx context.Context, cfg Config, logger hclog.Logger) (*GeminiCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini llm provider requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiCompleter{
		client: client,
		model:  model,
		logger: logger.Named("llm-gemini"),
	}, nil
}

// Name identifies the provider.
func (c *GeminiCompleter) Name() string { return "gemini" }

// Complete runs one generation. Conversation history is forwarded as
// chat history; the last user message becomes the prompt.
func (c *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	if len(req.Messages) == 0 {
		return "", fmt.Errorf("completion request has no messages")
	}

	session := model.StartChat()
	for _, m := range req.Messages[:len(req.Messages)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	last := req.Messages[len(req.Messages)-1]
	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// Close releases the underlying gRPC connection.
func (c *GeminiCompleter) Close() error {
	return c.client.Close()
}
