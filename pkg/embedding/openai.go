package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	openai "github.com/sashabaranov/go-openai"
)

// openAIMaxBatch is the per-request input ceiling for the embeddings
// endpoint.
const openAIMaxBatch = 100

// OpenAIProvider embeds via the OpenAI-shaped HTTP API. A custom base
// URL points it at any compatible server.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	logger    hclog.Logger
}

// NewOpenAIProvider creates the HTTP provider.
func NewOpenAIProvider(cfg Config, logger hclog.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai embedding provider requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: ResolveDimension(model, cfg.Dimension),
		logger:    logger.Named("embedding-openai"),
	}, nil
}

// Name identifies the provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Model returns the configured model label.
func (p *OpenAIProvider) Model() string { return p.model }

// Dimension returns the vector length this provider produces.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// EmbedOne embeds a single text.
func (p *OpenAIProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return ZeroVector(p.dimension), nil
	}
	vecs, err := p.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request-sized slices, capped at the API's
// input ceiling.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 || batchSize > openAIMaxBatch {
		batchSize = openAIMaxBatch
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *OpenAIProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: sent %d, got %d",
			len(texts), len(resp.Data))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
