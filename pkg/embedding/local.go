package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/hashicorp/go-hclog"
)

// LocalProvider embeds in-process via fastembed (ONNX runtime). The
// model is loaded lazily on first use so worker startup stays fast when
// embeddings are disabled.
type LocalProvider struct {
	model     string
	dimension int
	logger    hclog.Logger

	once    sync.Once
	loadErr error
	engine  *fastembed.FlagEmbedding
}

// NewLocalProvider creates the in-process provider.
func NewLocalProvider(cfg Config, logger hclog.Logger) (*LocalProvider, error) {
	model := cfg.Model
	if model == "" {
		model = "all-MiniLM-L6-v2"
	}
	return &LocalProvider{
		model:     model,
		dimension: ResolveDimension(model, cfg.Dimension),
		logger:    logger.Named("embedding-local"),
	}, nil
}

// Name identifies the provider.
func (p *LocalProvider) Name() string { return "local" }

// Model returns the configured model label.
func (p *LocalProvider) Model() string { return p.model }

// Dimension returns the vector length this provider produces.
func (p *LocalProvider) Dimension() int { return p.dimension }

func (p *LocalProvider) load() (*fastembed.FlagEmbedding, error) {
	p.once.Do(func() {
		p.logger.Info("loading local embedding model", "model", p.model)
		p.engine, p.loadErr = fastembed.NewFlagEmbedding(&fastembed.InitOptions{
			Model:     fastembedModel(p.model),
			MaxLength: 512,
		})
		if p.loadErr != nil {
			p.loadErr = fmt.Errorf("failed to load embedding model %s: %w", p.model, p.loadErr)
		}
	})
	return p.engine, p.loadErr
}

// EmbedOne embeds a single text.
func (p *LocalProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return ZeroVector(p.dimension), nil
	}
	engine, err := p.load()
	if err != nil {
		return nil, err
	}
	vec, err := engine.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts in fastembed's own batches.
func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	engine, err := p.load()
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 8
	}
	vecs, err := engine.Embed(texts, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to embed batch: %w", err)
	}
	return vecs, nil
}

// fastembedModel maps a model label onto fastembed's catalog, falling
// back to MiniLM.
func fastembedModel(model string) fastembed.EmbeddingModel {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "bge-small"):
		return fastembed.BGESmallEN
	case strings.Contains(lower, "bge-base"):
		return fastembed.BGEBaseEN
	default:
		return fastembed.AllMiniLML6V2
	}
}
