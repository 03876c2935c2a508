package commands

import (
	"context"
	"strings"

	"github.com/cartulary/cartulary/internal/config"
	"github.com/cartulary/cartulary/pkg/activity"
	"github.com/cartulary/cartulary/pkg/embedding"
	"github.com/cartulary/cartulary/pkg/eventbus"
	"github.com/cartulary/cartulary/pkg/extract"
	"github.com/cartulary/cartulary/pkg/llm"
	"github.com/cartulary/cartulary/pkg/pipeline"
	"github.com/cartulary/cartulary/pkg/queue"
	"github.com/hibiken/asynq"
)

// WorkerCommand runs the task worker that drives the document pipeline.
type WorkerCommand struct {
	base *base
}

func (c *WorkerCommand) Synopsis() string {
	return "Run the document processing worker"
}

func (c *WorkerCommand) Help() string {
	return strings.TrimSpace(`
Usage: cartulary worker

  Consumes pipeline tasks from the Redis queue: text extraction,
  embedding generation and metadata extraction. Configuration comes
  from the environment; see the project README for the variable list.
`)
}

func (c *WorkerCommand) Run(args []string) int {
	cfg, err := c.base.loadConfig()
	if err != nil {
		return 1
	}
	ctx := context.Background()

	p, closers, err := c.buildPipeline(ctx, cfg)
	if err != nil {
		return 1
	}
	defer closers()

	srv, err := queue.NewServer(queue.ServerConfig{
		RedisURL:    cfg.Redis.URL,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      c.base.logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to create worker server: " + err.Error())
		return 1
	}

	mux := asynq.NewServeMux()
	p.RegisterHandlers(mux)

	c.base.ui.Output("Worker started")
	if err := srv.Run(mux); err != nil {
		c.base.ui.Error("Worker stopped with error: " + err.Error())
		return 1
	}
	return 0
}

// buildPipeline assembles the pipeline and its collaborators from
// configuration. The returned func closes what needs closing.
func (c *WorkerCommand) buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	logger := c.base.logger

	db, err := c.base.openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := c.base.buildStore(ctx, cfg)
	if err != nil {
		c.base.ui.Error("Failed to initialize storage: " + err.Error())
		return nil, nil, err
	}

	var engine extract.Engine
	if cfg.OCR.Enabled {
		engine, err = extract.NewEngine(extract.OCRConfig{
			Provider:    cfg.OCR.Provider,
			Languages:   cfg.OCR.Languages,
			UseGPU:      cfg.OCR.UseGPU,
			PaddleURL:   cfg.OCR.PaddleURL,
			EasyURL:     cfg.OCR.EasyURL,
			VisionURL:   cfg.OCR.VisionURL,
			VisionModel: cfg.OCR.VisionModel,
			Logger:      logger,
		})
		if err != nil {
			// Embedded PDF text still works without OCR.
			logger.Warn("OCR unavailable, continuing without it", "error", err)
			engine = nil
		}
	}

	var embedder embedding.Provider
	if cfg.Embedding.Enabled {
		embedder, err = embedding.NewProvider(embedding.Config{
			Provider:  cfg.Embedding.Provider,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Logger:    logger,
		})
		if err != nil {
			c.base.ui.Error("Failed to initialize embedding provider: " + err.Error())
			return nil, nil, err
		}
		// A provider whose vectors don't fit the stored column would
		// corrupt the index. Run without embeddings; OCR and metadata
		// extraction keep working.
		if err := pipeline.CheckDimension(ctx, db, embedder); err != nil {
			logger.Error("disabling embeddings", "error", err)
			c.base.ui.Error("Embeddings disabled: " + err.Error())
			embedder = nil
		}
	}

	var llmService *llm.Service
	if cfg.LLM.Enabled {
		completer, err := llm.NewCompleter(ctx, llm.Config{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.Model,
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey,
			Logger:   logger,
		})
		if err != nil {
			c.base.ui.Error("Failed to initialize LLM provider: " + err.Error())
			return nil, nil, err
		}
		llmService = llm.NewService(completer, logger)
	}

	events, err := eventbus.NewPublisher(eventbus.PublisherConfig{
		RedisURL: cfg.Redis.URL,
		Logger:   logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to connect event bus: " + err.Error())
		return nil, nil, err
	}
	client, err := queue.NewClient(queue.ClientConfig{
		RedisURL: cfg.Redis.URL,
		Logger:   logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to connect task queue: " + err.Error())
		return nil, nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		DB:           db,
		Store:        store,
		Queue:        client,
		Events:       events,
		Extractor:    extract.NewExtractor(extract.Config{Engine: engine, Logger: logger}),
		Embedder:     embedder,
		LLM:          llmService,
		Activity:     activity.NewRecorder(db, logger),
		ChunkSize:    cfg.Embedding.ChunkSize,
		ChunkOverlap: cfg.Embedding.ChunkOverlap,
		Logger:       logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to build pipeline: " + err.Error())
		return nil, nil, err
	}

	closers := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close queue client", "error", err)
		}
		if err := events.Close(); err != nil {
			logger.Warn("failed to close event publisher", "error", err)
		}
	}
	return p, closers, nil
}
