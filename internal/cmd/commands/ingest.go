package commands

import (
	"context"
	"errors"
	"strings"

	"github.com/cartulary/cartulary/pkg/activity"
	"github.com/cartulary/cartulary/pkg/eventbus"
	"github.com/cartulary/cartulary/pkg/extract"
	"github.com/cartulary/cartulary/pkg/ingest"
	"github.com/cartulary/cartulary/pkg/pipeline"
	"github.com/cartulary/cartulary/pkg/queue"
)

// IngestCommand runs the import-source reconciler: directory watchers
// and IMAP pollers.
type IngestCommand struct {
	base *base
}

func (c *IngestCommand) Synopsis() string {
	return "Run the import source reconciler"
}

func (c *IngestCommand) Help() string {
	return strings.TrimSpace(`
Usage: cartulary ingest

  Watches the active import sources (directories and IMAP mailboxes)
  and submits new files into the processing pipeline. Source
  configuration lives in the database; this process follows changes
  without a restart.
`)
}

func (c *IngestCommand) Run(args []string) int {
	cfg, err := c.base.loadConfig()
	if err != nil {
		return 1
	}
	ctx, cancel := interruptContext()
	defer cancel()

	db, err := c.base.openDatabase(cfg)
	if err != nil {
		return 1
	}
	store, err := c.base.buildStore(ctx, cfg)
	if err != nil {
		c.base.ui.Error("Failed to initialize storage: " + err.Error())
		return 1
	}
	events, err := eventbus.NewPublisher(eventbus.PublisherConfig{
		RedisURL: cfg.Redis.URL,
		Logger:   c.base.logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to connect event bus: " + err.Error())
		return 1
	}
	defer events.Close()
	client, err := queue.NewClient(queue.ClientConfig{
		RedisURL: cfg.Redis.URL,
		Logger:   c.base.logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to connect task queue: " + err.Error())
		return 1
	}
	defer client.Close()

	// Ingest only stores and enqueues; extraction happens in the worker.
	p, err := pipeline.New(pipeline.Config{
		DB:           db,
		Store:        store,
		Queue:        client,
		Events:       events,
		Extractor:    extract.NewExtractor(extract.Config{Logger: c.base.logger}),
		Activity:     activity.NewRecorder(db, c.base.logger),
		ChunkSize:    cfg.Embedding.ChunkSize,
		ChunkOverlap: cfg.Embedding.ChunkOverlap,
		Logger:       c.base.logger,
	})
	if err != nil {
		c.base.ui.Error("Failed to build pipeline: " + err.Error())
		return 1
	}

	reconciler := ingest.NewReconciler(ingest.ReconcilerConfig{
		DB:       db,
		Pipeline: p,
		Interval: cfg.IngestInterval,
		Logger:   c.base.logger,
	})

	c.base.ui.Output("Ingest reconciler started")
	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.base.ui.Error("Reconciler stopped with error: " + err.Error())
		return 1
	}
	return 0
}
