// Package queue wraps the asynq task queue: task construction, the
// enqueue client, and the worker server. Tasks are at-least-once with
// JSON payloads and a 25-minute soft deadline inside a 30-minute
// shutdown budget.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"
)

// Task types driven by the pipeline.
const (
	TaskProcessDocument    = "process_document"
	TaskGenerateEmbeddings = "generate_embeddings"
	TaskExtractMetadata    = "extract_metadata"

	// TaskReprocessDocument is an alias of process_document used by the
	// retry API so the two show up separately in queue inspection.
	TaskReprocessDocument = "reprocess_document"
)

// Deadlines per task.
const (
	SoftTimeout    = 25 * time.Minute
	ShutdownBudget = 30 * time.Minute
)

// DocumentPayload is the JSON body of every pipeline task.
type DocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// NewDocumentTask builds a task carrying a document id.
func NewDocumentTask(taskType, documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentPayload{DocumentID: documentID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(taskType, payload), nil
}

// ParsePayload decodes a task's document payload.
func ParsePayload(t *asynq.Task) (DocumentPayload, error) {
	var p DocumentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.DocumentID == "" {
		return p, fmt.Errorf("task payload missing document_id")
	}
	return p, nil
}

// ClientConfig configures the enqueue client.
type ClientConfig struct {
	RedisURL string
	Logger   hclog.Logger
}

// Client enqueues pipeline tasks.
type Client struct {
	inner  *asynq.Client
	logger hclog.Logger
}

// NewClient creates an enqueue client from a Redis URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Client{
		inner:  asynq.NewClient(opt),
		logger: logger.Named("queue"),
	}, nil
}

// Enqueue submits a document task with the standard deadline options.
func (c *Client) Enqueue(ctx context.Context, taskType, documentID string) error {
	task, err := NewDocumentTask(taskType, documentID)
	if err != nil {
		return err
	}
	info, err := c.inner.EnqueueContext(ctx, task,
		asynq.Timeout(SoftTimeout),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	c.logger.Debug("enqueued task",
		"type", taskType, "document_id", documentID, "task_id", info.ID)
	return nil
}

// Close releases the client's Redis connections.
func (c *Client) Close() error {
	return c.inner.Close()
}

// ServerConfig configures the worker server.
type ServerConfig struct {
	RedisURL    string
	Concurrency int
	Logger      hclog.Logger
}

// NewServer creates the asynq worker server. The caller registers
// handlers on a ServeMux and calls Run.
func NewServer(cfg ServerConfig) (*asynq.Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     concurrency,
		ShutdownTimeout: ShutdownBudget - SoftTimeout,
		Logger:          &asynqHclogAdapter{logger: logger.Named("asynq")},
	}), nil
}

// asynqHclogAdapter bridges asynq's logger interface onto hclog.
type asynqHclogAdapter struct {
	logger hclog.Logger
}

func (a *asynqHclogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *asynqHclogAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a *asynqHclogAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *asynqHclogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
func (a *asynqHclogAdapter) Fatal(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
