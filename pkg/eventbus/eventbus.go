// Package eventbus publishes document lifecycle events to a single
// Redis broadcast channel and fans them out to live subscribers.
// Delivery is best-effort at-most-once; consumers tolerate loss and
// resubscribe idempotently.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

// Channel is the single broadcast topic all events go through.
const Channel = "cartulary:events"

// Event types produced by the pipeline and ingest sources.
const (
	TypeDocumentCreated = "document.created"
	TypeDocumentUpdated = "document.updated"
	TypeDocumentDeleted = "document.deleted"
	TypeStatusChanged   = "document.status_changed"
)

// Event is the wire shape on the broadcast channel.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp string                 `json:"timestamp"`
}

// DocumentEventData is the payload of created/updated/deleted events.
type DocumentEventData struct {
	DocumentID string `mapstructure:"document_id"`
	UserID     string `mapstructure:"user_id"`
}

// StatusChangedData is the payload of status_changed events.
type StatusChangedData struct {
	DocumentID string `mapstructure:"document_id"`
	OldStatus  string `mapstructure:"old_status"`
	NewStatus  string `mapstructure:"new_status"`
}

// DecodeData fills a typed payload struct from an event's data map.
func DecodeData(evt Event, out interface{}) error {
	if err := mapstructure.Decode(evt.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s event data: %w", evt.Type, err)
	}
	return nil
}

// PublisherConfig configures an event publisher.
type PublisherConfig struct {
	// RedisURL is parsed with redis.ParseURL. Ignored when Client is set.
	RedisURL string

	// Client overrides the Redis client, for tests.
	Client *redis.Client

	// Logger for publish failures. Defaults to a null logger.
	Logger hclog.Logger
}

// Publisher emits typed events onto the broadcast channel.
type Publisher struct {
	rdb    *redis.Client
	logger hclog.Logger
}

// NewPublisher creates an event publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	rdb := cfg.Client
	if rdb == nil {
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis URL is required")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		rdb = redis.NewClient(opts)
	}
	return &Publisher{
		rdb:    rdb,
		logger: logger.Named("eventbus"),
	}, nil
}

// Publish emits one event. Failures are logged, not fatal: the bus is
// best-effort and must never break the pipeline.
func (p *Publisher) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	evt := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal event", "type", eventType, "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}

// DocumentCreated announces a new document.
func (p *Publisher) DocumentCreated(ctx context.Context, documentID, userID string) {
	p.Publish(ctx, TypeDocumentCreated, map[string]interface{}{
		"document_id": documentID,
		"user_id":     userID,
	})
}

// DocumentUpdated announces a metadata change.
func (p *Publisher) DocumentUpdated(ctx context.Context, documentID, userID string) {
	p.Publish(ctx, TypeDocumentUpdated, map[string]interface{}{
		"document_id": documentID,
		"user_id":     userID,
	})
}

// DocumentDeleted announces a removal.
func (p *Publisher) DocumentDeleted(ctx context.Context, documentID, userID string) {
	p.Publish(ctx, TypeDocumentDeleted, map[string]interface{}{
		"document_id": documentID,
		"user_id":     userID,
	})
}

// StatusChanged announces a pipeline transition.
func (p *Publisher) StatusChanged(ctx context.Context, documentID, oldStatus, newStatus string) {
	p.Publish(ctx, TypeStatusChanged, map[string]interface{}{
		"document_id": documentID,
		"old_status":  oldStatus,
		"new_status":  newStatus,
	})
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
