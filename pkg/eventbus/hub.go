package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

// HubConfig configures the fan-out hub.
type HubConfig struct {
	RedisURL string
	Client   *redis.Client
	Logger   hclog.Logger

	// ClientBuffer is the per-subscriber channel depth. A subscriber
	// whose buffer is full is considered dead and dropped.
	ClientBuffer int
}

// Hub subscribes to the broadcast channel and forwards every received
// message to all registered live clients. One hub runs per process.
type Hub struct {
	rdb    *redis.Client
	logger hclog.Logger
	buffer int

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewHub creates a fan-out hub.
func NewHub(cfg HubConfig) (*Hub, error) {
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
	buffer := cfg.ClientBuffer
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		rdb:     rdb,
		logger:  logger.Named("event-hub"),
		buffer:  buffer,
		clients: make(map[chan []byte]struct{}),
	}, nil
}

// Register adds a live client and returns its receive channel.
func (h *Hub) Register() chan []byte {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unregister removes a client and closes its channel.
func (h *Hub) Unregister(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast forwards one message to every client, dropping clients that
// cannot keep up.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
			delete(h.clients, ch)
			close(ch)
			h.logger.Debug("dropped slow event client")
		}
	}
}

// Run subscribes to the broadcast channel and pumps messages until ctx
// is canceled, reconnecting with exponential backoff on subscription
// failure.
func (h *Hub) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever
	bo.MaxInterval = 30 * time.Second

	for {
		err := h.pump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := bo.NextBackOff()
		h.logger.Warn("event subscription lost, reconnecting",
			"error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (h *Hub) pump(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	// Force the subscription so connection errors surface here rather
	// than inside the channel loop.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	h.logger.Info("subscribed to event channel", "channel", Channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			h.Broadcast([]byte(msg.Payload))
		}
	}
}

// Close drops all clients and releases the Redis connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
	return h.rdb.Close()
}
