// Package statetoken issues short-lived one-shot tokens backed by
// Redis. A token is consumed atomically with GETDEL, so it can be
// redeemed at most once even under concurrent requests.
package statetoken

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/cartulary/cartulary/pkg/cartuerr"
)

const keyPrefix = "cartulary:statetoken:"

// DefaultTTL bounds how long an issued token stays redeemable.
const DefaultTTL = 5 * time.Minute

// Commands is the slice of the Redis API the issuer needs. Satisfied
// by *redis.Client.
type Commands interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// Issuer creates and redeems one-shot tokens.
type Issuer struct {
	rdb    Commands
	logger hclog.Logger
}

// NewIssuer creates a token issuer on an existing Redis client.
func NewIssuer(rdb Commands, logger hclog.Logger) *Issuer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Issuer{
		rdb:    rdb,
		logger: logger.Named("statetoken"),
	}
}

// Issue stores a fresh token with the given payload and TTL and returns
// the token. A non-positive ttl falls back to DefaultTTL.
func (i *Issuer) Issue(ctx context.Context, payload string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := uuid.NewString()
	if err := i.rdb.Set(ctx, keyPrefix+token, payload, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// Consume redeems a token and returns its payload. The token is
// deleted in the same round trip; a second redemption, or an expired
// token, reports cartuerr.ErrNotFound.
func (i *Issuer) Consume(ctx context.Context, token string) (string, error) {
	payload, err := i.rdb.GetDel(ctx, keyPrefix+token).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("token %s: %w", token, cartuerr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume token: %w", err)
	}
	i.logger.Debug("token consumed", "token", token)
	return payload, nil
}
