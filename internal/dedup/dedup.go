// Package dedup claims Telegram update ids in Redis so repeated webhook
// deliveries are processed once.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL bounds how long a claim is remembered. Telegram stops retrying a
// delivery well within a day.
const DefaultTTL = 24 * time.Hour

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// newClient is overridable for tests.
var newClient = func(opts *redis.Options) redisClient {
	return redis.NewClient(opts)
}

// Claims records processed update ids per campaign.
type Claims struct {
	client redisClient
	ttl    time.Duration
}

// New connects to the Redis instance at url (redis:// or rediss://).
func New(url string) (*Claims, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &Claims{client: newClient(opts), ttl: DefaultTTL}, nil
}

// Claim marks the update as taken. It returns false when another delivery of
// the same update already holds the claim.
func (c *Claims) Claim(ctx context.Context, campaignID string, updateID int64) (bool, error) {
	if c == nil || c.client == nil {
		return false, errors.New("dedup claims are not initialized")
	}

	ok, err := c.client.SetNX(ctx, key(campaignID, updateID), time.Now().UTC().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim update: %w", err)
	}

	return ok, nil
}

// Release drops a claim so a retried delivery is processed again.
func (c *Claims) Release(ctx context.Context, campaignID string, updateID int64) error {
	if c == nil || c.client == nil {
		return errors.New("dedup claims are not initialized")
	}

	if err := c.client.Del(ctx, key(campaignID, updateID)).Err(); err != nil {
		return fmt.Errorf("release update: %w", err)
	}

	return nil
}

// Ping verifies Redis is reachable.
func (c *Claims) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("dedup claims are not initialized")
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	return nil
}

// Close releases the Redis connection pool.
func (c *Claims) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func key(campaignID string, updateID int64) string {
	return fmt.Sprintf("tgupdate:%s:%d", campaignID, updateID)
}
