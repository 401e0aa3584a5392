package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stripe retries webhook delivery for up to three days, so processed-event
// marks must outlive the retry window.
const eventMarkTTL = 96 * time.Hour

// Cache wraps Redis for webhook event deduplication and per-user rate
// limit counters. Quota state itself is never cached here: the database
// row is the single source of truth for usage accounting.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Webhook Event Deduplication

// SeenEvent reports whether a webhook event id has already been processed
func (c *Cache) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	key := fmt.Sprintf("billing:event:%s", eventID)
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event mark: %w", err)
	}
	return result > 0, nil
}

// MarkEventProcessed records a webhook event id so replays can be skipped
func (c *Cache) MarkEventProcessed(ctx context.Context, eventID string) error {
	key := fmt.Sprintf("billing:event:%s", eventID)
	return c.client.Set(ctx, key, "1", eventMarkTTL).Err()
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
