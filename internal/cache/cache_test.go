package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if cache == nil {
		t.Fatal("Cache should not be nil")
	}

	// Test ping
	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCache_EventDedup(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	eventID := "evt_1NirD82eZvKYlo2CIvbtLWuY"

	// Unseen event
	seen, err := cache.SeenEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("SeenEvent failed: %v", err)
	}
	if seen {
		t.Error("Event should not be seen before marking")
	}

	// Mark and check again
	if err := cache.MarkEventProcessed(ctx, eventID); err != nil {
		t.Fatalf("MarkEventProcessed failed: %v", err)
	}

	seen, err = cache.SeenEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("SeenEvent failed: %v", err)
	}
	if !seen {
		t.Error("Event should be seen after marking")
	}

	// Marks must not hang around forever
	if ttl := mr.TTL("billing:event:" + eventID); ttl <= 0 {
		t.Error("Event mark should carry a TTL")
	}
}

func TestCache_EventDedupExpiry(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	eventID := "evt_expiring"

	if err := cache.MarkEventProcessed(ctx, eventID); err != nil {
		t.Fatalf("MarkEventProcessed failed: %v", err)
	}

	mr.FastForward(eventMarkTTL + time.Minute)

	seen, err := cache.SeenEvent(ctx, eventID)
	if err != nil {
		t.Fatalf("SeenEvent failed: %v", err)
	}
	if seen {
		t.Error("Expired event mark should not count as seen")
	}
}

func TestCache_RateLimit(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	key := "user:123"
	limit := int64(5)
	window := 1 * time.Minute

	// Should allow first 5 requests
	for i := 0; i < 5; i++ {
		allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}

		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// Should deny 6th request
	allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}

	if allowed {
		t.Error("Request beyond limit should be denied")
	}
}

func TestCache_RateLimitWindowReset(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	key := "user:456"
	limit := int64(1)
	window := 1 * time.Minute

	if allowed, _ := cache.CheckRateLimit(ctx, key, limit, window); !allowed {
		t.Fatal("First request should be allowed")
	}
	if allowed, _ := cache.CheckRateLimit(ctx, key, limit, window); allowed {
		t.Fatal("Second request should be denied")
	}

	mr.FastForward(window + time.Second)

	if allowed, _ := cache.CheckRateLimit(ctx, key, limit, window); !allowed {
		t.Error("Request after window reset should be allowed")
	}
}
