package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCooldown tracks alert cooldown windows in process memory.
type MemoryCooldown struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{expires: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether key is outside its window and, if so, opens a new one.
func (c *MemoryCooldown) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, ok := c.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	c.expires[key] = now.Add(window)

	// Drop expired keys so the map does not grow with every user ever alerted.
	for k, until := range c.expires {
		if !now.Before(until) {
			delete(c.expires, k)
		}
	}
	return true, nil
}

func (c *MemoryCooldown) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expires, key)
	return nil
}

// RedisCooldown keeps cooldown windows as expiring redis keys, so several
// instances share them.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

func NewRedisCooldown(client *redis.Client) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: "alert-cooldown:"}
}

func (c *RedisCooldown) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (c *RedisCooldown) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
