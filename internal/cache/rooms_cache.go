// Package cache holds the Redis-backed cache for the public room
// directory. The lobby polls the listing every few seconds per client,
// so the listing is served from a short-TTL cache instead of hitting
// Postgres on every poll.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomsKey = "collab:rooms:public"

type RoomsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wires a rooms cache over client. The TTL should stay below the
// lobby poll interval so clients never see a listing older than two
// polls.
func New(client *redis.Client, ttl time.Duration) *RoomsCache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &RoomsCache{client: client, ttl: ttl}
}

// Get loads the cached listing into dest. The second return is false on
// a cache miss.
func (c *RoomsCache) Get(ctx context.Context, dest any) (bool, error) {
	data, err := c.client.Get(ctx, roomsKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("rooms cache get: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("rooms cache unmarshal: %w", err)
	}
	return true, nil
}

func (c *RoomsCache) Set(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rooms cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, roomsKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("rooms cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached listing, used after create/delete so a
// new room shows up without waiting for the TTL.
func (c *RoomsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, roomsKey).Err(); err != nil {
		return fmt.Errorf("rooms cache del: %w", err)
	}
	return nil
}

func (c *RoomsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
