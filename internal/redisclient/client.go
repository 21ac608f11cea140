package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/hold_spot.lua
var holdSpotScript string

//go:embed scripts/release_key.lua
var releaseKeyScript string

type Client struct {
	rdb           *redis.Client
	holdScript    *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		holdScript:    redis.NewScript(holdSpotScript),
		releaseScript: redis.NewScript(releaseKeyScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func spotHoldKey(spotID string) string {
	return fmt.Sprintf("spot-hold:%s", spotID)
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

// HoldSpot atomically claims a short-lived hold on a spot for userID.
// Returns false if another user already holds it. Re-holding by the same
// user refreshes the TTL.
func (c *Client) HoldSpot(ctx context.Context, spotID, userID string, ttl time.Duration) (bool, error) {
	result, err := c.holdScript.Run(ctx, c.rdb, []string{spotHoldKey(spotID)}, userID, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("hold spot script failed: %w", err)
	}

	success, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return success == 1, nil
}

// ReleaseSpot drops userID's hold on a spot, leaving other holders alone.
func (c *Client) ReleaseSpot(ctx context.Context, spotID, userID string) error {
	if _, err := c.releaseScript.Run(ctx, c.rdb, []string{spotHoldKey(spotID)}, userID).Result(); err != nil {
		return fmt.Errorf("release spot script failed: %w", err)
	}
	return nil
}

// AcquireLock acquires a distributed lock owned by owner
func (c *Client) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockKey(name), owner, ttl).Result()
}

// ReleaseLock releases a distributed lock if owner still holds it
func (c *Client) ReleaseLock(ctx context.Context, name, owner string) error {
	if _, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(name)}, owner).Result(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
