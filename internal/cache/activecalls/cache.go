// Package activecalls tracks how many calls are currently in flight against
// the carrier and how many slots the current tick has claimed, so the
// scheduler stays under MAX_ACTIVE_CALLS. The scheduler still asks the
// carrier for its active-call count on every tick and writes it here.
package activecalls

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	activeCountKey = "outbound:active_calls:count"
	claimedCountKey = "outbound:active_calls:claimed"
)

// Cache is a short-TTL mirror of the carrier's active-call count plus an
// optimistic counter of slots claimed by this tick before the carrier has
// confirmed them. The two are tracked under separate keys so that refreshing
// one never clobbers the other.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Cache. ttl bounds how long a count written by Set stays
// readable through Get before it expires.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached active-call count and whether it was present. A nil
// Cache (Redis disabled) always reports a cache miss rather than panicking,
// matching the ambient-service-degradation policy.
func (c *Cache) Get(ctx context.Context) (int, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}
	val, err := c.client.Get(ctx, activeCountKey).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("activecalls cache: get: %w", err)
	}
	return val, true, nil
}

// Set overwrites the cached count with a freshly-fetched carrier value. A nil
// Cache no-ops.
func (c *Cache) Set(ctx context.Context, count int) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, activeCountKey, count, c.ttl).Err(); err != nil {
		return fmt.Errorf("activecalls cache: set: %w", err)
	}
	return nil
}

// ClaimSlot atomically reserves one slot against limit if fewer than limit
// have already been claimed this cache window, mirroring the teacher's
// Lua INCR/PEXPIRE concurrency-limiter pattern. A nil Cache always grants the
// claim: with no Redis to coordinate across replicas, the carrier's own
// ActiveCallCount query (§4.4 step 1) remains the sole cap enforcement.
func (c *Cache) ClaimSlot(ctx context.Context, limit int) (bool, error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	if limit <= 0 {
		return true, nil
	}

	script := redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

	res, err := script.Run(ctx, c.client, []string{claimedCountKey}, limit, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("activecalls cache: claim slot: %w", err)
	}
	return res == 1, nil
}

// ReleaseSlot frees a previously claimed slot, e.g. when initiation fails
// before the carrier ever accepted the call. A nil Cache no-ops.
func (c *Cache) ReleaseSlot(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	script := redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)
	if _, err := script.Run(ctx, c.client, []string{claimedCountKey}).Int(); err != nil {
		return fmt.Errorf("activecalls cache: release slot: %w", err)
	}
	return nil
}
