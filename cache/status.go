// Package cache holds the redis-backed agreement status cache. Status reads
// tolerate short staleness; every mutating sign call invalidates the entry so
// follow-up polls observe the transition.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"rentsign/agreement"
)

// DefaultTTL keeps entries short-lived; the cache only absorbs poll bursts.
const DefaultTTL = 30 * time.Second

// StatusCache caches agreement views keyed by booking id. A nil client
// disables the cache entirely: every lookup misses and writes are dropped, so
// the service degrades gracefully when redis is not configured or down.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StatusCache{client: client, ttl: ttl}
}

// NewClient connects to redis and verifies the connection. Returns nil on
// failure so callers degrade instead of refusing to start.
func NewClient(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}

// Get returns the cached view for a booking, if any. Errors count as misses.
func (c *StatusCache) Get(ctx context.Context, bookingID string) (agreement.View, bool) {
	if c == nil || c.client == nil {
		return agreement.View{}, false
	}

	raw, err := c.client.Get(ctx, key(bookingID)).Bytes()
	if err != nil {
		return agreement.View{}, false
	}

	var view agreement.View
	if err := json.Unmarshal(raw, &view); err != nil {
		return agreement.View{}, false
	}
	return view, true
}

// Set stores the view under the configured TTL. Failures are dropped.
func (c *StatusCache) Set(ctx context.Context, view agreement.View) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key(view.BookingID), raw, c.ttl).Err()
}

// Invalidate drops the cached view after a mutating call.
func (c *StatusCache) Invalidate(ctx context.Context, bookingID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, key(bookingID)).Err()
}

func key(bookingID string) string {
	return "agreement:status:" + bookingID
}
