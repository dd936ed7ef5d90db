package fallback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheSource marks where a Cache.Lookup value came from (spec.md §4.8:
// "returns (value, source) where source marks Primary or Fallback(Cache)").
type CacheSource int

const (
	CachePrimary CacheSource = iota
	CacheFallback
	CacheMiss
)

// Cache is a keyed TTL cache backed by Redis, with an optional max_stale
// grace period during which an expired entry may still serve as a
// fallback value (spec.md §4.8).
type Cache struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration
	maxStale time.Duration
}

type entry struct {
	Value   json.RawMessage `json:"value"`
	StoredAt time.Time      `json:"stored_at"`
}

// NewCache constructs a Cache. maxStale <= 0 disables stale reads.
func NewCache(rdb *redis.Client, keyPrefix string, ttl, maxStale time.Duration) *Cache {
	return &Cache{rdb: rdb, prefix: keyPrefix, ttl: ttl, maxStale: maxStale}
}

func (c *Cache) key(k string) string { return c.prefix + ":" + k }

// Put writes a fresh primary value, overwriting any existing fallback
// entry (spec.md §4.8 "Writes from primary overwrite fallback entries").
func (c *Cache) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	e := entry{Value: raw, StoredAt: time.Now()}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	expiry := c.ttl + c.maxStale
	return c.rdb.Set(ctx, c.key(key), payload, expiry).Err()
}

// Lookup fetches a value. A hit within TTL reports CachePrimary; a hit
// within the TTL+max_stale grace window reports CacheFallback; anything
// else reports CacheMiss.
func (c *Cache) Lookup(ctx context.Context, key string, out any) (CacheSource, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return CacheMiss, nil
	}
	if err != nil {
		return CacheMiss, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return CacheMiss, err
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		return CacheMiss, err
	}

	age := time.Since(e.StoredAt)
	if age <= c.ttl {
		return CachePrimary, nil
	}
	if c.maxStale > 0 && age <= c.ttl+c.maxStale {
		return CacheFallback, nil
	}
	return CacheMiss, nil
}
