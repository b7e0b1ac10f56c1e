package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// localTTL bounds how long a read is served from the client-side cache.
// The server invalidates tracked keys on write, so this only caps the
// lifetime of entries whose invalidation message was lost.
const localTTL = 30 * time.Second

// Cache implements ports.CacheService on Valkey. It holds the per-entity
// date index and the reverse-geocode memo. Reads go through valkey-go's
// server-assisted client-side cache.
type Cache struct {
	client valkey.Client
}

// New connects to the Valkey server at addr.
func New(addr string) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{addr},
		ConnWriteTimeout:  3 * time.Second,
		CacheSizeEachConn: 8 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect %s: %w", addr, err)
	}
	return &Cache{client: client}, nil
}

// Get returns the value stored at key. A missing key yields an error for
// which IsMiss reports true.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.DoCache(ctx, c.client.B().Get().Key(key).Cache(), localTTL).AsBytes()
}

// Set stores value under key for ttlSeconds. A non-positive TTL stores
// the key without expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	set := c.client.B().Set().Key(key).Value(valkey.BinaryString(value))
	if ttlSeconds <= 0 {
		return c.client.Do(ctx, set.Build()).Error()
	}
	return c.client.Do(ctx, set.Ex(time.Duration(ttlSeconds)*time.Second).Build()).Error()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

// Ping is used by the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

// IsMiss reports whether err means the key does not exist.
func IsMiss(err error) bool {
	return valkey.IsValkeyNil(err)
}

func (c *Cache) Close() {
	c.client.Close()
}
