package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TenantCache owns the Redis keys the web tier caches tenant records under.
type TenantCache struct {
	client *redis.Client
	prefix string
}

func NewTenantCache(client *redis.Client, prefix string) *TenantCache {
	if prefix == "" {
		prefix = "tenant:slug:"
	}
	return &TenantCache{client: client, prefix: prefix}
}

func (c *TenantCache) key(slug string) string {
	return c.prefix + slug
}

// Invalidate drops the cached records of the given slugs. Empty slugs are skipped.
func (c *TenantCache) Invalidate(ctx context.Context, slugs ...string) error {
	keys := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if s != "" {
			keys = append(keys, c.key(s))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate tenant cache: %w", err)
	}
	return nil
}
