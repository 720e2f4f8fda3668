package storage

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/redis"
)

// RedisHashCache keeps archived content hashes in Redis so repeated runs
// can report payloads they have already stored as cached duplicates.
type RedisHashCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisHashCache(client *redis.Client, prefix string, ttl time.Duration) *RedisHashCache {
	return &RedisHashCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisHashCache) Seen(ctx context.Context, hash string) (bool, error) {
	return c.client.Exists(ctx, c.prefix+hash)
}

func (c *RedisHashCache) Remember(ctx context.Context, hashes []string) error {
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = c.prefix + h
	}
	return c.client.SetMany(ctx, keys, c.ttl)
}
