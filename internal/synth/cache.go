package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheTTL = 24 * time.Hour

// Cache is a TTL cache over synthesis results, keyed by normalized
// (topic, count). A nil client disables caching; every cache failure is
// soft and only logged.
type Cache struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewCache constructs a Cache. The client may be nil to disable caching.
func NewCache(client redis.UniversalClient, prefix string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "synth"
	}
	return &Cache{client: client, prefix: prefix, logger: logger}
}

// Get returns the cached items for (topic, count), or nil on miss.
func (c *Cache) Get(ctx context.Context, topic string, count int) []Item {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := c.client.Get(ctx, c.key(topic, count)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("synthesis cache read failed", zap.Error(err))
		}
		return nil
	}
	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		c.logger.Warn("synthesis cache entry malformed", zap.Error(err))
		return nil
	}
	return items
}

// Put stores items for (topic, count) with a 24h TTL.
func (c *Cache) Put(ctx context.Context, topic string, count int, items []Item) {
	if c == nil || c.client == nil || len(items) == 0 {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		c.logger.Warn("synthesis cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(topic, count), raw, cacheTTL).Err(); err != nil {
		c.logger.Warn("synthesis cache write failed", zap.Error(err))
	}
}

func (c *Cache) key(topic string, count int) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, NormalizeTopic(topic), count)
}

// NormalizeTopic lowercases and collapses whitespace so equivalent spellings
// share one cache entry.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}
