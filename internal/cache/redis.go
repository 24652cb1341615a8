package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/model"
)

// Redis is a two-tier cache: an in-process Memory front backed by a shared
// Redis keyspace, so separate crawler processes reuse each other's scrapes.
// Redis errors are logged and degrade to the memory tier.
type Redis struct {
	front  *Memory
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedis wraps client. A zero ttl keeps entries without expiry.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "listings:detail:"
	}
	return &Redis{front: NewMemory(), client: client, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key used for link.
func (c *Redis) Key(link string) string {
	h := sha256.Sum256([]byte(link))
	return c.prefix + hex.EncodeToString(h[:])
}

// Get checks the memory tier, then Redis. A Redis hit is promoted to memory.
func (c *Redis) Get(ctx context.Context, link string) (model.DetailFields, bool) {
	if fields, ok := c.front.Get(ctx, link); ok {
		return fields, true
	}

	raw, err := c.client.Get(ctx, c.Key(link)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("cache: redis get failed", zap.String("link", link), zap.Error(err))
		}
		return model.DetailFields{}, false
	}

	var fields model.DetailFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		zap.L().Warn("cache: decode redis entry", zap.String("link", link), zap.Error(err))
		return model.DetailFields{}, false
	}

	c.front.putIfAbsent(link, fields)
	return fields, true
}

// Put writes to memory and then SETNX in Redis so the first writer across
// processes wins. Failed scrapes stay in memory only so other runs retry them.
func (c *Redis) Put(ctx context.Context, link string, fields model.DetailFields) {
	if !c.front.putIfAbsent(link, fields) {
		return
	}
	if fields.HasError() {
		return
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		zap.L().Warn("cache: encode entry", zap.String("link", link), zap.Error(err))
		return
	}
	if err := c.client.SetNX(ctx, c.Key(link), payload, c.ttl).Err(); err != nil {
		zap.L().Warn("cache: redis setnx failed", zap.String("link", link), zap.Error(err))
	}
}

// Stats returns the memory tier's counters.
func (c *Redis) Stats() Stats {
	return c.front.Stats()
}
