package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
	"go.uber.org/zap"
)

const keySnapshot = "pagequota:subscription:snapshot:%s"

type redisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisSnapshotCache shares snapshot reads across instances. Redis
// failures degrade to cache misses.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration, log *zap.Logger) SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisSnapshotCache{
		client: client,
		ttl:    ttl,
		log:    log.Named("cache.snapshot"),
	}
}

func (c *redisSnapshotCache) GetSnapshot(ctx context.Context, userID string) (*subscriptiondomain.Snapshot, bool) {
	raw, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("snapshot cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var snapshot *subscriptiondomain.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		c.log.Warn("snapshot cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return snapshot, true
}

func (c *redisSnapshotCache) SetSnapshot(ctx context.Context, userID string, snapshot *subscriptiondomain.Snapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		c.log.Warn("snapshot cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, snapshotKey(userID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("snapshot cache write failed", zap.Error(err))
	}
}

func (c *redisSnapshotCache) DeleteSnapshot(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, snapshotKey(userID)).Err(); err != nil {
		c.log.Warn("snapshot cache delete failed", zap.Error(err))
	}
}

func snapshotKey(userID string) string {
	return fmt.Sprintf(keySnapshot, cacheKey(userID))
}
