package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pagequota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewSnapshotCache),
)

// NewSnapshotCache picks the snapshot cache backend from CACHE_DRIVER.
func NewSnapshotCache(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (SnapshotCache, error) {
	ttl := time.Duration(cfg.Cache.SnapshotTTLSeconds) * time.Second

	if cfg.Cache.Driver != config.CacheDriverRedis {
		return NewMemorySnapshotCache(cfg.Cache.SnapshotMaxEntries, ttl), nil
	}
	if cfg.Cache.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required when CACHE_DRIVER=redis")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable at startup, snapshot cache will miss", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisSnapshotCache(client, ttl, log), nil
}
